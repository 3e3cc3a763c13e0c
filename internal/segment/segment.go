// Package segment splits a batched payslip PDF into per-employee fragments.
// Every source page becomes a standalone document; a page carrying two slips
// is halved into a top and a bottom segment, each cropped to its half.
package segment

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
)

// Region is the part of a page a segment covers.
type Region int

const (
	RegionFull Region = iota
	RegionTop
	RegionBottom
)

func (r Region) String() string {
	switch r {
	case RegionTop:
		return "top"
	case RegionBottom:
		return "bottom"
	default:
		return "full"
	}
}

// MinTextLen is the extracted text length below which a page is considered to
// carry no usable text layer.
const MinTextLen = 50

// Layout selects how pages are mapped to segments.
type Layout string

const (
	// LayoutAuto halves a page only when the two-up detector says so.
	LayoutAuto Layout = "auto"
	// LayoutSingle maps every page to one segment.
	LayoutSingle Layout = "single"
	// LayoutTwoUp halves every page.
	LayoutTwoUp Layout = "twoup"
)

// ParseLayout validates a layout name. The empty string means LayoutAuto.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LayoutAuto, nil
	case LayoutAuto, LayoutSingle, LayoutTwoUp:
		return l, nil
	default:
		return "", fmt.Errorf("unknown layout %q (want auto, single or twoup)", s)
	}
}

// Page is one page of the source document.
type Page struct {
	Number int
	PDF    []byte
	Text   string
}

// Segment is a contiguous fragment believed to be one employee's slip.
type Segment struct {
	Page   int    `json:"page"`
	Region Region `json:"region"`
	Text   string `json:"-"`
	PDF    []byte `json:"-"`
	// Sparse marks a segment whose page had too little text to identify
	// anyone. It is kept for reporting but yields no candidates.
	Sparse bool `json:"sparse,omitempty"`
}

// ValidationError reports input that is not a usable PDF.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid document: %s: %v", e.Reason, e.Err)
	}
	return "invalid document: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

var pdfSignature = []byte("%PDF-")

// HasSignature reports whether b starts with the PDF header.
func HasSignature(b []byte) bool {
	return bytes.HasPrefix(b, pdfSignature)
}

// Splitter turns an uploaded document into segments.
type Splitter struct {
	logger  log.Logger
	layout  Layout
	twoUp   func(pageText string) bool
	tempDir string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithLayout sets the page layout. The default is LayoutAuto.
func WithLayout(l Layout) Option {
	return func(s *Splitter) { s.layout = l }
}

// WithTwoUpDetector sets the function consulted in LayoutAuto to decide
// whether a page carries two slips.
func WithTwoUpDetector(fn func(pageText string) bool) Option {
	return func(s *Splitter) { s.twoUp = fn }
}

// WithTempDir sets the parent directory for per-call scratch files.
func WithTempDir(dir string) Option {
	return func(s *Splitter) { s.tempDir = dir }
}

// New creates a Splitter.
func New(logger log.Logger, opts ...Option) *Splitter {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Splitter{logger: logger, layout: LayoutAuto}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Layout returns the configured layout.
func (s *Splitter) Layout() Layout { return s.layout }

// Segment splits doc into pages and pages into segments, in page order with
// the top half before the bottom half.
func (s *Splitter) Segment(ctx context.Context, doc []byte) ([]Segment, error) {
	pages, err := s.SplitPages(ctx, doc)
	if err != nil {
		return nil, err
	}

	var out []Segment
	for _, p := range pages {
		sparse := utf8.RuneCountInString(strings.TrimSpace(p.Text)) < MinTextLen
		if sparse {
			s.logger.Warn(ctx, "page has too little text to identify a recipient",
				"page", p.Number, "chars", utf8.RuneCountInString(strings.TrimSpace(p.Text)))
		}

		if !s.isTwoUp(p.Text, sparse) {
			out = append(out, Segment{Page: p.Number, Region: RegionFull, Text: p.Text, PDF: p.PDF, Sparse: sparse})
			continue
		}

		if sparse {
			out = append(out,
				Segment{Page: p.Number, Region: RegionTop, Text: p.Text, Sparse: true},
				Segment{Page: p.Number, Region: RegionBottom, Text: p.Text, Sparse: true},
			)
			continue
		}

		topText, bottomText := HalveText(p.Text)
		for _, half := range []struct {
			region Region
			text   string
		}{{RegionTop, topText}, {RegionBottom, bottomText}} {
			cropped, err := CropToHalf(p.PDF, half.region)
			if err != nil {
				return nil, fmt.Errorf("crop page %d %s: %w", p.Number, half.region, err)
			}
			out = append(out, Segment{Page: p.Number, Region: half.region, Text: half.text, PDF: cropped})
		}
	}
	return out, nil
}

func (s *Splitter) isTwoUp(text string, sparse bool) bool {
	switch s.layout {
	case LayoutTwoUp:
		return true
	case LayoutSingle:
		return false
	default:
		return !sparse && s.twoUp != nil && s.twoUp(text)
	}
}

// HalveText splits text at the midpoint of its non-empty lines. With an odd
// line count the extra line goes to the bottom half.
func HalveText(text string) (top, bottom string) {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	mid := len(lines) / 2
	return strings.Join(lines[:mid], "\n"), strings.Join(lines[mid:], "\n")
}
