package payslip

import (
	"context"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/identity"
	"github.com/linnemanlabs/payslipd/internal/roster"
	"github.com/linnemanlabs/payslipd/internal/segment"
)

// TwoUpDetector reports a page as carrying two slips when it holds two
// distinct tax ids, or when each half of its text yields a different name.
func TwoUpDetector(x *identity.Extractor) func(pageText string) bool {
	return func(pageText string) bool {
		if _, _, ok := identity.SplitTaxIDs(pageText); ok {
			return true
		}
		topText, bottomText := segment.HalveText(pageText)
		top, bottom := x.Names(topText), x.Names(bottomText)
		if len(top) == 0 || len(bottom) == 0 {
			return false
		}
		return identity.Normalize(top[0]) != identity.Normalize(bottom[0])
	}
}

// group is every segment resolved to one roster entry.
type group struct {
	entry roster.Entry
	docs  [][]byte
}

type resolution struct {
	stats     Stats
	unmatched []Unmatched
	groups    []*group
}

func (s *Service) resolve(ctx context.Context, L log.Logger, r *identity.Resolver, segs []segment.Segment) *resolution {
	res := &resolution{stats: Stats{Segments: len(segs), ByMethod: make(map[string]int)}}
	byEntry := make(map[string]*group)
	pages := make(map[int]struct{})
	halves := pairTaxIDs(segs)

	for i, sg := range segs {
		pages[sg.Page] = struct{}{}

		if sg.Sparse {
			res.stats.Sparse++
			res.unmatched = append(res.unmatched, Unmatched{Page: sg.Page, Region: sg.Region.String(), Reason: reasonSparse})
			continue
		}

		cands := s.extractor.Extract(sg.Text)
		if id, ok := halves[i]; ok {
			cands = prepend(cands, identity.Candidate{Token: id, Mode: identity.ModeTaxID})
		}
		if len(cands) == 0 {
			res.stats.ExtractionFailures++
			res.unmatched = append(res.unmatched, Unmatched{Page: sg.Page, Region: sg.Region.String(), Reason: reasonNoCandidate})
			L.Warn(ctx, "no identity candidates in segment", "page", sg.Page, "region", sg.Region.String())
			continue
		}

		m := r.ResolveSegment(cands, sg.Text)
		if !m.Matched() {
			res.stats.ResolutionFailures++
			res.unmatched = append(res.unmatched, Unmatched{
				Page:       sg.Page,
				Region:     sg.Region.String(),
				Reason:     reasonNoMatch,
				Candidates: tokens(cands),
			})
			L.Warn(ctx, "segment did not match the roster", "page", sg.Page, "region", sg.Region.String(), "candidates", len(cands))
			continue
		}

		res.stats.Matched++
		res.stats.ByMethod[m.Method.String()]++
		key := entryKey(m.Entry)
		g, ok := byEntry[key]
		if !ok {
			g = &group{entry: *m.Entry}
			byEntry[key] = g
			res.groups = append(res.groups, g)
		}
		g.docs = append(g.docs, sg.PDF)
	}
	res.stats.Pages = len(pages)
	return res
}

// pairTaxIDs maps the index of each half of a two-up page to the tax id found
// at the same position on the whole page.
func pairTaxIDs(segs []segment.Segment) map[int]string {
	out := make(map[int]string)
	for i := 0; i+1 < len(segs); i++ {
		top, bottom := segs[i], segs[i+1]
		if top.Region != segment.RegionTop || bottom.Region != segment.RegionBottom || top.Page != bottom.Page {
			continue
		}
		if a, b, ok := identity.SplitTaxIDs(top.Text + "\n" + bottom.Text); ok {
			out[i], out[i+1] = a, b
		}
		i++
	}
	return out
}

func prepend(cands []identity.Candidate, c identity.Candidate) []identity.Candidate {
	out := make([]identity.Candidate, 0, len(cands)+1)
	out = append(out, c)
	for _, x := range cands {
		if x != c {
			out = append(out, x)
		}
	}
	return out
}

func tokens(cands []identity.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Token
	}
	return out
}

func entryKey(e *roster.Entry) string {
	if e.ID != "" {
		return e.ID
	}
	return strings.ToLower(e.Email) + "|" + identity.Normalize(e.FullName)
}

// buildItems merges each group's fragments into one document per recipient,
// keeping first-appearance order.
func buildItems(groups []*group) ([]dispatch.Item, error) {
	items := make([]dispatch.Item, 0, len(groups))
	for _, g := range groups {
		doc, err := segment.Merge(g.docs)
		if err != nil {
			return nil, err
		}
		items = append(items, dispatch.Item{Entry: g.entry, PDF: doc, Filename: Filename(g.entry.FullName)})
	}
	return items, nil
}

// Filename is the attachment name used for name's document.
func Filename(name string) string {
	n := strings.Join(strings.Fields(identity.Normalize(name)), "_")
	if n == "" {
		return dispatch.DefaultFilename
	}
	return "holerite_" + n + ".pdf"
}
