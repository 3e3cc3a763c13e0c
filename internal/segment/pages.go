package segment

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// keep pdfcpu from creating a config directory in the user's home
	api.DisableConfigDir()
}

func relaxedConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// SplitPages copies every page of doc into a standalone single-page document
// and extracts its text. Pages come back in source order, numbered from 1.
func (s *Splitter) SplitPages(ctx context.Context, doc []byte) ([]Page, error) {
	if !HasSignature(doc) {
		return nil, &ValidationError{Reason: "missing %PDF- signature"}
	}

	dir, err := os.MkdirTemp(s.tempDir, "payslipd-split-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	source := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(source, doc, 0o600); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	optimized := filepath.Join(dir, "optimized.pdf")
	if err := api.OptimizeFile(source, optimized, relaxedConfig()); err != nil {
		return nil, &ValidationError{Reason: "unreadable document", Err: err}
	}
	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return nil, &ValidationError{Reason: "cannot count pages", Err: err}
	}
	if pageCount == 0 {
		return nil, &ValidationError{Reason: "document has no pages"}
	}
	if err := api.SplitFile(optimized, dir, 1, relaxedConfig()); err != nil {
		return nil, fmt.Errorf("split pages: %w", err)
	}

	texts, err := pageTexts(doc)
	if err != nil {
		// a broken text layer leaves every page sparse rather than failing the run
		s.logger.Warn(ctx, "text extraction failed", "error", err)
		texts = nil
	}

	base := strings.TrimSuffix(optimized, filepath.Ext(optimized))
	pages := make([]Page, 0, pageCount)
	for n := 1; n <= pageCount; n++ {
		b, err := os.ReadFile(fmt.Sprintf("%s_%d.pdf", base, n))
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", n, err)
		}
		p := Page{Number: n, PDF: b}
		if n-1 < len(texts) {
			p.Text = texts[n-1]
		}
		pages = append(pages, p)
	}
	return pages, nil
}

// pageTexts reads the text layer of every page, one line per text row, rows
// ordered top to bottom.
func pageTexts(doc []byte) (texts []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf text layer: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return nil, fmt.Errorf("open text layer: %w", err)
	}

	n := reader.NumPage()
	texts = make([]string, n)
	for i := 1; i <= n; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			if line := joinRow(row.Content); line != "" {
				lines = append(lines, line)
			}
		}
		texts[i-1] = strings.Join(lines, "\n")
	}
	return texts, nil
}

// joinRow concatenates the text runs of one row, inserting a space where two
// runs are visibly apart.
func joinRow(runs pdf.TextHorizontal) string {
	var b strings.Builder
	var prev *pdf.Text
	for i := range runs {
		t := &runs[i]
		if t.S == "" {
			continue
		}
		if prev != nil && b.Len() > 0 {
			gap := t.X - (prev.X + prev.W)
			if gap > prev.FontSize*0.2 && !strings.HasSuffix(b.String(), " ") && !strings.HasPrefix(t.S, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.S)
		prev = t
	}
	return strings.TrimSpace(b.String())
}
