// Package testpdf builds small, valid PDF documents with a real text layer
// for tests. Pages are US Letter, text is Helvetica with WinAnsi encoding.
package testpdf

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	pageWidth  = 612
	pageHeight = 792
	lineStep   = 14
)

// Page describes one page. Top lines start near the top edge, Bottom lines
// start just below the middle of the page.
type Page struct {
	Top    []string
	Bottom []string
}

// Single returns a page whose lines all sit in the top half.
func Single(lines ...string) Page { return Page{Top: lines} }

// TwoUp returns a page with one slip in each half.
func TwoUp(top, bottom []string) Page { return Page{Top: top, Bottom: bottom} }

// Build renders pages into a PDF with a classic cross-reference table.
func Build(pages ...Page) []byte {
	var objs []string

	// 1 catalog, 2 page tree, 3 font, then a page and a content stream per page
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, p := range pages {
		content := pageContent(p)
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
				pageWidth, pageHeight, 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objs)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func pageContent(p Page) string {
	var b strings.Builder
	write := func(lines []string, y int) {
		for _, l := range lines {
			fmt.Fprintf(&b, "BT /F1 10 Tf 1 0 0 1 50 %d Tm (%s) Tj ET\n", y, escape(l))
			y -= lineStep
		}
	}
	write(p.Top, pageHeight-60)
	write(p.Bottom, pageHeight/2-40)
	return strings.TrimSuffix(b.String(), "\n")
}

// escape encodes s as the body of a PDF literal string in WinAnsi. Runes
// outside Latin-1 become '?'.
func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '(' || r == ')' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x80:
			b.WriteRune(r)
		case r <= 0xff:
			fmt.Fprintf(&b, "\\%03o", r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}
