package dispatch

import (
	"html"
	"regexp"
	"strings"

	"github.com/linnemanlabs/payslipd/internal/roster"
)

const (
	DefaultSubject = "Holerite"
	DefaultMessage = "Olá {{nome}}, segue seu holerite da {{unidade}}."
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Render substitutes {{nome}} and {{unidade}} in tmpl with the entry's name
// and unit. Placeholder names are case-insensitive and may be padded with
// spaces; unknown placeholders render empty.
func Render(tmpl string, e *roster.Entry) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		switch strings.ToLower(name) {
		case "nome", "name":
			return e.FullName
		case "unidade", "unit":
			return e.Unit
		default:
			return ""
		}
	})
}

// HTMLBody wraps a rendered plain-text message for an HTML mail body.
func HTMLBody(text string) string {
	return `<pre style="font-family: -apple-system, Segoe UI, Roboto, Arial">` + html.EscapeString(text) + `</pre>`
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidEmail reports whether addr looks like a deliverable address.
func ValidEmail(addr string) bool {
	return emailRe.MatchString(addr)
}

// domainAllowed reports whether addr's domain is in allow. An empty allowlist
// permits every domain.
func domainAllowed(addr string, allow []string) bool {
	if len(allow) == 0 {
		return true
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(addr[at+1:])
	for _, d := range allow {
		if d == domain {
			return true
		}
	}
	return false
}

// hasPDFSignature reports whether b starts with the PDF header.
func hasPDFSignature(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}
