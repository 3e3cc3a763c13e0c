// Package identity finds who a payslip fragment belongs to. An Extractor
// pulls name and tax-id candidates out of rendered text, and a Resolver maps
// a candidate onto one roster entry through a fixed cascade of rules.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize uppercases s, strips diacritics, replaces everything that is not
// a letter or digit with a space and collapses whitespace. It is idempotent.
func Normalize(s string) string {
	s = strings.ToUpper(s)
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = strings.ToUpper(s)

	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
