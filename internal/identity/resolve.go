package identity

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/linnemanlabs/payslipd/internal/roster"
)

// Method is the cascade rule that produced a match.
type Method int

const (
	MethodNone Method = iota
	MethodExact
	MethodPartialWords
	MethodFuzzyRatio
)

func (m Method) String() string {
	switch m {
	case MethodExact:
		return "exact"
	case MethodPartialWords:
		return "partial_words"
	case MethodFuzzyRatio:
		return "fuzzy_ratio"
	default:
		return "none"
	}
}

const (
	// DefaultFuzzyThreshold is the similarity a fuzzy match must exceed.
	DefaultFuzzyThreshold = 0.7

	// significantWordLen is the length a roster word must exceed to count
	// towards a partial-words match.
	significantWordLen = 3
)

// Match is the outcome of resolving one candidate.
type Match struct {
	Candidate Candidate     `json:"candidate"`
	Entry     *roster.Entry `json:"entry,omitempty"`
	Method    Method        `json:"method"`
	Score     float64       `json:"score,omitempty"`
}

// Matched reports whether the candidate resolved to a roster entry.
func (m Match) Matched() bool { return m.Entry != nil && m.Method != MethodNone }

type indexedEntry struct {
	entry roster.Entry
	name  string
	words []string
	taxID string
}

// Resolver maps candidates onto the roster of a single unit.
type Resolver struct {
	unit           string
	entries        []indexedEntry
	fuzzyThreshold float64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFuzzyThreshold overrides DefaultFuzzyThreshold.
func WithFuzzyThreshold(t float64) Option {
	return func(r *Resolver) {
		if t > 0 && t < 1 {
			r.fuzzyThreshold = t
		}
	}
}

// NewResolver indexes entries for unit. Entries of other units are dropped and
// the remaining order is kept, since ties go to the earlier entry.
func NewResolver(unit string, entries []roster.Entry, opts ...Option) *Resolver {
	r := &Resolver{unit: unit, fuzzyThreshold: DefaultFuzzyThreshold}
	for _, o := range opts {
		o(r)
	}
	for _, e := range entries {
		if e.Unit != unit {
			continue
		}
		name := e.NormalizedName
		if name == "" {
			name = Normalize(e.FullName)
		}
		if name == "" {
			continue
		}
		var words []string
		for _, w := range strings.Fields(name) {
			if utf8.RuneCountInString(w) > significantWordLen {
				words = append(words, w)
			}
		}
		r.entries = append(r.entries, indexedEntry{
			entry: e,
			name:  name,
			words: words,
			taxID: digits(e.TaxID),
		})
	}
	return r
}

// Len returns the number of roster entries the resolver can match.
func (r *Resolver) Len() int { return len(r.entries) }

// Resolve runs the cascade for c. segmentText is the text of the segment the
// candidate came from; the partial-words rule searches it.
func (r *Resolver) Resolve(c Candidate, segmentText string) Match {
	none := Match{Candidate: c, Method: MethodNone}
	token := c.Token
	if c.Mode == ModeName {
		token = Normalize(token)
	}
	if token == "" {
		return none
	}

	if m, ok := r.exact(c, token); ok {
		return m
	}
	if m, ok := r.partialWords(c, Normalize(segmentText)); ok {
		return m
	}
	if c.Mode == ModeName {
		if m, ok := r.fuzzy(c, token); ok {
			return m
		}
	}
	return none
}

// ResolveSegment runs the cascade over every candidate of one segment, one
// rule at a time: an exact hit on any candidate beats partial words, and
// partial words beats a fuzzy name match. Candidates are tried in order
// within each rule. The partial-words rule scans the segment once.
func (r *Resolver) ResolveSegment(cands []Candidate, segmentText string) Match {
	if len(cands) == 0 {
		return Match{Method: MethodNone}
	}
	tokens := make([]string, len(cands))
	for i, c := range cands {
		tokens[i] = c.Token
		if c.Mode == ModeName {
			tokens[i] = Normalize(c.Token)
		}
	}

	for i, c := range cands {
		if tokens[i] == "" {
			continue
		}
		if m, ok := r.exact(c, tokens[i]); ok {
			return m
		}
	}

	// attribute a partial-words hit to the first name candidate when there is one
	owner := cands[0]
	for _, c := range cands {
		if c.Mode == ModeName {
			owner = c
			break
		}
	}
	if m, ok := r.partialWords(owner, Normalize(segmentText)); ok {
		return m
	}

	for i, c := range cands {
		if c.Mode != ModeName || tokens[i] == "" {
			continue
		}
		if m, ok := r.fuzzy(c, tokens[i]); ok {
			return m
		}
	}
	return Match{Candidate: cands[0], Method: MethodNone}
}

func (r *Resolver) exact(c Candidate, token string) (Match, bool) {
	for i := range r.entries {
		ie := &r.entries[i]
		hit := false
		switch c.Mode {
		case ModeTaxID:
			hit = ie.taxID != "" && ie.taxID == token
		default:
			hit = ie.name == token
		}
		if hit {
			return r.match(c, ie, MethodExact, 1), true
		}
	}
	return Match{}, false
}

func (r *Resolver) partialWords(c Candidate, text string) (Match, bool) {
	if text == "" {
		return Match{}, false
	}
	for i := range r.entries {
		ie := &r.entries[i]
		if len(ie.words) == 0 {
			continue
		}
		found := 0
		for _, w := range ie.words {
			if strings.Contains(text, w) {
				found++
			}
		}
		if found >= 2 || (len(ie.words) == 1 && found == 1) {
			return r.match(c, ie, MethodPartialWords, float64(found)/float64(len(ie.words))), true
		}
	}
	return Match{}, false
}

func (r *Resolver) fuzzy(c Candidate, token string) (Match, bool) {
	for i := range r.entries {
		ie := &r.entries[i]
		if score := Similarity(token, ie.name); score > r.fuzzyThreshold {
			return r.match(c, ie, MethodFuzzyRatio, score), true
		}
	}
	return Match{}, false
}

func (r *Resolver) match(c Candidate, ie *indexedEntry, m Method, score float64) Match {
	e := ie.entry
	return Match{Candidate: c, Entry: &e, Method: m, Score: score}
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)) measured in runes.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
