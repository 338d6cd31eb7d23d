// Package moderation provides content filtering for chat messages. It masks
// denylisted terms in user text before broadcast; server-originated text is
// never filtered.
package moderation

import (
	"regexp"
	"strings"
)

// Mask is the fixed-width replacement for every censored occurrence,
// regardless of the matched term's length.
const Mask = "****"

// defaultDenylist is the built-in set of censored terms.
var defaultDenylist = []string{
	"fuck",
	"shit",
	"bitch",
	"asshole",
	"bastard",
	"cunt",
	"dick",
	"nigger",
	"faggot",
	"whore",
	"slut",
}

// Filter censors denylisted terms in text. It is pure and deterministic:
// the per-term patterns are compiled once at construction and the filter is
// safe for concurrent use.
type Filter struct {
	patterns []*regexp.Regexp
}

// NewFilter creates a Filter with the built-in denylist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultDenylist)
}

// NewFilterWithTerms creates a Filter censoring exactly the given terms.
// Matching is case-insensitive and positional (substrings match too, as in
// the classic chat censor). Empty and whitespace-only terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{}
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		f.patterns = append(f.patterns, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(term)))
	}
	return f
}

// Censor replaces every occurrence of every denylisted term in text with
// Mask. Matching ignores case, so mixed-case variants are masked as well.
// The mask itself contains no denylisted term, which makes Censor idempotent:
// Censor(Censor(x)) == Censor(x).
func (f *Filter) Censor(text string) string {
	for _, re := range f.patterns {
		text = re.ReplaceAllLiteralString(text, Mask)
	}
	return text
}
