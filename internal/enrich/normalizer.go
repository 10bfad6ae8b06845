// Package enrich attaches normalized text to raw intervention entries after
// the fact. Normalization is best-effort: raw-only entries are valid and
// queryable forever, so everything here runs off the hot write path.
package enrich

import (
	"context"
	"strings"
	"unicode"
)

// Normalizer turns raw user text into a cleaned form. Implementations may be
// slow or unavailable (the production one is an external language model); the
// store never blocks on them.
type Normalizer interface {
	Normalize(ctx context.Context, raw string) (string, error)
}

// BasicNormalizer is the built-in fallback: whitespace collapse, trailing
// punctuation strip, lowercased leading article. Good enough to make log
// output scannable when no external normalizer is wired.
type BasicNormalizer struct{}

func (BasicNormalizer) Normalize(_ context.Context, raw string) (string, error) {
	s := strings.Join(strings.Fields(raw), " ")
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) && r != ')' && r != ']'
	})
	return s, nil
}
