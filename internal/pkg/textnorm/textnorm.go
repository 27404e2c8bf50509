// Package textnorm normalizes free-form chat text into the canonical form
// used for canned-reply lookup, FAQ hashing and keyword indexing.
package textnorm

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/go-ego/gse"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	segOnce   sync.Once
	segmenter *gse.Segmenter
)

// loadSegmenter initializes the gse segmenter once. On failure the package
// degrades to whitespace tokenization.
func loadSegmenter() *gse.Segmenter {
	segOnce.Do(func() {
		seg, err := gse.New()
		if err != nil {
			return
		}
		segmenter = &seg
	})
	return segmenter
}

// accentFolder strips combining diacritical marks so "preço" and "preco"
// normalize to the same form
var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, folds accents, strips punctuation and collapses
// whitespace
func Normalize(s string) string {
	if folded, _, err := transform.String(accentFolder, s); err == nil {
		s = folded
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Hash returns a stable short digest of the normalized text, used as the
// exact-match key for FAQ entries and the response cache
func Hash(s string) string {
	h := fnv.New64a()
	h.Write([]byte(Normalize(s)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Keywords extracts up to max index keywords from text: tokenized (gse when
// available, whitespace otherwise), stop-word filtered, at least 3 runes,
// deduplicated in order of first appearance.
func Keywords(s string, max int) []string {
	if max <= 0 {
		return nil
	}

	normalized := Normalize(s)
	if normalized == "" {
		return nil
	}

	var tokens []string
	if seg := loadSegmenter(); seg != nil {
		tokens = seg.Cut(normalized, false)
	} else {
		tokens = strings.Fields(normalized)
	}

	seen := make(map[string]struct{}, len(tokens))
	keywords := make([]string, 0, max)
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if len([]rune(tok)) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
		if len(keywords) == max {
			break
		}
	}
	return keywords
}

// DigitsOnly strips every non-digit rune, used for phone normalization
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PlausiblePhone reports whether digits looks like a real phone number
// (10 to 15 digits, country code included)
func PlausiblePhone(digits string) bool {
	n := len(digits)
	return n >= 10 && n <= 15
}
