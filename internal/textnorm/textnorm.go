// Package textnorm turns raw text into the cleaned token stream the index
// is built from. It folds text to lower-case ASCII, drops URLs, digits and
// punctuation, removes English stop-words, and optionally applies the
// Snowball English stemmer. The corpus cleaner and the query parser share
// one Normalizer so index terms and query terms always agree.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Normalizer converts text into normalized terms. The zero value does not
// stem; use New to configure stemming.
type Normalizer struct {
	stem bool
}

// New returns a Normalizer. When stem is true every kept token is reduced
// with the Snowball English stemmer.
func New(stem bool) *Normalizer {
	return &Normalizer{stem: stem}
}

// Tokens returns the normalized terms of text in their original order.
// Repeated terms are kept.
func (n *Normalizer) Tokens(text string) []string {
	text = fold(text)
	text = urlPattern.ReplaceAllString(text, " ")
	text = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, text)
	words := strings.Fields(text)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if IsStopWord(word) {
			continue
		}
		if n.stem {
			word = english.Stem(word, false)
			if word == "" {
				continue
			}
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// IsStopWord reports whether word is dropped during normalization.
func IsStopWord(word string) bool {
	if _, ok := stopWords[word]; ok {
		return true
	}
	return english.IsStopWord(word)
}

// fold decomposes text, strips combining marks, lower-cases it and turns
// the remaining non-ASCII runes into spaces.
func fold(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r > unicode.MaxASCII {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
