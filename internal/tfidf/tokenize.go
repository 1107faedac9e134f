package tfidf

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Tokenizer lowercases text and splits it into runs of at least two word
// characters (letters, digits and '_'). A Tokenizer must not be shared
// between goroutines.
type Tokenizer struct {
	caser cases.Caser
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{caser: cases.Lower(language.Und)}
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Tokenize returns the tokens of text in order of appearance.
func (t *Tokenizer) Tokenize(text string) []string {
	text = t.caser.String(text)

	var tokens []string
	var current strings.Builder
	n := 0
	flush := func() {
		if n >= 2 {
			tokens = append(tokens, current.String())
		}
		current.Reset()
		n = 0
	}
	for _, r := range text {
		if isWordRune(r) {
			current.WriteRune(r)
			n++
			continue
		}
		flush()
	}
	flush()
	return tokens
}
