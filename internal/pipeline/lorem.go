package pipeline

import (
	"math/rand"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var loremWords = []string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing", "elit",
	"sed", "do", "eiusmod", "tempor", "incididunt", "ut", "labore", "et", "dolore",
	"magna", "aliqua", "ut", "enim", "ad", "minim", "veniam", "quis", "nostrud",
	"exercitation", "ullamco", "laboris", "nisi", "ut", "aliquip", "ex", "ea",
	"commodo", "consequat", "duis", "aute", "irure", "dolor", "in", "reprehenderit",
	"in", "voluptate", "velit", "esse", "cillum", "dolore", "eu", "fugiat", "nulla",
	"pariatur", "excepteur", "sint", "occaecat", "cupidatat", "non", "proident",
	"sunt", "in", "culpa", "qui", "officia", "deserunt", "mollit", "anim", "id", "est", "laborum",
}

// GenerateLorem returns n Lorem Ipsum paragraphs of 3 to 7 sentences.
func GenerateLorem(n int, rng *rand.Rand) []string {
	title := cases.Title(language.Und)
	result := make([]string, n)
	for i := 0; i < n; i++ {
		sentences := 3 + rng.Intn(5)
		para := make([]string, sentences)
		for j := 0; j < sentences; j++ {
			sentence := loremWords[rng.Intn(len(loremWords))]
			para[j] = title.String(sentence) + " " + strings.Join(loremSentence(4+rng.Intn(10), rng), " ") + "."
		}
		result[i] = strings.Join(para, " ")
	}
	return result
}

func loremSentence(words int, rng *rand.Rand) []string {
	out := make([]string, words)
	for i := range out {
		out[i] = loremWords[rng.Intn(len(loremWords))]
	}
	return out
}

// LoremPairs returns n context/question pairs. Each question copies a
// short run of words from its context. Doc is the pair's index.
func LoremPairs(n int, rng *rand.Rand) []Pair {
	contexts := GenerateLorem(n, rng)
	pairs := make([]Pair, n)
	for i, c := range contexts {
		words := strings.Fields(c)
		k := 2 + rng.Intn(3)
		if k > len(words) {
			k = len(words)
		}
		start := rng.Intn(len(words) - k + 1)
		pairs[i] = Pair{
			Context:  c,
			Question: "what " + strings.Join(words[start:start+k], " "),
			Doc:      i,
		}
	}
	return pairs
}
