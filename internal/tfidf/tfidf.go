// Package tfidf computes TF-IDF weights of a corpus over a fixed
// vocabulary. The result is kept in compressed sparse row form and is only
// ever densified one row at a time.
package tfidf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/james-bowman/sparse"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-reader/internal/cache"
)

var (
	ErrDuplicateTerm   = errors.New("duplicate vocabulary term")
	ErrEmptyVocabulary = errors.New("empty vocabulary")
)

// Matrix is a documents x terms TF-IDF matrix held as a compressed sparse
// row matrix.
type Matrix struct {
	csr *sparse.CSR
	idf []float64

	cache cache.RowCache
}

// FitFile is Fit over the contents of path.
func FitFile(path string, vocabulary []string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Fit(f, vocabulary)
}

// Fit reads r, splits it on '\n' into documents and computes smoothed
// TF-IDF weights for the vocabulary terms:
//
//	idf(t)  = ln((1 + n) / (1 + df(t))) + 1
//	w(d, t) = count(d, t) * idf(t), then each row is L2 normalised.
//
// Text after the last newline, even if empty, is a document.
func Fit(r io.Reader, vocabulary []string) (*Matrix, error) {
	start := time.Now()
	if len(vocabulary) == 0 {
		return nil, ErrEmptyVocabulary
	}
	index := make(map[string]int, len(vocabulary))
	for i, term := range vocabulary {
		if _, dup := index[term]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTerm, term)
		}
		index[term] = i
	}

	idf := make([]float64, len(vocabulary))
	df := make([]int, len(vocabulary))
	tok := NewTokenizer()
	br := bufio.NewReader(r)

	// docs[i] maps term column to raw count in document i.
	var docs []map[int]int
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read corpus: %w", err)
		}
		eof := err != nil
		if !eof {
			line = line[:len(line)-1]
		}

		counts := make(map[int]int)
		for _, token := range tok.Tokenize(line) {
			if col, ok := index[token]; ok {
				counts[col]++
			}
		}
		for col := range counts {
			df[col]++
		}
		docs = append(docs, counts)

		if eof {
			break
		}
	}

	n := float64(len(docs))
	for t := range idf {
		idf[t] = math.Log((1+n)/(1+float64(df[t]))) + 1
	}

	dok := sparse.NewDOK(len(docs), len(vocabulary))
	for i, counts := range docs {
		var norm float64
		for col, c := range counts {
			w := float64(c) * idf[col]
			norm += w * w
		}
		norm = math.Sqrt(norm)
		for col, c := range counts {
			dok.Set(i, col, float64(c)*idf[col]/norm)
		}
	}
	m := &Matrix{csr: dok.ToCSR(), idf: idf}

	log.Info().
		Int("docs", m.NumDocs()).
		Int("terms", m.NumTerms()).
		Int("nnz", m.NNZ()).
		Dur("elapsed", time.Since(start)).
		Msg("Calculated TF-IDF weights")
	return m, nil
}

// WithCache memoises densified rows in c.
func (m *Matrix) WithCache(c cache.RowCache) *Matrix {
	m.cache = c
	return m
}

func (m *Matrix) NumDocs() int {
	r, _ := m.csr.Dims()
	return r
}

func (m *Matrix) NumTerms() int { return len(m.idf) }
func (m *Matrix) NNZ() int      { return m.csr.NNZ() }

// IDF returns the inverse document frequency of a term column.
func (m *Matrix) IDF(term int) float64 {
	return m.idf[term]
}

func (m *Matrix) checkDoc(doc int) {
	if doc < 0 || doc >= m.NumDocs() {
		panic(fmt.Sprintf("tfidf: document %d out of range [0, %d)", doc, m.NumDocs()))
	}
}

// Row returns document doc as a dense vector of length NumTerms.
func (m *Matrix) Row(doc int) []float64 {
	m.checkDoc(doc)
	if m.cache != nil {
		if row, ok := m.cache.Get(doc); ok {
			return row
		}
	}

	row := make([]float64, m.NumTerms())
	m.csr.DoRowNonZero(doc, func(_, j int, v float64) {
		row[j] = v
	})
	if m.cache != nil {
		m.cache.Put(doc, row)
	}
	return row
}

// Weight returns the TF-IDF weight of term in doc without densifying.
func (m *Matrix) Weight(doc, term int) float64 {
	m.checkDoc(doc)
	return m.csr.At(doc, term)
}
