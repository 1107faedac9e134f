package tfidf

import (
	"fmt"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
)

// AddInput appends token features to context word vectors: the TF-IDF
// weight of each token in its document and, optionally, whether the token
// also occurs in the question. Token ids index the Matrix vocabulary; ids
// outside it get zero features.
type AddInput struct {
	Matrix     *Matrix
	ExactMatch bool
	Backend    device.Backend
}

func NewAddInput(m *Matrix, exactMatch bool, backend device.Backend) *AddInput {
	return &AddInput{Matrix: m, ExactMatch: exactMatch, Backend: backend}
}

// Width is the number of appended columns.
func (a *AddInput) Width() int {
	if a.ExactMatch {
		return 2
	}
	return 1
}

// Forward returns contextEmbs (b, len, d) widened to d + Width(). docs[i]
// is the corpus row of batch element i.
func (a *AddInput) Forward(contextEmbs nn.Batch, docs []int, contextIDs, qnIDs [][]int) nn.Batch {
	b, length, _ := contextEmbs.Dims()
	if len(docs) != b || len(contextIDs) != b || (a.ExactMatch && len(qnIDs) != b) {
		panic(fmt.Sprintf("AddInput: batch %d, got %d docs, %d context ids, %d question ids", b, len(docs), len(contextIDs), len(qnIDs)))
	}

	out := make(nn.Batch, b)
	for i := 0; i < b; i++ {
		if len(contextIDs[i]) != length {
			panic(fmt.Sprintf("AddInput: element %d has %d ids, want %d", i, len(contextIDs[i]), length))
		}
		var inQuestion map[int]bool
		if a.ExactMatch {
			inQuestion = make(map[int]bool, len(qnIDs[i]))
			for _, id := range qnIDs[i] {
				inQuestion[id] = true
			}
		}

		feats := a.Backend.NewTensor(length, a.Width(), nil)
		for t, id := range contextIDs[i] {
			if id < 0 || id >= a.Matrix.NumTerms() {
				continue
			}
			feats.Set(t, 0, a.Matrix.Weight(docs[i], id))
			if a.ExactMatch && inQuestion[id] {
				feats.Set(t, 1, 1)
			}
		}
		out[i] = nn.ConcatCols(a.Backend, contextEmbs[i], feats)
	}
	return out
}
