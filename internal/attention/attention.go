// Package attention implements keys-attend-to-values attention between two
// sequence batches. Keys are the positions being enriched, values the
// positions attended to; in the reader graph keys are the context hidden
// states and values the question hidden states.
package attention

import (
	"fmt"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
)

// Attention is implemented by BasicAttn and BiDAF.
type Attention interface {
	// Forward attends keys (b, nk, d) to values (b, nv, d) under
	// valuesMask (b, nv).
	Forward(keys, values nn.Batch, valuesMask device.Tensor, mode nn.Mode) *Result
	// Backward accumulates parameter gradients and returns the gradients
	// with respect to keys and values.
	Backward(res *Result, dOutput nn.Batch) (dKeys, dValues nn.Batch)
	Parameters() []*nn.Parameter
	// OutputWidth is the per-key output width for value width d.
	OutputWidth(d int) int
}

// Result is the output of one forward pass. Dist and Output are the public
// results; the unexported fields are what Backward needs.
type Result struct {
	Scores nn.Batch // raw similarity scores (nk x nv)
	Dist   nn.Batch // attention distribution over values (nk x nv)
	Output nn.Batch // (nk x OutputWidth)

	// Q2CDist is the BiDAF question-to-context distribution over keys
	// (1 x nk). Nil for BasicAttn.
	Q2CDist nn.Batch

	keys, values nn.Batch
	mask         device.Tensor
	dropMasks    nn.Batch

	c2q    nn.Batch
	q2c    nn.Batch // 1 x d
	argmax [][]int
}

func checkInputs(op string, keys, values nn.Batch, mask device.Tensor) (b, nk, nv, d int) {
	b, nk, d = keys.Dims()
	vb, nv, vd := values.Dims()
	if b != vb {
		panic(fmt.Sprintf("%s: keys batch %d != values batch %d", op, b, vb))
	}
	if d != vd {
		panic(fmt.Sprintf("%s: keys width %d != values width %d", op, d, vd))
	}
	if b == 0 {
		panic(op + ": empty batch")
	}
	values.MustMatchMask(op, mask)
	return b, nk, nv, d
}
