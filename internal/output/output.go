// Package output turns per-position representations into a probability
// distribution over positions, as used for answer start and end pointers.
package output

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
)

// SimpleSoftmaxLayer projects each position to one logit and takes a
// masked softmax over the sequence.
type SimpleSoftmaxLayer struct {
	Backend device.Backend

	W *nn.Parameter // H x 1, Xavier
	B *nn.Parameter // 1 x 1, zero
}

// Result holds the layer outputs, each (batch x length).
type Result struct {
	MaskedLogits device.Tensor
	Prob         device.Tensor

	inputs nn.Batch
}

func NewSimpleSoftmaxLayer(name string, inputSize int, seed int64, backend device.Backend) *SimpleSoftmaxLayer {
	rng := rand.New(rand.NewSource(seed))
	return &SimpleSoftmaxLayer{
		Backend: backend,
		W:       nn.NewParameter(backend, name+"/weights", nn.XavierUniform(backend, rng, inputSize, 1)),
		B:       nn.NewParameter(backend, name+"/biases", nn.Zeros(backend, 1, 1)),
	}
}

func (l *SimpleSoftmaxLayer) Parameters() []*nn.Parameter {
	return []*nn.Parameter{l.W, l.B}
}

// Forward maps inputs (b, len, H) and mask (b, len) to masked logits and
// probabilities, both (b, len).
func (l *SimpleSoftmaxLayer) Forward(inputs nn.Batch, mask device.Tensor) *Result {
	defer nn.TrackLayer("simple_softmax", l.Backend.Name())()

	b, length, h := inputs.Dims()
	if wr, _ := l.W.Dims(); wr != h {
		panic(fmt.Sprintf("SimpleSoftmaxLayer: input width %d, want %d", h, wr))
	}
	inputs.MustMatchMask("SimpleSoftmaxLayer", mask)

	logits := l.Backend.NewTensor(b, length, nil)
	col := l.Backend.NewTensor(length, 1, nil)
	for i := 0; i < b; i++ {
		col.Mul(inputs[i], l.W.Value)
		for t := 0; t < length; t++ {
			logits.Set(i, t, col.At(t, 0)+l.B.Value.At(0, 0))
		}
	}

	masked, prob := nn.MaskedSoftmax(logits, mask, 1)
	return &Result{MaskedLogits: masked, Prob: prob, inputs: inputs}
}

// Backward takes the gradient with respect to the masked logits,
// accumulates parameter gradients and returns dInputs.
func (l *SimpleSoftmaxLayer) Backward(res *Result, dMaskedLogits device.Tensor) nn.Batch {
	b, length := dMaskedLogits.Dims()

	dInputs := make(nn.Batch, b)
	for i := 0; i < b; i++ {
		in := res.inputs[i]
		_, width := in.Dims()
		g := dMaskedLogits.Slice(i, i+1, 0, length) // 1 x len

		dw := l.Backend.GetTensor(width, 1)
		dw.Mul(in.T(), g.T())
		l.W.Grad.Add(dw)
		l.Backend.PutTensor(dw)
		l.B.Grad.Set(0, 0, l.B.Grad.At(0, 0)+g.Sum())

		dx := l.Backend.NewTensor(length, width, nil)
		dx.Mul(g.T(), l.W.Value.T())
		dInputs[i] = dx
	}
	return dInputs
}

// CrossEntropy returns the mean negative log-likelihood of the target
// positions under softmax(masked) and its gradient with respect to
// masked, (p - onehot) / batch.
func CrossEntropy(masked device.Tensor, targets []int) (float64, device.Tensor) {
	b, length := masked.Dims()
	if len(targets) != b {
		panic(fmt.Sprintf("CrossEntropy: %d targets for batch %d", len(targets), b))
	}

	prob := masked.Slice(0, b, 0, length)
	prob.Softmax()

	var loss float64
	for i, target := range targets {
		if target < 0 || target >= length {
			panic(fmt.Sprintf("CrossEntropy: target %d out of range [0, %d)", target, length))
		}
		// log-softmax of the target
		row := make([]float64, length)
		mx := math.Inf(-1)
		for t := 0; t < length; t++ {
			row[t] = masked.At(i, t)
			mx = math.Max(mx, row[t])
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(v - mx)
		}
		loss -= row[target] - mx - math.Log(sum)
		prob.Set(i, target, prob.At(i, target)-1)
	}
	prob.Scale(1 / float64(b))
	return loss / float64(b), prob
}
