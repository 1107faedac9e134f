package output

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
	"github.com/23skdu/longbow-reader/internal/nn/nntest"
)

func TestSimpleSoftmaxLayer_SingleValidPosition(t *testing.T) {
	backend := device.NewCPUBackend()
	rng := rand.New(rand.NewSource(1))
	l := NewSimpleSoftmaxLayer("StartDist", 4, 1, backend)

	inputs := nntest.RandomBatch(backend, rng, 1, 3, 4)
	res := l.Forward(inputs, nntest.Mask(backend, []float64{1, 0, 0}))

	assert.InDeltaSlice(t, []float64{1, 0, 0}, res.Prob.ToHost(), 1e-12)
	assert.Less(t, res.MaskedLogits.At(0, 1), -1e29)
	assert.Equal(t, "StartDist/weights", l.W.Name)
}

func TestSimpleSoftmaxLayer_Forward(t *testing.T) {
	backend := device.NewCPUBackend()
	l := NewSimpleSoftmaxLayer("EndDist", 2, 1, backend)
	l.W.Value.CopyFromFloat64([]float64{1, 2})
	l.B.Value.Set(0, 0, 0.5)

	inputs := nn.Batch{
		backend.NewTensor(3, 2, []float64{1, 0, 0, 1, 1, 1}),
		backend.NewTensor(3, 2, []float64{0, 0, 0, 0, 0, 0}),
	}
	mask := nntest.Mask(backend, []float64{1, 1, 1}, []float64{1, 1, 0})
	res := l.Forward(inputs, mask)

	assert.InDeltaSlice(t, []float64{1.5, 2.5, 3.5}, res.MaskedLogits.ToHost()[:3], 1e-12)
	assert.InDelta(t, 0.5, res.Prob.At(1, 0), 1e-12)
	assert.InDelta(t, 0.5, res.Prob.At(1, 1), 1e-12)
	assert.Equal(t, 0.0, res.Prob.At(1, 2))

	require.Panics(t, func() { l.Forward(nn.NewBatch(backend, 1, 3, 3), backend.NewTensor(1, 3, nil)) })
}

func TestSimpleSoftmaxLayer_Gradients(t *testing.T) {
	backend := device.NewCPUBackend()
	rng := rand.New(rand.NewSource(2))
	l := NewSimpleSoftmaxLayer("StartDist", 3, 7, backend)
	l.B.Value.Set(0, 0, 0.2)

	inputs := nntest.RandomBatch(backend, rng, 2, 4, 3)
	mask := nntest.Mask(backend, []float64{1, 1, 1, 0}, []float64{1, 1, 1, 1})
	targets := []int{2, 0}

	loss := func() float64 {
		ce, _ := CrossEntropy(l.Forward(inputs, mask).MaskedLogits, targets)
		return ce
	}

	res := l.Forward(inputs, mask)
	_, dLogits := CrossEntropy(res.MaskedLogits, targets)
	dx := l.Backward(res, dLogits)

	nntest.AssertGrad(t, "dW", l.W.Grad, l.W.Value, loss)
	nntest.AssertGrad(t, "dB", l.B.Grad, l.B.Value, loss)
	for i := range inputs {
		nntest.AssertGrad(t, "dInputs", dx[i], inputs[i], loss)
	}
}

func TestCrossEntropy(t *testing.T) {
	backend := device.NewCPUBackend()
	masked := backend.NewTensor(2, 2, []float64{0, 0, math.Log(3), 0})

	loss, grad := CrossEntropy(masked, []int{0, 0})

	// -(log 0.5 + log 0.75) / 2
	assert.InDelta(t, -(math.Log(0.5)+math.Log(0.75))/2, loss, 1e-12)
	assert.InDeltaSlice(t, []float64{-0.25, 0.25, -0.125, 0.125}, grad.ToHost(), 1e-12)

	require.Panics(t, func() { CrossEntropy(masked, []int{0}) })
	require.Panics(t, func() { CrossEntropy(masked, []int{0, 2}) })
}
