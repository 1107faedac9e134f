package nn_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
	"github.com/23skdu/longbow-reader/internal/nn/nntest"
)

func TestLinear_Forward(t *testing.T) {
	backend := device.NewCPUBackend()
	l := nn.NewLinear("proj", nn.LinearConfig{InputSize: 2, OutputSize: 2, Activation: nn.ReLU}, backend)
	l.Weight.Value.CopyFromFloat64([]float64{1, -1, 2, -2})
	l.Bias.Value.CopyFromFloat64([]float64{0.5, 0.5})

	x := nn.Batch{backend.NewTensor(2, 2, []float64{1, 1, -1, 0})}
	res := l.Forward(x)

	// [1 1] -> [3.5, -2.5] -> relu [3.5, 0]; [-1 0] -> [-0.5, 1.5] -> [0, 1.5]
	assert.Equal(t, []float64{3.5, 0, 0, 1.5}, res.Output[0].ToHost())
	assert.Equal(t, "proj/weights", l.Weight.Name)
	assert.Len(t, l.Parameters(), 2)

	require.Panics(t, func() { l.Forward(nn.Batch{backend.NewTensor(1, 3, nil)}) })
}

func TestLinear_Gradients(t *testing.T) {
	backend := device.NewCPUBackend()
	rng := rand.New(rand.NewSource(11))

	for _, act := range []nn.Activation{nn.Identity, nn.ReLU} {
		l := nn.NewLinear("proj", nn.LinearConfig{InputSize: 3, OutputSize: 4, Activation: act, Seed: 5}, backend)
		l.Bias.Value.CopyFromFloat64([]float64{0.1, -0.2, 0.3, 0.05})
		x := nntest.RandomBatch(backend, rng, 2, 5, 3)
		g := nntest.RandomBatch(backend, rng, 2, 5, 4)

		loss := func() float64 { return nntest.Contract(l.Forward(x).Output, g) }

		res := l.Forward(x)
		dx := l.Backward(res, g)

		nntest.AssertGrad(t, "dW", l.Weight.Grad, l.Weight.Value, loss)
		nntest.AssertGrad(t, "db", l.Bias.Grad, l.Bias.Value, loss)
		for i := range x {
			nntest.AssertGrad(t, "dx", dx[i], x[i], loss)
		}
	}
}
