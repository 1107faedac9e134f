package optim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
)

// quadraticGrad sets grad = 2 * (value - target) and returns the loss
// sum((value - target)^2).
func quadraticGrad(p *nn.Parameter, target []float64) float64 {
	var loss float64
	_, c := p.Dims()
	for k, tv := range target {
		i, j := k/c, k%c
		d := p.Value.At(i, j) - tv
		loss += d * d
		p.Grad.Set(i, j, 2*d)
	}
	return loss
}

func TestOptimizersReduceQuadratic(t *testing.T) {
	backend := device.NewCPUBackend()
	target := []float64{1, -2, 3, 0.5}

	tests := []struct {
		name  string
		build func([]*nn.Parameter) Optimizer
	}{
		{"SGD", func(p []*nn.Parameter) Optimizer { return NewSGD(p, SGDConfig{LR: 0.1}, backend) }},
		{"SGDMomentum", func(p []*nn.Parameter) Optimizer {
			return NewSGD(p, SGDConfig{LR: 0.05, Momentum: 0.9}, backend)
		}},
		{"Adam", func(p []*nn.Parameter) Optimizer { return NewAdam(p, AdamConfig{LR: 0.1}, backend) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := nn.NewParameter(backend, "w", backend.NewTensor(2, 2, nil))
			opt := tt.build([]*nn.Parameter{p})

			initial := quadraticGrad(p, target)
			opt.ZeroGrad()
			var loss float64
			for step := 0; step < 500; step++ {
				loss = quadraticGrad(p, target)
				opt.Step()
				opt.ZeroGrad()
			}
			assert.Less(t, loss, initial*1e-3)
			assert.Equal(t, 0.0, p.Grad.Sum())
		})
	}
}

func TestSGD_SingleStep(t *testing.T) {
	backend := device.NewCPUBackend()
	p := nn.NewParameter(backend, "w", backend.NewTensor(1, 2, []float64{1, 1}))
	p.Grad.CopyFromFloat64([]float64{2, -4})

	NewSGD([]*nn.Parameter{p}, SGDConfig{LR: 0.5}, backend).Step()
	assert.Equal(t, []float64{0, 3}, p.Value.ToHost())
}

func TestAdam_FirstStepIsLR(t *testing.T) {
	backend := device.NewCPUBackend()
	p := nn.NewParameter(backend, "w", backend.NewTensor(1, 2, nil))
	p.Grad.CopyFromFloat64([]float64{3, -0.01})

	NewAdam([]*nn.Parameter{p}, AdamConfig{}, backend).Step()
	// m̂ / sqrt(v̂) = sign(g) on the first step
	assert.InDeltaSlice(t, []float64{-0.001, 0.001}, p.Value.ToHost(), 1e-8)
}

func TestClipGradNorm(t *testing.T) {
	backend := device.NewCPUBackend()
	a := nn.NewParameter(backend, "a", backend.NewTensor(1, 2, nil))
	b := nn.NewParameter(backend, "b", backend.NewTensor(1, 1, nil))
	a.Grad.CopyFromFloat64([]float64{3, 0})
	b.Grad.CopyFromFloat64([]float64{4})
	params := []*nn.Parameter{a, b}

	require.InDelta(t, 5.0, GradNorm(params), 1e-12)
	norm := ClipGradNorm(params, 1)
	assert.InDelta(t, 5.0, norm, 1e-12)
	assert.InDelta(t, 1.0, GradNorm(params), 1e-12)
	assert.InDeltaSlice(t, []float64{0.6, 0}, a.Grad.ToHost(), 1e-12)

	ClipGradNorm(params, 10)
	assert.InDelta(t, 1.0, GradNorm(params), 1e-12)
	assert.False(t, math.IsNaN(ClipGradNorm([]*nn.Parameter{nn.NewParameter(backend, "z", backend.NewTensor(1, 1, nil))}, 1)))
}
