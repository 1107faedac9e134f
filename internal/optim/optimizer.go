// Package optim applies accumulated gradients to parameters.
//
// Optimizers are the only code that changes parameter values, always
// through nn.Parameter.Update. A training step is:
//
//	pred := model.Forward(inputs, nn.Training)
//	model.Backward(pred, dStart, dEnd)
//	optim.ClipGradNorm(params, 5.0)
//	opt.Step()
//	opt.ZeroGrad()
package optim

import (
	"math"

	"github.com/23skdu/longbow-reader/internal/nn"
)

// Optimizer updates a fixed set of parameters from their gradients.
type Optimizer interface {
	// Step applies one update using the current gradients.
	Step()
	// ZeroGrad clears the gradients of all parameters.
	ZeroGrad()
}

func zeroGrad(params []*nn.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// GradNorm returns the global L2 norm of the parameter gradients.
func GradNorm(params []*nn.Parameter) float64 {
	var sq float64
	for _, p := range params {
		for _, v := range p.Grad.ToHost() {
			sq += v * v
		}
	}
	return math.Sqrt(sq)
}

// ClipGradNorm rescales all gradients so their global norm is at most
// maxNorm and returns the norm before clipping.
func ClipGradNorm(params []*nn.Parameter, maxNorm float64) float64 {
	norm := GradNorm(params)
	if norm > maxNorm && norm > 0 {
		scale := maxNorm / norm
		for _, p := range params {
			p.Grad.Scale(scale)
		}
	}
	return norm
}
