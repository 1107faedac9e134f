package optim

import (
	"math"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
)

// AdamConfig holds configuration for the Adam optimizer. Zero values take
// the defaults LR 0.001, Betas {0.9, 0.999}, Eps 1e-8.
type AdamConfig struct {
	LR    float64
	Betas [2]float64
	Eps   float64
}

// Adam implements the Adam optimizer with bias correction:
//
//	m = beta1*m + (1-beta1)*grad
//	v = beta2*v + (1-beta2)*grad²
//	param = param - lr * m̂ / (sqrt(v̂) + eps)
type Adam struct {
	params []*nn.Parameter
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	t      int // Timestep for bias correction
	m      map[*nn.Parameter]device.Tensor
	v      map[*nn.Parameter]device.Tensor

	backend device.Backend
}

var _ Optimizer = (*Adam)(nil)

func NewAdam(params []*nn.Parameter, config AdamConfig, backend device.Backend) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		params:  params,
		lr:      config.LR,
		beta1:   config.Betas[0],
		beta2:   config.Betas[1],
		eps:     config.Eps,
		m:       make(map[*nn.Parameter]device.Tensor),
		v:       make(map[*nn.Parameter]device.Tensor),
		backend: backend,
	}
}

func (a *Adam) Step() {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))

	for _, p := range a.params {
		r, c := p.Dims()
		m, ok := a.m[p]
		if !ok {
			m = a.backend.NewTensor(r, c, nil)
			a.m[p] = m
		}
		v, ok := a.v[p]
		if !ok {
			v = a.backend.NewTensor(r, c, nil)
			a.v[p] = v
		}

		step := a.backend.GetTensor(r, c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				g := p.Grad.At(i, j)
				mi := a.beta1*m.At(i, j) + (1-a.beta1)*g
				vi := a.beta2*v.At(i, j) + (1-a.beta2)*g*g
				m.Set(i, j, mi)
				v.Set(i, j, vi)
				step.Set(i, j, (mi/bc1)/(math.Sqrt(vi/bc2)+a.eps))
			}
		}
		p.Update(step, -a.lr)
		a.backend.PutTensor(step)
	}
}

func (a *Adam) ZeroGrad() { zeroGrad(a.params) }
