package optim

import (
	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
)

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LR       float64 // Learning rate
	Momentum float64 // 0 disables momentum
}

// SGD implements stochastic gradient descent with optional momentum:
//
//	v = momentum * v + grad
//	param = param - lr * v
type SGD struct {
	params   []*nn.Parameter
	lr       float64
	momentum float64
	velocity map[*nn.Parameter]device.Tensor
	backend  device.Backend
}

var _ Optimizer = (*SGD)(nil)

func NewSGD(params []*nn.Parameter, config SGDConfig, backend device.Backend) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		params:   params,
		lr:       config.LR,
		momentum: config.Momentum,
		velocity: make(map[*nn.Parameter]device.Tensor),
		backend:  backend,
	}
}

func (s *SGD) Step() {
	for _, p := range s.params {
		if s.momentum == 0 {
			p.Update(p.Grad, -s.lr)
			continue
		}
		v, ok := s.velocity[p]
		if !ok {
			r, c := p.Dims()
			v = s.backend.NewTensor(r, c, nil)
			s.velocity[p] = v
		}
		v.Scale(s.momentum)
		v.Add(p.Grad)
		p.Update(v, -s.lr)
	}
}

func (s *SGD) ZeroGrad() { zeroGrad(s.params) }
