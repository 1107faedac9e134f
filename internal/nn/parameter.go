package nn

import "github.com/23skdu/longbow-reader/internal/device"

// Parameter is a trainable tensor owned by a component together with its
// accumulated gradient.
type Parameter struct {
	Name  string
	Value device.Tensor
	Grad  device.Tensor
}

// NewParameter wraps value and allocates a zero gradient of the same shape.
func NewParameter(backend device.Backend, name string, value device.Tensor) *Parameter {
	r, c := value.Dims()
	return &Parameter{
		Name:  name,
		Value: value,
		Grad:  backend.NewTensor(r, c, nil),
	}
}

func (p *Parameter) Dims() (int, int) {
	return p.Value.Dims()
}

// Size is the number of scalars in the parameter.
func (p *Parameter) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	r, c := p.Grad.Dims()
	p.Grad.CopyFromFloat64(make([]float64, r*c))
}

// Update applies Value += alpha * delta. It is the only mutation path for
// parameter values and is called by optimizers, never by Forward.
func (p *Parameter) Update(delta device.Tensor, alpha float64) {
	p.Value.AddScaled(delta, alpha)
}
