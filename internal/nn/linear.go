package nn

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-reader/internal/device"
)

type Activation int

const (
	Identity Activation = iota
	ReLU
)

// LinearConfig holds the configuration for a dense projection.
type LinearConfig struct {
	InputSize  int
	OutputSize int
	Activation Activation
	Seed       int64
}

// Linear applies act(x * W + b) to every position of every batch element.
type Linear struct {
	Config  LinearConfig
	Backend device.Backend

	Weight *Parameter // InputSize x OutputSize, Xavier
	Bias   *Parameter // 1 x OutputSize, zero
}

// LinearResult keeps the activations Backward needs.
type LinearResult struct {
	Input  Batch
	Output Batch
}

func NewLinear(name string, config LinearConfig, backend device.Backend) *Linear {
	if config.InputSize <= 0 || config.OutputSize <= 0 {
		panic(fmt.Sprintf("NewLinear: invalid size %dx%d", config.InputSize, config.OutputSize))
	}
	rng := rand.New(rand.NewSource(config.Seed))
	return &Linear{
		Config:  config,
		Backend: backend,
		Weight:  NewParameter(backend, name+"/weights", XavierUniform(backend, rng, config.InputSize, config.OutputSize)),
		Bias:    NewParameter(backend, name+"/biases", Zeros(backend, 1, config.OutputSize)),
	}
}

func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.Weight, l.Bias}
}

func (l *Linear) Forward(x Batch) *LinearResult {
	defer TrackLayer("linear", l.Backend.Name())()

	_, _, in := x.Dims()
	if in != l.Config.InputSize {
		panic(fmt.Sprintf("Linear: input width %d, want %d", in, l.Config.InputSize))
	}

	out := make(Batch, len(x))
	ParallelFor(len(x), func(i int) {
		rows, _ := x[i].Dims()
		y := l.Backend.NewTensor(rows, l.Config.OutputSize, nil)
		y.Mul(x[i], l.Weight.Value)
		y.AddBias(l.Bias.Value)
		if l.Config.Activation == ReLU {
			for r := 0; r < rows; r++ {
				row := y.Row(r)
				for j, v := range row {
					if v < 0 {
						row[j] = 0
					}
				}
			}
		}
		out[i] = y
	})
	return &LinearResult{Input: x, Output: out}
}

// Backward accumulates weight and bias gradients and returns dInput.
func (l *Linear) Backward(res *LinearResult, dOut Batch) Batch {
	dx := make(Batch, len(dOut))
	dw := l.Backend.GetTensor(l.Config.InputSize, l.Config.OutputSize)
	defer l.Backend.PutTensor(dw)

	for i, g := range dOut {
		rows, cols := g.Dims()
		dPre := g.Slice(0, rows, 0, cols)
		if l.Config.Activation == ReLU {
			for r := 0; r < rows; r++ {
				for j := 0; j < cols; j++ {
					if res.Output[i].At(r, j) <= 0 {
						dPre.Set(r, j, 0)
					}
				}
			}
		}

		dw.Mul(res.Input[i].T(), dPre)
		l.Weight.Grad.Add(dw)
		for r := 0; r < rows; r++ {
			for j := 0; j < cols; j++ {
				l.Bias.Grad.Set(0, j, l.Bias.Grad.At(0, j)+dPre.At(r, j))
			}
		}

		dx[i] = l.Backend.NewTensor(rows, l.Config.InputSize, nil)
		dx[i].Mul(dPre, l.Weight.Value.T())
	}
	return dx
}
