package nn

import (
	"math"
	"math/rand"

	"github.com/23skdu/longbow-reader/internal/device"
)

// XavierUniform returns a (rows x cols) tensor drawn from
// U(-limit, limit) with limit = sqrt(6 / (rows + cols)).
func XavierUniform(backend device.Backend, rng *rand.Rand, rows, cols int) device.Tensor {
	return XavierUniformFan(backend, rng, rows, cols, rows, cols)
}

// XavierUniformFan is XavierUniform with explicit fan sizes, for weights
// whose 2-D layout flattens a larger shape (convolution kernels).
func XavierUniformFan(backend device.Backend, rng *rand.Rand, rows, cols, fanIn, fanOut int) device.Tensor {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return backend.NewTensor(rows, cols, data)
}

func Zeros(backend device.Backend, rows, cols int) device.Tensor {
	return backend.NewTensor(rows, cols, nil)
}

func Constant(backend device.Backend, rows, cols int, v float64) device.Tensor {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = v
	}
	return backend.NewTensor(rows, cols, data)
}
