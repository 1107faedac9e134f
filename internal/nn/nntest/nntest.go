// Package nntest provides helpers for testing components built on nn:
// random inputs, masks and central-difference gradient checks.
package nntest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
)

// Eps is the central-difference step.
const Eps = 1e-6

func RandomTensor(backend device.Backend, rng *rand.Rand, rows, cols int) device.Tensor {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}
	return backend.NewTensor(rows, cols, data)
}

func RandomBatch(backend device.Backend, rng *rand.Rand, n, rows, cols int) nn.Batch {
	b := make(nn.Batch, n)
	for i := range b {
		b[i] = RandomTensor(backend, rng, rows, cols)
	}
	return b
}

// Mask builds a (len(rows) x len(rows[0])) mask tensor.
func Mask(backend device.Backend, rows ...[]float64) device.Tensor {
	data := make([]float64, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		data = append(data, r...)
	}
	return backend.NewTensor(len(rows), len(rows[0]), data)
}

// Contract returns sum(out ⊙ g). Using it as a loss makes g the upstream
// gradient of out.
func Contract(out, g nn.Batch) float64 {
	var s float64
	for i := range out {
		r, c := out[i].Dims()
		for a := 0; a < r; a++ {
			for b := 0; b < c; b++ {
				s += out[i].At(a, b) * g[i].At(a, b)
			}
		}
	}
	return s
}

// NumericGrad perturbs every element of x in place and returns the central
// difference of loss with respect to it. x is restored afterwards.
func NumericGrad(x device.Tensor, loss func() float64) []float64 {
	r, c := x.Dims()
	grad := make([]float64, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			orig := x.At(i, j)
			x.Set(i, j, orig+Eps)
			plus := loss()
			x.Set(i, j, orig-Eps)
			minus := loss()
			x.Set(i, j, orig)
			grad[i*c+j] = (plus - minus) / (2 * Eps)
		}
	}
	return grad
}

// AssertGrad compares an analytic gradient with NumericGrad(x, loss).
func AssertGrad(t *testing.T, name string, analytic, x device.Tensor, loss func() float64) {
	t.Helper()
	want := NumericGrad(x, loss)
	got := analytic.ToHost()
	if !assert.Len(t, got, len(want), name) {
		return
	}
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5, "%s[%d]", name, i)
	}
}
