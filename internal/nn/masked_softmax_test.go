package nn_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
	"github.com/23skdu/longbow-reader/internal/nn/nntest"
)

func assertDistribution(t *testing.T, prob, mask device.Tensor) {
	t.Helper()
	r, c := prob.Dims()
	_, mc := mask.Dims()
	for i := 0; i < r; i++ {
		var sum float64
		for j := 0; j < c; j++ {
			p := prob.At(i, j)
			require.False(t, math.IsNaN(p) || math.IsInf(p, 0), "non-finite prob at %d,%d", i, j)
			sum += p
			mj := j
			if mc == 1 {
				mj = 0
			}
			if mask.At(0, mj) == 0 {
				assert.Less(t, p, 1e-6)
			}
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "row %d", i)
	}
}

func TestMaskedSoftmax(t *testing.T) {
	backend := device.NewCPUBackend()

	t.Run("RowBroadcastMask", func(t *testing.T) {
		logits := backend.NewTensor(2, 3, []float64{1, 2, 3, 4, 5, 6})
		mask := nntest.Mask(backend, []float64{1, 1, 0})

		masked, prob := nn.MaskedSoftmax(logits, mask, 1)

		assertDistribution(t, prob, mask)
		assert.Equal(t, 0.0, prob.At(0, 2))
		assert.Equal(t, 0.0, prob.At(1, 2))
		assert.Equal(t, 1.0, masked.At(0, 0))
		assert.Equal(t, 3+nn.MaskOffset, masked.At(0, 2))
		// input untouched
		assert.Equal(t, 3.0, logits.At(0, 2))

		e := math.Exp(1)
		assert.InDelta(t, 1/(1+e), prob.At(0, 0), 1e-12)
		assert.InDelta(t, e/(1+e), prob.At(0, 1), 1e-12)
	})

	t.Run("ExtremeScores", func(t *testing.T) {
		logits := backend.NewTensor(3, 4, []float64{
			1e6, -1e6, 1e6, 0,
			-1e6, -1e6, -1e6, -1e6,
			0, 1e6, -1e6, 5e5,
		})
		mask := nntest.Mask(backend, []float64{1, 0, 1, 1})

		_, prob := nn.MaskedSoftmax(logits, mask, 1)
		assertDistribution(t, prob, mask)
		assert.InDelta(t, 0.5, prob.At(0, 0), 1e-12)
		assert.Equal(t, 0.0, prob.At(2, 1), "huge masked score still gets zero")
	})

	t.Run("FullShapeMask", func(t *testing.T) {
		logits := backend.NewTensor(2, 2, []float64{3, 1, 2, 7})
		mask := nntest.Mask(backend, []float64{1, 0}, []float64{0, 1})
		_, prob := nn.MaskedSoftmax(logits, mask, 1)
		assert.Equal(t, []float64{1, 0, 0, 1}, prob.ToHost())
	})

	t.Run("ColumnBroadcastAxis0", func(t *testing.T) {
		logits := backend.NewTensor(3, 2, []float64{1, 1, 2, 2, 9, 9})
		mask := backend.NewTensor(3, 1, []float64{1, 1, 0})
		_, prob := nn.MaskedSoftmax(logits, mask, 0)
		for j := 0; j < 2; j++ {
			assert.InDelta(t, 1.0, prob.At(0, j)+prob.At(1, j), 1e-12)
			assert.Equal(t, 0.0, prob.At(2, j))
		}
	})

	t.Run("SingleValidPosition", func(t *testing.T) {
		logits := backend.NewTensor(1, 3, []float64{-4, 100, 3})
		mask := nntest.Mask(backend, []float64{1, 0, 0})
		_, prob := nn.MaskedSoftmax(logits, mask, 1)
		assert.Equal(t, []float64{1, 0, 0}, prob.ToHost())
	})

	t.Run("AllMaskedIsUniform", func(t *testing.T) {
		logits := backend.NewTensor(1, 4, []float64{1, 2, 3, 4})
		mask := nntest.Mask(backend, []float64{0, 0, 0, 0})
		_, prob := nn.MaskedSoftmax(logits, mask, 1)
		assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.25, 0.25}, prob.ToHost(), 1e-12)

		err := nn.CheckMask(mask, 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, nn.ErrAllMasked))
	})

	t.Run("BadShapesPanic", func(t *testing.T) {
		logits := backend.NewTensor(2, 3, nil)
		require.Panics(t, func() { nn.MaskedSoftmax(logits, backend.NewTensor(1, 2, nil), 1) })
		require.Panics(t, func() { nn.MaskedSoftmax(logits, backend.NewTensor(2, 3, nil), 2) })
	})
}

func TestMaskedSoftmax_RandomProperties(t *testing.T) {
	backend := device.NewCPUBackend()
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		rows, cols := 1+rng.Intn(5), 1+rng.Intn(8)
		logits := backend.NewTensor(rows, cols, nil)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				logits.Set(i, j, (rng.Float64()*2-1)*1e6)
			}
		}
		maskData := make([]float64, cols)
		maskData[rng.Intn(cols)] = 1
		for j := range maskData {
			if rng.Intn(2) == 0 {
				maskData[j] = 1
			}
		}
		mask := backend.NewTensor(1, cols, maskData)
		require.NoError(t, nn.CheckMask(mask, 1))

		_, prob := nn.MaskedSoftmax(logits, mask, 1)
		assertDistribution(t, prob, mask)
	}
}

func TestCheckMask(t *testing.T) {
	backend := device.NewCPUBackend()
	mask := nntest.Mask(backend, []float64{1, 0}, []float64{1, 0})

	assert.NoError(t, nn.CheckMask(mask, 1))
	err := nn.CheckMask(mask, 0)
	require.ErrorIs(t, err, nn.ErrAllMasked)
	assert.Contains(t, err.Error(), "column 1")
}

func TestSoftmaxBackward(t *testing.T) {
	backend := device.NewCPUBackend()
	rng := rand.New(rand.NewSource(3))

	for _, axis := range []int{0, 1} {
		logits := nntest.RandomTensor(backend, rng, 3, 4)
		mask := nntest.Mask(backend, []float64{1, 1, 0, 1})
		if axis == 0 {
			mask = backend.NewTensor(3, 1, []float64{1, 0, 1})
		}
		g := nntest.RandomTensor(backend, rng, 3, 4)

		loss := func() float64 {
			_, p := nn.MaskedSoftmax(logits, mask, axis)
			return nntest.Contract(nn.Batch{p}, nn.Batch{g})
		}

		_, prob := nn.MaskedSoftmax(logits, mask, axis)
		dLogits := nn.SoftmaxBackward(prob, g, axis)
		nntest.AssertGrad(t, "dLogits", dLogits, logits, loss)
	}
}
