package device

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	_ = m.Write(&metric)
	if metric.Counter != nil {
		return *metric.Counter.Value
	}
	if metric.Gauge != nil {
		return *metric.Gauge.Value
	}
	return 0
}

func TestCPUBackend_TensorOps(t *testing.T) {
	backend := NewCPUBackend()

	t.Run("Add", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float64{1, 2, 3, 4})
		b := backend.NewTensor(2, 2, []float64{10, 20, 30, 40})

		a.Add(b)

		expected := []float64{11, 22, 33, 44}
		data := a.ToHost()

		for i, v := range expected {
			if math.Abs(data[i]-v) > 1e-6 {
				t.Errorf("Add mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("Mul", func(t *testing.T) {
		// A: 2x3, B: 3x2 -> C: 2x2
		a := backend.NewTensor(2, 3, []float64{
			1, 2, 3,
			4, 5, 6,
		})
		b := backend.NewTensor(3, 2, []float64{
			7, 8,
			9, 10,
			11, 12,
		})

		c := backend.NewTensor(2, 2, nil)
		c.Mul(a, b)

		// 1*7 + 2*9 + 3*11 = 7 + 18 + 33 = 58
		// 1*8 + 2*10 + 3*12 = 8 + 20 + 36 = 64
		// 4*7 + 5*9 + 6*11 = 28 + 45 + 66 = 139
		// 4*8 + 5*10 + 6*12 = 32 + 50 + 72 = 154
		expected := []float64{58, 64, 139, 154}
		data := c.ToHost()

		for i, v := range expected {
			if math.Abs(data[i]-v) > 1e-6 {
				t.Errorf("Mul mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("MulTransposed", func(t *testing.T) {
		// A * A^T for A = [[1 2] [3 4] [5 6]]
		a := backend.NewTensor(3, 2, []float64{1, 2, 3, 4, 5, 6})
		c := backend.NewTensor(3, 3, nil)
		c.Mul(a, a.T())

		expected := []float64{
			5, 11, 17,
			11, 25, 39,
			17, 39, 61,
		}
		assert.InDeltaSlice(t, expected, c.ToHost(), 1e-12)

		r, cols := a.T().Dims()
		assert.Equal(t, 2, r)
		assert.Equal(t, 3, cols)
		assert.Nil(t, a.T().Data())
		assert.Equal(t, []float64{1, 3, 5, 2, 4, 6}, a.T().ToHost())
	})

	t.Run("Scale", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float64{1, 2, 3, 4})
		a.Scale(2.0)

		expected := []float64{2, 4, 6, 8}
		data := a.ToHost()
		for i, v := range expected {
			if math.Abs(data[i]-v) > 1e-6 {
				t.Errorf("Scale mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("ElementWise", func(t *testing.T) {
		a := backend.NewTensor(1, 3, []float64{1, 2, 3})
		b := backend.NewTensor(1, 3, []float64{4, 5, 6})

		a.MulElem(b)
		assert.Equal(t, []float64{4, 10, 18}, a.ToHost())

		a.AddScaled(b, -1)
		assert.Equal(t, []float64{0, 5, 12}, a.ToHost())

		a.AddScalar(1)
		assert.Equal(t, []float64{1, 6, 13}, a.ToHost())
		assert.Equal(t, 20.0, a.Sum())
	})

	t.Run("AddScaledTransposed", func(t *testing.T) {
		a := backend.NewTensor(2, 3, []float64{1, 1, 1, 1, 1, 1})
		x := backend.NewTensor(3, 2, []float64{1, 2, 3, 4, 5, 6})

		a.AddScaled(x.T(), 2)
		assert.Equal(t, []float64{3, 7, 11, 5, 9, 13}, a.ToHost())

		require.Panics(t, func() { a.AddScaled(x, 1) })
		require.Panics(t, func() { a.T().AddScaled(x, 1) })
	})

	t.Run("LinearAndBias", func(t *testing.T) {
		in := backend.NewTensor(2, 2, []float64{1, 0, 0, 1})
		w := backend.NewTensor(2, 3, []float64{1, 2, 3, 4, 5, 6})
		bias := backend.NewTensor(1, 3, []float64{0.5, 0.5, 0.5})

		out := in.Linear(in, w, bias)
		assert.Equal(t, []float64{1.5, 2.5, 3.5, 4.5, 5.5, 6.5}, out.ToHost())

		require.Panics(t, func() { out.AddBias(backend.NewTensor(1, 2, nil)) })
	})

	t.Run("Softmax", func(t *testing.T) {
		a := backend.NewTensor(2, 3, []float64{1, 2, 3, 1e6, 0, -1e6})
		a.Softmax()
		for i := 0; i < 2; i++ {
			var sum float64
			for _, v := range a.Row(i) {
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-12)
		}
		assert.Equal(t, 1.0, a.At(1, 0))
	})

	t.Run("GatherSliceExtract", func(t *testing.T) {
		a := backend.NewTensor(3, 2, []float64{1, 2, 3, 4, 5, 6})

		g := a.Gather([]int{2, 0, 2})
		assert.Equal(t, []float64{5, 6, 1, 2, 5, 6}, g.ToHost())
		require.Panics(t, func() { a.Gather([]int{3}) })

		s := a.Slice(1, 3, 1, 2)
		assert.Equal(t, []float64{4, 6}, s.ToHost())

		dst := make([][]float64, 4)
		a.ExtractTo(dst, 1)
		assert.Nil(t, dst[0])
		assert.Equal(t, []float64{3, 4}, dst[2])
	})

	t.Run("DimensionMismatchPanics", func(t *testing.T) {
		a := backend.NewTensor(2, 3, nil)
		b := backend.NewTensor(2, 3, nil)
		c := backend.NewTensor(2, 2, nil)
		require.Panics(t, func() { c.Mul(a, b) })
		require.Panics(t, func() { a.Add(c) })
		require.Panics(t, func() { backend.NewTensor(0, 3, nil) })
		require.Panics(t, func() { backend.NewTensor(2, 2, []float64{1}) })
	})

	t.Run("Pooling", func(t *testing.T) {
		startHits := getMetricValue(poolHits)
		startMisses := getMetricValue(poolMisses)

		t1 := backend.GetTensor(10, 10)
		t1.Set(0, 0, 123)
		backend.PutTensor(t1)

		t2 := backend.GetTensor(4, 5)
		// Should reuse t1's memory when the pool kept it; verify it is zeroed
		if val := t2.At(0, 0); val != 0 {
			t.Errorf("Pooled tensor not zeroed: got %f", val)
		}
		r, c := t2.Dims()
		assert.Equal(t, 4, r)
		assert.Equal(t, 5, c)

		hits := getMetricValue(poolHits) - startHits
		misses := getMetricValue(poolMisses) - startMisses
		assert.Equal(t, 2.0, hits+misses, "every GetTensor is counted once")
	})
}
