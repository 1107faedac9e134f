package encoder

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-reader/internal/nn"
	"github.com/23skdu/longbow-reader/internal/simd"
)

// CellType selects the recurrent cell.
type CellType int

const (
	GRU CellType = iota
	LSTM
)

func (c CellType) String() string {
	if c == LSTM {
		return "lstm"
	}
	return "gru"
}

func ParseCellType(s string) (CellType, error) {
	switch s {
	case "gru":
		return GRU, nil
	case "lstm":
		return LSTM, nil
	default:
		return 0, fmt.Errorf("unknown cell type %q (want gru or lstm)", s)
	}
}

// cell is one recurrent step function. State is a flat vector; the hidden
// output occupies state[hiddenOffset():hiddenOffset()+H].
type cell interface {
	parameters() []*nn.Parameter
	stateSize() int
	hiddenOffset() int
	// step returns the next state and whatever stepBackward needs.
	step(x, state []float64) ([]float64, any)
	// stepBackward accumulates parameter gradients and returns the
	// gradients with respect to x and the previous state.
	stepBackward(cache any, dNext []float64) (dx, dState []float64)
}

// affine computes xh*W + b for a (len(xh) x cols) weight.
func affine(w, b *nn.Parameter, xh []float64) []float64 {
	rows, cols := w.Dims()
	out := make([]float64, cols)
	simd.MatVecMul(out, w.Value.Data(), xh, rows, cols)
	simd.VecAdd(out, b.Value.Row(0))
	return out
}

// affineBackward accumulates dW += xh^T dz and db += dz and returns W dz.
func affineBackward(w, b *nn.Parameter, xh, dz []float64) []float64 {
	rows, _ := w.Dims()
	dxh := make([]float64, rows)
	for k := 0; k < rows; k++ {
		if xh[k] != 0 {
			simd.VecAddScaled(w.Grad.Row(k), dz, xh[k])
		}
		dxh[k] = simd.DotProduct(w.Value.Row(k), dz)
	}
	simd.VecAdd(b.Grad.Row(0), dz)
	return dxh
}

func concat(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

func sigmoidInPlace(v []float64) {
	for i, x := range v {
		v[i] = simd.Sigmoid(x)
	}
}

func tanhInPlace(v []float64) {
	for i, x := range v {
		v[i] = math.Tanh(x)
	}
}
