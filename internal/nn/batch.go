package nn

import (
	"fmt"

	"github.com/23skdu/longbow-reader/internal/device"
)

// Batch is a batch of sequences: one (length x features) tensor per batch
// element. All elements share the same length and feature width.
type Batch []device.Tensor

// NewBatch allocates n zeroed (rows x cols) tensors.
func NewBatch(backend device.Backend, n, rows, cols int) Batch {
	b := make(Batch, n)
	for i := range b {
		b[i] = backend.NewTensor(rows, cols, nil)
	}
	return b
}

// Dims returns (batch, length, features). It panics if the elements
// disagree on shape.
func (b Batch) Dims() (int, int, int) {
	if len(b) == 0 {
		return 0, 0, 0
	}
	r, c := b[0].Dims()
	for i, t := range b[1:] {
		tr, tc := t.Dims()
		if tr != r || tc != c {
			panic(fmt.Sprintf("Batch: element %d is %dx%d, element 0 is %dx%d", i+1, tr, tc, r, c))
		}
	}
	return len(b), r, c
}

// MustMatchMask panics unless mask is (batch x length) for this batch.
func (b Batch) MustMatchMask(op string, mask device.Tensor) {
	n, length, _ := b.Dims()
	mr, mc := mask.Dims()
	if mr != n || mc != length {
		panic(fmt.Sprintf("%s: mask is %dx%d, sequences are batch=%d length=%d", op, mr, mc, n, length))
	}
}

// Add accumulates other into b element-wise.
func (b Batch) Add(other Batch) {
	if len(b) != len(other) {
		panic(fmt.Sprintf("Batch.Add: batch size mismatch %d vs %d", len(b), len(other)))
	}
	for i := range b {
		b[i].Add(other[i])
	}
}

// Host copies every element to a row-major slice.
func (b Batch) Host() [][]float64 {
	out := make([][]float64, len(b))
	for i, t := range b {
		out[i] = t.ToHost()
	}
	return out
}

// MaskRow returns row i of a (batch x length) mask as a 1 x length tensor.
func MaskRow(mask device.Tensor, i int) device.Tensor {
	_, c := mask.Dims()
	return mask.Slice(i, i+1, 0, c)
}

// MaskLengths returns the number of valid positions in each mask row.
// Masks are right-padded, so this is also the index of the first padding
// position.
func MaskLengths(mask device.Tensor) []int {
	r, c := mask.Dims()
	lengths := make([]int, r)
	for i := 0; i < r; i++ {
		n := 0
		for j := 0; j < c; j++ {
			if mask.At(i, j) != 0 {
				n++
			}
		}
		lengths[i] = n
	}
	return lengths
}

// ConcatCols joins tensors with equal row counts side by side.
func ConcatCols(backend device.Backend, parts ...device.Tensor) device.Tensor {
	if len(parts) == 0 {
		panic("ConcatCols: no inputs")
	}
	rows, _ := parts[0].Dims()
	total := 0
	for i, p := range parts {
		r, c := p.Dims()
		if r != rows {
			panic(fmt.Sprintf("ConcatCols: part %d has %d rows, want %d", i, r, rows))
		}
		total += c
	}

	out := backend.NewTensor(rows, total, nil)
	off := 0
	for _, p := range parts {
		_, c := p.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < c; j++ {
				out.Set(i, off+j, p.At(i, j))
			}
		}
		off += c
	}
	return out
}

// SplitCols is the inverse of ConcatCols.
func SplitCols(t device.Tensor, widths ...int) []device.Tensor {
	r, c := t.Dims()
	sum := 0
	for _, w := range widths {
		sum += w
	}
	if sum != c {
		panic(fmt.Sprintf("SplitCols: widths sum to %d, tensor has %d cols", sum, c))
	}
	out := make([]device.Tensor, len(widths))
	off := 0
	for i, w := range widths {
		out[i] = t.Slice(0, r, off, off+w)
		off += w
	}
	return out
}
