package device

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-reader/internal/simd"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ Tensor = (*CPUTensor)(nil)

// CPUBackend stores tensors in gonum dense matrices. Matrix products go
// through gonum's BLAS, which can be swapped for netlib with -tags netlib.
type CPUBackend struct {
	pool sync.Pool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) NewTensor(r, c int, data []float64) Tensor {
	if r <= 0 || c <= 0 {
		panic(fmt.Sprintf("NewTensor: invalid dimensions %dx%d", r, c))
	}
	var buf []float64
	if data != nil {
		if len(data) != r*c {
			panic("NewTensor: provided data length does not match dimensions")
		}
		buf = make([]float64, r*c)
		copy(buf, data)
	}
	return &CPUTensor{backend: b, m: mat.NewDense(r, c, buf)}
}

func (b *CPUBackend) GetTensor(r, c int) Tensor {
	if r <= 0 || c <= 0 {
		panic(fmt.Sprintf("GetTensor: invalid dimensions %dx%d", r, c))
	}
	if v := b.pool.Get(); v != nil {
		d := v.(*mat.Dense)
		// ReuseAs zeroes the backing data.
		d.ReuseAs(r, c)
		poolHits.Inc()
		return &CPUTensor{backend: b, m: d}
	}
	poolMisses.Inc()
	return &CPUTensor{backend: b, m: mat.NewDense(r, c, nil)}
}

func (b *CPUBackend) PutTensor(t Tensor) {
	ct, ok := t.(*CPUTensor)
	if !ok || ct.trans || ct.m == nil {
		return // Don't pool foreign tensors or shared views
	}
	d := ct.m
	ct.m = nil
	d.Reset()
	b.pool.Put(d)
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}

// CPUTensor is a Tensor backed by a *mat.Dense.
type CPUTensor struct {
	backend *CPUBackend
	m       *mat.Dense
	trans   bool // Transposed view flag
}

// Dense exposes the backing matrix. Transposed views return the
// untransposed storage.
func (t *CPUTensor) Dense() *mat.Dense {
	return t.m
}

func (t *CPUTensor) matrix() mat.Matrix {
	if t.trans {
		return t.m.T()
	}
	return t.m
}

func (t *CPUTensor) mustOwn(op string) {
	if t.trans {
		panic(op + " not supported on transposed tensor views directly")
	}
}

func asCPU(op string, other Tensor) *CPUTensor {
	ct, ok := other.(*CPUTensor)
	if !ok {
		panic("Mixed backend " + op + " not supported")
	}
	return ct
}

func (t *CPUTensor) Dims() (int, int) {
	r, c := t.m.Dims()
	if t.trans {
		return c, r
	}
	return r, c
}

func (t *CPUTensor) At(i, j int) float64 {
	if t.trans {
		return t.m.At(j, i)
	}
	return t.m.At(i, j)
}

func (t *CPUTensor) Set(i, j int, v float64) {
	if t.trans {
		t.m.Set(j, i, v)
		return
	}
	t.m.Set(i, j, v)
}

func (t *CPUTensor) Data() []float64 {
	// If transposed, data is not contiguous in logical order
	if t.trans {
		return nil
	}
	raw := t.m.RawMatrix()
	if raw.Stride != raw.Cols {
		return nil
	}
	return raw.Data[:raw.Rows*raw.Cols]
}

func (t *CPUTensor) Row(i int) []float64 {
	t.mustOwn("Row")
	return t.m.RawRowView(i)
}

func (t *CPUTensor) ToHost() []float64 {
	rows, cols := t.Dims()
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = t.At(i, j)
		}
	}
	return out
}

func (t *CPUTensor) CopyFromFloat64(data []float64) {
	t.mustOwn("CopyFromFloat64")
	r, c := t.m.Dims()
	if len(data) != r*c {
		panic(fmt.Sprintf("CopyFromFloat64: size mismatch. Tensor: %dx%d, data: %d", r, c, len(data)))
	}
	for i := 0; i < r; i++ {
		copy(t.m.RawRowView(i), data[i*c:(i+1)*c])
	}
}

func (t *CPUTensor) Copy(from Tensor) {
	ft := asCPU("Copy", from)
	tr, tc := t.Dims()
	fr, fc := ft.Dims()
	if tr != fr || tc != fc {
		panic(fmt.Sprintf("Copy: dimension mismatch. Target: %dx%d, Source: %dx%d", tr, tc, fr, fc))
	}
	t.mustOwn("Copy")
	t.m.Copy(ft.matrix())
}

func (t *CPUTensor) Slice(i, k, j, l int) Tensor {
	sliceRows := k - i
	sliceCols := l - j
	if sliceRows <= 0 || sliceCols <= 0 {
		panic("Slice: invalid dimensions")
	}

	// This is a copy, not a view.
	out := t.backend.NewTensor(sliceRows, sliceCols, nil)
	for rowIdx := 0; rowIdx < sliceRows; rowIdx++ {
		for colIdx := 0; colIdx < sliceCols; colIdx++ {
			out.Set(rowIdx, colIdx, t.At(i+rowIdx, j+colIdx))
		}
	}
	return out
}

func (t *CPUTensor) T() Tensor {
	return &CPUTensor{
		backend: t.backend,
		m:       t.m, // Share data
		trans:   !t.trans,
	}
}

func (t *CPUTensor) Mul(a, b Tensor) {
	ma := asCPU("Mul", a)
	mb := asCPU("Mul", b)

	ar, ac := ma.Dims()
	br, bc := mb.Dims()
	if ac != br {
		panic(fmt.Sprintf("Mul: dimension mismatch. A cols (%d) != B rows (%d)", ac, br))
	}
	tr, tc := t.Dims()
	if tr != ar || tc != bc {
		panic(fmt.Sprintf("Mul: result tensor dimension mismatch. Expected %dx%d, got %dx%d", ar, bc, tr, tc))
	}
	t.mustOwn("Mul")
	t.m.Mul(ma.matrix(), mb.matrix())
}

func (t *CPUTensor) sameDims(op string, other *CPUTensor) {
	tr, tc := t.Dims()
	or, oc := other.Dims()
	if tr != or || tc != oc {
		panic(fmt.Sprintf("%s: dimension mismatch. Target: %dx%d, Other: %dx%d", op, tr, tc, or, oc))
	}
}

func (t *CPUTensor) Add(other Tensor) {
	ot := asCPU("Add", other)
	t.sameDims("Add", ot)
	t.mustOwn("Add")
	t.m.Add(t.m, ot.matrix())
}

func (t *CPUTensor) AddScaled(other Tensor, alpha float64) {
	ot := asCPU("AddScaled", other)
	t.sameDims("AddScaled", ot)
	t.mustOwn("AddScaled")

	r, c := t.Dims()
	otherRow := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			otherRow[j] = ot.At(i, j)
		}
		simd.VecAddScaled(t.m.RawRowView(i), otherRow, alpha)
	}
}

func (t *CPUTensor) MulElem(other Tensor) {
	ot := asCPU("MulElem", other)
	t.sameDims("MulElem", ot)
	t.mustOwn("MulElem")
	t.m.MulElem(t.m, ot.matrix())
}

func (t *CPUTensor) AddScalar(val float64) {
	t.mustOwn("AddScalar")
	t.m.Apply(func(_, _ int, v float64) float64 { return v + val }, t.m)
}

func (t *CPUTensor) Scale(val float64) {
	t.mustOwn("Scale")
	t.m.Scale(val, t.m)
}

func (t *CPUTensor) AddBias(bias Tensor) {
	bt := asCPU("AddBias", bias)
	t.mustOwn("AddBias")

	r, c := t.Dims()
	br, bc := bt.Dims()
	if br != 1 || bc != c {
		panic(fmt.Sprintf("AddBias: bias must be 1x%d, got %dx%d", c, br, bc))
	}
	biasData := make([]float64, c)
	for j := 0; j < c; j++ {
		biasData[j] = bt.At(0, j)
	}
	for i := 0; i < r; i++ {
		simd.VecAdd(t.m.RawRowView(i), biasData)
	}
}

func (t *CPUTensor) Softmax() {
	t.mustOwn("Softmax")
	r, _ := t.Dims()
	for i := 0; i < r; i++ {
		simd.Softmax(t.m.RawRowView(i))
	}
}

func (t *CPUTensor) Sum() float64 {
	return mat.Sum(t.m)
}

func (t *CPUTensor) Gather(indices []int) Tensor {
	r, c := t.Dims()
	if len(indices) == 0 {
		panic("Gather: no indices")
	}
	outData := make([]float64, len(indices)*c)
	for i, idx := range indices {
		if idx < 0 || idx >= r {
			panic(fmt.Sprintf("Gather index %d out of bounds [0, %d)", idx, r))
		}
		for j := 0; j < c; j++ {
			outData[i*c+j] = t.At(idx, j)
		}
	}
	return t.backend.NewTensor(len(indices), c, outData)
}

func (t *CPUTensor) Linear(input, weight, bias Tensor) Tensor {
	r, _ := input.Dims()
	_, wc := weight.Dims()

	result := t.backend.GetTensor(r, wc)
	result.Mul(input, weight)

	if bias != nil {
		result.AddBias(bias)
	}

	return result
}

func (t *CPUTensor) ExtractTo(destination [][]float64, startRow int) {
	r, c := t.Dims()
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		for j := 0; j < c; j++ {
			row[j] = t.At(i, j)
		}
		destination[startRow+i] = row
	}
}
