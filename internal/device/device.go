package device

// Tensor is a dense two-dimensional float64 array resident on a backend.
// Sequence batches are represented as one Tensor per batch element
// (length x features); masks as a (batch x length) Tensor.
type Tensor interface {
	// Dims returns the dimensions (rows, cols) of the tensor.
	Dims() (int, int)

	// At returns the value at (i, j).
	At(i, j int) float64

	// Set sets the value at (i, j).
	Set(i, j int, v float64)

	// Data returns the underlying row-major slice (nil for transposed views).
	Data() []float64

	// Row returns row i as a slice sharing storage with the tensor.
	// Panics on transposed views.
	Row(i int) []float64

	// ToHost copies the data to a new row-major slice.
	ToHost() []float64

	// CopyFromFloat64 copies data from a row-major slice into the tensor.
	CopyFromFloat64(data []float64)

	// Copy copies content from another tensor of the same dims.
	Copy(from Tensor)

	// Slice copies the sub-matrix rows [i, k) and cols [j, l).
	Slice(i, k, j, l int) Tensor

	// T returns the transpose view. The view shares storage.
	T() Tensor

	// Mul performs matrix multiplication: t = a * b
	Mul(a, b Tensor)

	// Add performs element-wise addition: t = t + other
	Add(other Tensor)

	// AddScaled performs t = t + alpha * other
	AddScaled(other Tensor, alpha float64)

	// MulElem performs element-wise multiplication: t = t ⊙ other
	MulElem(other Tensor)

	// AddScalar performs: t = t + val
	AddScalar(val float64)

	// Scale performs: t = t * val
	Scale(val float64)

	// AddBias adds a 1xN bias row to every row.
	AddBias(bias Tensor)

	// Softmax applies a row-wise stable softmax in place.
	Softmax()

	// Sum returns the sum of all elements.
	Sum() float64

	// Gather collects rows based on indices. Returns new Tensor.
	Gather(indices []int) Tensor

	// Linear performs a fused MatMul + BiasAdd: input * weight + bias.
	// bias may be nil.
	Linear(input, weight, bias Tensor) Tensor

	// ExtractTo copies each row into destination[startRow+i].
	ExtractTo(destination [][]float64, startRow int)
}

// Backend creates tensors and manages device memory.
type Backend interface {
	Name() string
	NewTensor(r, c int, data []float64) Tensor

	// GetTensor gets a zeroed tensor from the pool or creates a new one.
	GetTensor(r, c int) Tensor

	// PutTensor returns a tensor to the pool.
	PutTensor(t Tensor)

	// Synchronize blocks until all queued operations are complete.
	Synchronize()
}
