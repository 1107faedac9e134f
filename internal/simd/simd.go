package simd

import "math"

// Softmax applies a numerically stable softmax in-place to a row.
// The row maximum is subtracted before exponentiating so large scores
// never overflow.
func Softmax(row []float64) {
	if len(row) == 0 {
		return
	}
	max := Max(row)

	var sum float64
	for i, v := range row {
		row[i] = math.Exp(v - max)
		sum += row[i]
	}

	invSum := 1.0 / sum
	for i := range row {
		row[i] *= invSum
	}
}

// SoftmaxGrad writes the gradient of a softmax row into dst given the
// softmax output p and the upstream gradient dp:
// dst[i] = p[i] * (dp[i] - sum_j p[j]*dp[j]).
func SoftmaxGrad(dst, p, dp []float64) {
	dot := DotProduct(p, dp)
	for i := range dst {
		dst[i] = p[i] * (dp[i] - dot)
	}
}

// Max returns the largest element of a non-empty vector.
func Max(a []float64) float64 {
	m := a[0]
	for _, v := range a[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// ArgMax returns the index of the first largest element of a non-empty vector.
func ArgMax(a []float64) int {
	best := 0
	for i := 1; i < len(a); i++ {
		if a[i] > a[best] {
			best = i
		}
	}
	return best
}

// Sum returns the sum of the vector elements.
func Sum(a []float64) float64 {
	var s float64
	i := 0
	for ; i <= len(a)-4; i += 4 {
		s += a[i] + a[i+1] + a[i+2] + a[i+3]
	}
	for ; i < len(a); i++ {
		s += a[i]
	}
	return s
}

// VecAdd performs dst += src for float64 vectors
func VecAdd(dst, src []float64) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// VecAddScaled performs dst += src * scale for float64 vectors
func VecAddScaled(dst, src []float64, scale float64) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i] * scale
		dst[i+1] += src[i+1] * scale
		dst[i+2] += src[i+2] * scale
		dst[i+3] += src[i+3] * scale
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i] * scale
	}
}

// VecMul performs dst[i] = a[i] * b[i].
func VecMul(dst, a, b []float64) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] = a[i] * b[i]
		dst[i+1] = a[i+1] * b[i+1]
		dst[i+2] = a[i+2] * b[i+2]
		dst[i+3] = a[i+3] * b[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] = a[i] * b[i]
	}
}

// VecMulAdd performs dst[i] += a[i] * b[i].
func VecMulAdd(dst, a, b []float64) {
	for i := range dst {
		dst[i] += a[i] * b[i]
	}
}

// DotProduct computes the dot product of two float64 vectors
func DotProduct(a, b []float64) float64 {
	var sum float64
	i := 0
	for ; i <= len(a)-4; i += 4 {
		sum += a[i] * b[i]
		sum += a[i+1] * b[i+1]
		sum += a[i+2] * b[i+2]
		sum += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// MatVecMul performs dst = vec * mat where mat is rows x cols row-major and
// vec has length rows. dst has length cols and is overwritten.
func MatVecMul(dst []float64, mat []float64, vec []float64, rows, cols int) {
	for j := range dst[:cols] {
		dst[j] = 0
	}
	for i := 0; i < rows; i++ {
		if vec[i] == 0 {
			continue
		}
		VecAddScaled(dst[:cols], mat[i*cols:(i+1)*cols], vec[i])
	}
}

// Sigmoid is the logistic function, evaluated without overflow for large |x|.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
