package simd

import (
	"math"
	"testing"
)

func TestVecAdd(t *testing.T) {
	dst := []float64{1, 2, 3, 4, 5}
	src := []float64{10, 20, 30, 40, 50}
	expected := []float64{11, 22, 33, 44, 55}

	VecAdd(dst, src)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecAdd(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestVecAddScaled(t *testing.T) {
	dst := []float64{1, 2, 3, 4, 5}
	src := []float64{10, 20, 30, 40, 50}
	expected := []float64{6, 12, 18, 24, 30}

	VecAddScaled(dst, src, 0.5)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecAddScaled(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestVecMul(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 2, 2, 2, -1}
	dst := make([]float64, 5)
	VecMul(dst, a, b)
	expected := []float64{2, 4, 6, 8, -5}
	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecMul(%d) = %f, want %f", i, v, expected[i])
		}
	}

	VecMulAdd(dst, a, b)
	for i, v := range dst {
		if v != 2*expected[i] {
			t.Errorf("VecMulAdd(%d) = %f, want %f", i, v, 2*expected[i])
		}
	}
}

func TestDotProduct(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 3, 4, 5, 6}
	// 2 + 6 + 12 + 20 + 30 = 70
	if result := DotProduct(a, b); result != 70 {
		t.Errorf("DotProduct = %f, want 70", result)
	}
}

func TestMatVecMul(t *testing.T) {
	// 2x3 matrix
	mat := []float64{
		1, 2, 3,
		4, 5, 6,
	}
	vec := []float64{1, 2}
	dst := []float64{9, 9, 9}

	// [1 2] * mat = [1+8, 2+10, 3+12]
	expected := []float64{9, 12, 15}

	MatVecMul(dst, mat, vec, 2, 3)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("MatVecMul(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestReductions(t *testing.T) {
	a := []float64{3, -1, 7, 7, 2}
	if got := Max(a); got != 7 {
		t.Errorf("Max = %f, want 7", got)
	}
	if got := ArgMax(a); got != 2 {
		t.Errorf("ArgMax = %d, want 2", got)
	}
	if got := Sum(a); got != 18 {
		t.Errorf("Sum = %f, want 18", got)
	}
}

func TestSoftmax(t *testing.T) {
	tests := []struct {
		name string
		row  []float64
	}{
		{"small", []float64{1, 2, 3}},
		{"large positive", []float64{1e6, 1e6 - 1, 0}},
		{"large negative", []float64{-1e6, -1e6 + 2, -1e6 + 1}},
		{"single", []float64{42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := append([]float64(nil), tt.row...)
			Softmax(row)
			var sum float64
			for _, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("non-finite output %v", row)
				}
				sum += v
			}
			if math.Abs(sum-1) > 1e-12 {
				t.Errorf("sum = %v, want 1", sum)
			}
		})
	}
}

func TestSoftmaxGrad(t *testing.T) {
	logits := []float64{0.3, -1.2, 2.0, 0.5}
	dp := []float64{0.1, -0.4, 0.7, 0.2}

	p := append([]float64(nil), logits...)
	Softmax(p)
	got := make([]float64, len(p))
	SoftmaxGrad(got, p, dp)

	const eps = 1e-6
	for i := range logits {
		plus := append([]float64(nil), logits...)
		minus := append([]float64(nil), logits...)
		plus[i] += eps
		minus[i] -= eps
		Softmax(plus)
		Softmax(minus)
		want := (DotProduct(plus, dp) - DotProduct(minus, dp)) / (2 * eps)
		if math.Abs(got[i]-want) > 1e-6 {
			t.Errorf("grad[%d] = %v, want %v", i, got[i], want)
		}
	}
}

func TestSigmoid(t *testing.T) {
	inputs := []float64{-800, -10, -1, 0, 1, 10, 800}
	for _, x := range inputs {
		got := Sigmoid(x)
		if math.IsNaN(got) || got < 0 || got > 1 {
			t.Errorf("Sigmoid(%v) = %v", x, got)
		}
	}
	if got := Sigmoid(0); got != 0.5 {
		t.Errorf("Sigmoid(0) = %v, want 0.5", got)
	}
	if got := Sigmoid(2); math.Abs(got-1/(1+math.Exp(-2))) > 1e-15 {
		t.Errorf("Sigmoid(2) = %v", got)
	}
}
