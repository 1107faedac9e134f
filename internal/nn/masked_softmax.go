package nn

import (
	"fmt"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/simd"
)

// MaskOffset is added to the logits of masked positions. It dominates any
// realistic score while staying finite, so exp underflows to exactly zero.
const MaskOffset = -1e30

// MaskedSoftmax returns the masked logits, logits + (1-mask)*MaskOffset,
// and their softmax along axis (0 normalises each column, 1 each row).
//
// mask is either the shape of logits, 1 x cols (broadcast over rows) or
// rows x 1 (broadcast over columns). Masked positions get probability
// exactly 0 whenever the line has at least one valid position. A line with
// no valid position yields a uniform distribution; see CheckMask.
func MaskedSoftmax(logits, mask device.Tensor, axis int) (masked, prob device.Tensor) {
	r, c := logits.Dims()
	mr, mc := mask.Dims()
	if (mr != r && mr != 1) || (mc != c && mc != 1) {
		panic(fmt.Sprintf("MaskedSoftmax: mask %dx%d does not broadcast to logits %dx%d", mr, mc, r, c))
	}
	checkAxis("MaskedSoftmax", axis)

	masked = logits.Slice(0, r, 0, c)
	for i := 0; i < r; i++ {
		mi := i
		if mr == 1 {
			mi = 0
		}
		for j := 0; j < c; j++ {
			mj := j
			if mc == 1 {
				mj = 0
			}
			if m := mask.At(mi, mj); m != 1 {
				masked.Set(i, j, masked.At(i, j)+(1-m)*MaskOffset)
			}
		}
	}

	prob = masked.Slice(0, r, 0, c)
	softmaxAlong(prob, axis)
	return masked, prob
}

// SoftmaxBackward maps the gradient with respect to a softmax output back
// to its logits. Since the mask offset is constant, the result is also the
// gradient with respect to the unmasked logits.
func SoftmaxBackward(prob, dProb device.Tensor, axis int) device.Tensor {
	r, c := prob.Dims()
	dr, dc := dProb.Dims()
	if r != dr || c != dc {
		panic(fmt.Sprintf("SoftmaxBackward: prob %dx%d, grad %dx%d", r, c, dr, dc))
	}
	checkAxis("SoftmaxBackward", axis)

	out := prob.Slice(0, r, 0, c)
	if axis == 1 {
		p := make([]float64, c)
		dp := make([]float64, c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				p[j] = prob.At(i, j)
				dp[j] = dProb.At(i, j)
			}
			simd.SoftmaxGrad(p, p, dp)
			for j := 0; j < c; j++ {
				out.Set(i, j, p[j])
			}
		}
		return out
	}

	p := make([]float64, r)
	dp := make([]float64, r)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			p[i] = prob.At(i, j)
			dp[i] = dProb.At(i, j)
		}
		simd.SoftmaxGrad(p, p, dp)
		for i := 0; i < r; i++ {
			out.Set(i, j, p[i])
		}
	}
	return out
}

// CheckMask reports ErrAllMasked if any line of mask along axis has no
// valid position.
func CheckMask(mask device.Tensor, axis int) error {
	checkAxis("CheckMask", axis)
	r, c := mask.Dims()
	if axis == 1 {
		for i := 0; i < r; i++ {
			valid := false
			for j := 0; j < c && !valid; j++ {
				valid = mask.At(i, j) != 0
			}
			if !valid {
				return fmt.Errorf("%w: row %d", ErrAllMasked, i)
			}
		}
		return nil
	}
	for j := 0; j < c; j++ {
		valid := false
		for i := 0; i < r && !valid; i++ {
			valid = mask.At(i, j) != 0
		}
		if !valid {
			return fmt.Errorf("%w: column %d", ErrAllMasked, j)
		}
	}
	return nil
}

func checkAxis(op string, axis int) {
	if axis != 0 && axis != 1 {
		panic(fmt.Sprintf("%s: axis must be 0 or 1, got %d", op, axis))
	}
}

func softmaxAlong(t device.Tensor, axis int) {
	r, c := t.Dims()
	if axis == 1 {
		t.Softmax()
		return
	}
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			col[i] = t.At(i, j)
		}
		simd.Softmax(col)
		for i := 0; i < r; i++ {
			t.Set(i, j, col[i])
		}
	}
}
