package nn

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/23skdu/longbow-reader/internal/device"
)

// Dropout implements inverted dropout: in Training mode each element is
// kept with probability KeepProb and scaled by 1/KeepProb; in Inference it
// is the identity. A nil *Dropout is always the identity.
type Dropout struct {
	KeepProb float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewDropout(keepProb float64, seed int64) *Dropout {
	if keepProb <= 0 || keepProb > 1 {
		panic(fmt.Sprintf("Dropout: keep probability %v outside (0, 1]", keepProb))
	}
	return &Dropout{
		KeepProb: keepProb,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (d *Dropout) active(mode Mode) bool {
	return d != nil && mode == Training && d.KeepProb < 1
}

// Mask draws a (rows x cols) scaling mask whose entries are 0 or
// 1/KeepProb. It returns nil when dropout is inactive for mode.
func (d *Dropout) Mask(backend device.Backend, rows, cols int, mode Mode) device.Tensor {
	if !d.active(mode) {
		return nil
	}
	scale := 1 / d.KeepProb
	data := make([]float64, rows*cols)

	d.mu.Lock()
	for i := range data {
		if d.rng.Float64() < d.KeepProb {
			data[i] = scale
		}
	}
	d.mu.Unlock()

	return backend.NewTensor(rows, cols, data)
}

// Forward applies dropout to every batch element. When dropout is inactive
// it returns x itself and nil masks; callers must not mutate the result in
// that case.
func (d *Dropout) Forward(backend device.Backend, x Batch, mode Mode) (Batch, Batch) {
	if !d.active(mode) {
		return x, nil
	}
	out := make(Batch, len(x))
	masks := make(Batch, len(x))
	for i, t := range x {
		r, c := t.Dims()
		masks[i] = d.Mask(backend, r, c, mode)
		out[i] = t.Slice(0, r, 0, c)
		out[i].MulElem(masks[i])
	}
	return out, masks
}

// Backward routes dOut through the masks recorded by Forward.
func (d *Dropout) Backward(dOut Batch, masks Batch) Batch {
	if masks == nil {
		return dOut
	}
	out := make(Batch, len(dOut))
	for i, t := range dOut {
		r, c := t.Dims()
		out[i] = t.Slice(0, r, 0, c)
		out[i].MulElem(masks[i])
	}
	return out
}
