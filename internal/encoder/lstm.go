package encoder

import (
	"math"
	"math/rand"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
	"github.com/23skdu/longbow-reader/internal/simd"
)

// forgetBias is added to the forget gate pre-activation.
const forgetBias = 1.0

// lstmCell follows the TensorFlow LSTMCell without peepholes or
// projection. The state is [c, h].
//
//	[i, j, f, o] = [x, h] W + b
//	c' = σ(f+1)⊙c + σ(i)⊙tanh(j)
//	h' = σ(o)⊙tanh(c')
type lstmCell struct {
	in, hidden int

	w, b *nn.Parameter // (in+H) x 4H, 1 x 4H
}

type lstmCache struct {
	c, xh          []float64
	i, j, f, o, tc []float64
}

func newLSTMCell(backend device.Backend, rng *rand.Rand, scope string, in, hidden int) *lstmCell {
	return &lstmCell{
		in:     in,
		hidden: hidden,
		w:      nn.NewParameter(backend, scope+"/lstm_cell/kernel", nn.XavierUniform(backend, rng, in+hidden, 4*hidden)),
		b:      nn.NewParameter(backend, scope+"/lstm_cell/bias", nn.Zeros(backend, 1, 4*hidden)),
	}
}

func (l *lstmCell) parameters() []*nn.Parameter {
	return []*nn.Parameter{l.w, l.b}
}

func (l *lstmCell) stateSize() int    { return 2 * l.hidden }
func (l *lstmCell) hiddenOffset() int { return l.hidden }

func (l *lstmCell) step(x, state []float64) ([]float64, any) {
	H := l.hidden
	c, h := state[:H], state[H:]
	xh := concat(x, h)
	z := affine(l.w, l.b, xh)

	st := &lstmCache{
		c:  c,
		xh: xh,
		i:  make([]float64, H),
		j:  make([]float64, H),
		f:  make([]float64, H),
		o:  make([]float64, H),
		tc: make([]float64, H),
	}
	next := make([]float64, 2*H)
	for k := 0; k < H; k++ {
		st.i[k] = simd.Sigmoid(z[k])
		st.j[k] = math.Tanh(z[H+k])
		st.f[k] = simd.Sigmoid(z[2*H+k] + forgetBias)
		st.o[k] = simd.Sigmoid(z[3*H+k])

		next[k] = st.f[k]*c[k] + st.i[k]*st.j[k]
		st.tc[k] = math.Tanh(next[k])
		next[H+k] = st.o[k] * st.tc[k]
	}
	return next, st
}

func (l *lstmCell) stepBackward(cache any, dNext []float64) ([]float64, []float64) {
	st := cache.(*lstmCache)
	H := l.hidden
	dcNext, dhNext := dNext[:H], dNext[H:]

	dz := make([]float64, 4*H)
	dState := make([]float64, 2*H)
	for k := 0; k < H; k++ {
		dc := dcNext[k] + dhNext[k]*st.o[k]*(1-st.tc[k]*st.tc[k])
		do := dhNext[k] * st.tc[k]

		dState[k] = dc * st.f[k]
		dz[k] = dc * st.j[k] * st.i[k] * (1 - st.i[k])
		dz[H+k] = dc * st.i[k] * (1 - st.j[k]*st.j[k])
		dz[2*H+k] = dc * st.c[k] * st.f[k] * (1 - st.f[k])
		dz[3*H+k] = do * st.o[k] * (1 - st.o[k])
	}

	dxh := affineBackward(l.w, l.b, st.xh, dz)
	copy(dState[H:], dxh[l.in:])
	return dxh[:l.in], dState
}
