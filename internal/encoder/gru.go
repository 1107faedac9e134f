package encoder

import (
	"math/rand"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
)

// gruCell follows the TensorFlow GRUCell:
//
//	[r, u] = σ([x, h] Wg + bg)
//	c      = tanh([x, r⊙h] Wc + bc)
//	h'     = u⊙h + (1-u)⊙c
//
// bg starts at 1.0 so the cell initially carries its state forward.
type gruCell struct {
	in, hidden int

	gateW, gateB *nn.Parameter // (in+H) x 2H, 1 x 2H
	candW, candB *nn.Parameter // (in+H) x H, 1 x H
}

type gruCache struct {
	h, xh, xrh []float64
	r, u, c    []float64
}

func newGRUCell(backend device.Backend, rng *rand.Rand, scope string, in, hidden int) *gruCell {
	return &gruCell{
		in:     in,
		hidden: hidden,
		gateW:  nn.NewParameter(backend, scope+"/gru_cell/gates/kernel", nn.XavierUniform(backend, rng, in+hidden, 2*hidden)),
		gateB:  nn.NewParameter(backend, scope+"/gru_cell/gates/bias", nn.Constant(backend, 1, 2*hidden, 1.0)),
		candW:  nn.NewParameter(backend, scope+"/gru_cell/candidate/kernel", nn.XavierUniform(backend, rng, in+hidden, hidden)),
		candB:  nn.NewParameter(backend, scope+"/gru_cell/candidate/bias", nn.Zeros(backend, 1, hidden)),
	}
}

func (g *gruCell) parameters() []*nn.Parameter {
	return []*nn.Parameter{g.gateW, g.gateB, g.candW, g.candB}
}

func (g *gruCell) stateSize() int    { return g.hidden }
func (g *gruCell) hiddenOffset() int { return 0 }

func (g *gruCell) step(x, h []float64) ([]float64, any) {
	H := g.hidden
	xh := concat(x, h)
	gates := affine(g.gateW, g.gateB, xh)
	sigmoidInPlace(gates)
	r, u := gates[:H], gates[H:]

	rh := make([]float64, H)
	for k := range rh {
		rh[k] = r[k] * h[k]
	}
	xrh := concat(x, rh)
	c := affine(g.candW, g.candB, xrh)
	tanhInPlace(c)

	next := make([]float64, H)
	for k := range next {
		next[k] = u[k]*h[k] + (1-u[k])*c[k]
	}
	return next, &gruCache{h: h, xh: xh, xrh: xrh, r: r, u: u, c: c}
}

func (g *gruCell) stepBackward(cache any, dNext []float64) ([]float64, []float64) {
	st := cache.(*gruCache)
	H := g.hidden

	dh := make([]float64, H)
	du := make([]float64, H)
	dcPre := make([]float64, H)
	for k := 0; k < H; k++ {
		du[k] = dNext[k] * (st.h[k] - st.c[k])
		dh[k] = dNext[k] * st.u[k]
		dc := dNext[k] * (1 - st.u[k])
		dcPre[k] = dc * (1 - st.c[k]*st.c[k])
	}

	dxrh := affineBackward(g.candW, g.candB, st.xrh, dcPre)
	dx := dxrh[:g.in]
	dRH := dxrh[g.in:]

	dgPre := make([]float64, 2*H)
	for k := 0; k < H; k++ {
		dr := dRH[k] * st.h[k]
		dh[k] += dRH[k] * st.r[k]
		dgPre[k] = dr * st.r[k] * (1 - st.r[k])
		dgPre[H+k] = du[k] * st.u[k] * (1 - st.u[k])
	}

	dxh := affineBackward(g.gateW, g.gateB, st.xh, dgPre)
	for k := range dx {
		dx[k] += dxh[k]
	}
	for k := range dh {
		dh[k] += dxh[g.in+k]
	}
	return dx, dh
}
