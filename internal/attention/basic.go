package attention

import (
	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
)

var _ Attention = (*BasicAttn)(nil)

// BasicAttnConfig holds the configuration for dot-product attention.
type BasicAttnConfig struct {
	KeepProb float64
	Seed     int64
}

func DefaultBasicAttnConfig() BasicAttnConfig {
	return BasicAttnConfig{KeepProb: 0.85, Seed: 42}
}

// BasicAttn scores keys against values with a dot product and returns, for
// each key, the distribution-weighted sum of the value vectors.
type BasicAttn struct {
	Config  BasicAttnConfig
	Backend device.Backend

	dropout *nn.Dropout
}

func NewBasicAttn(config BasicAttnConfig, backend device.Backend) *BasicAttn {
	return &BasicAttn{
		Config:  config,
		Backend: backend,
		dropout: nn.NewDropout(config.KeepProb, config.Seed),
	}
}

func (a *BasicAttn) Parameters() []*nn.Parameter { return nil }

func (a *BasicAttn) OutputWidth(d int) int { return d }

func (a *BasicAttn) Forward(keys, values nn.Batch, valuesMask device.Tensor, mode nn.Mode) *Result {
	defer nn.TrackLayer("basic_attn", a.Backend.Name())()
	b, nk, nv, d := checkInputs("BasicAttn", keys, values, valuesMask)

	res := &Result{
		Scores: make(nn.Batch, b),
		Dist:   make(nn.Batch, b),
		keys:   keys,
		values: values,
		mask:   valuesMask,
	}
	out := make(nn.Batch, b)

	nn.ParallelFor(b, func(i int) {
		s := a.Backend.NewTensor(nk, nv, nil)
		s.Mul(keys[i], values[i].T())
		_, dist := nn.MaskedSoftmax(s, nn.MaskRow(valuesMask, i), 1)

		o := a.Backend.NewTensor(nk, d, nil)
		o.Mul(dist, values[i])

		res.Scores[i] = s
		res.Dist[i] = dist
		out[i] = o
	})

	res.Output, res.dropMasks = a.dropout.Forward(a.Backend, out, mode)
	return res
}

func (a *BasicAttn) Backward(res *Result, dOutput nn.Batch) (nn.Batch, nn.Batch) {
	dOut := a.dropout.Backward(dOutput, res.dropMasks)
	b := len(res.keys)
	dKeys := make(nn.Batch, b)
	dValues := make(nn.Batch, b)

	nn.ParallelFor(b, func(i int) {
		k, v, dist := res.keys[i], res.values[i], res.Dist[i]
		nk, nv := dist.Dims()
		_, d := v.Dims()

		// output = dist * V
		dDist := a.Backend.NewTensor(nk, nv, nil)
		dDist.Mul(dOut[i], v.T())
		dv := a.Backend.NewTensor(nv, d, nil)
		dv.Mul(dist.T(), dOut[i])

		// S = K * V^T
		dS := nn.SoftmaxBackward(dist, dDist, 1)
		dk := a.Backend.NewTensor(nk, d, nil)
		dk.Mul(dS, v)
		tmp := a.Backend.GetTensor(nv, d)
		tmp.Mul(dS.T(), k)
		dv.Add(tmp)
		a.Backend.PutTensor(tmp)

		dKeys[i] = dk
		dValues[i] = dv
	})
	return dKeys, dValues
}
