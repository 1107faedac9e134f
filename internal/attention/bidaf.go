package attention

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
	"github.com/23skdu/longbow-reader/internal/simd"
)

var _ Attention = (*BiDAF)(nil)

// BiDAFConfig holds the configuration for bidirectional attention flow.
type BiDAFConfig struct {
	KeepProb   float64
	VecSize    int // width of key and value vectors
	ReduceMode ReduceMode
	// UseBiases adds learned bias tensors to each score term. The biases
	// are shaped per position, so NumKeys and NumValues must be set.
	UseBiases bool
	NumKeys   int
	NumValues int
	Seed      int64
}

func DefaultBiDAFConfig(vecSize int) BiDAFConfig {
	return BiDAFConfig{
		KeepProb:   0.85,
		VecSize:    vecSize,
		ReduceMode: ReduceSum,
		Seed:       42,
	}
}

// BiDAF computes the similarity
//
//	S[i,j] = red(w1⊙K_i + b1_i) + red(w2⊙V_j + b2_j) + (w3⊙K_i)·V_j + b3_ij
//
// and fuses context-to-question and question-to-context attention into
// [K, c2q, K⊙c2q, K⊙q2c], 4*VecSize wide.
type BiDAF struct {
	Config  BiDAFConfig
	Backend device.Backend

	W1, W2, W3             *nn.Parameter // 1 x d
	S1Bias, S2Bias, S3Bias *nn.Parameter // nk x d, d x nv, nk x nv

	coeff   []float64
	dropout *nn.Dropout
}

func NewBiDAF(config BiDAFConfig, backend device.Backend) *BiDAF {
	d := config.VecSize
	if d <= 0 {
		panic(fmt.Sprintf("NewBiDAF: invalid vector size %d", d))
	}
	if config.UseBiases && (config.NumKeys <= 0 || config.NumValues <= 0) {
		panic("NewBiDAF: biases need NumKeys and NumValues")
	}

	rng := rand.New(rand.NewSource(config.Seed))
	m := &BiDAF{
		Config:  config,
		Backend: backend,
		W1:      nn.NewParameter(backend, "BiDAF/w1_T", nn.XavierUniform(backend, rng, 1, d)),
		W2:      nn.NewParameter(backend, "BiDAF/w2_T", nn.XavierUniform(backend, rng, 1, d)),
		W3:      nn.NewParameter(backend, "BiDAF/w3_T", nn.XavierUniform(backend, rng, 1, d)),
		coeff:   config.ReduceMode.coefficients(d),
		dropout: nn.NewDropout(config.KeepProb, config.Seed+1),
	}
	if config.UseBiases {
		m.S1Bias = nn.NewParameter(backend, "BiDAF/s1_bias", nn.Zeros(backend, config.NumKeys, d))
		m.S2Bias = nn.NewParameter(backend, "BiDAF/s2_bias", nn.Zeros(backend, d, config.NumValues))
		m.S3Bias = nn.NewParameter(backend, "BiDAF/s3_bias", nn.Zeros(backend, config.NumKeys, config.NumValues))
	}
	return m
}

func (m *BiDAF) Parameters() []*nn.Parameter {
	params := []*nn.Parameter{m.W1, m.W2, m.W3}
	if m.Config.UseBiases {
		params = append(params, m.S1Bias, m.S2Bias, m.S3Bias)
	}
	return params
}

func (m *BiDAF) OutputWidth(d int) int { return 4 * d }

// Scores computes the similarity matrix for one batch element.
func (m *BiDAF) Scores(k, v device.Tensor) device.Tensor {
	nk, d := k.Dims()
	nv, _ := v.Dims()
	w1, w2 := m.W1.Value.Row(0), m.W2.Value.Row(0)

	// s3 = (w3⊙K) V^T
	a := k.Slice(0, nk, 0, d)
	a.MulElem(broadcastRow(m.Backend, m.W3.Value, nk))
	s := m.Backend.NewTensor(nk, nv, nil)
	s.Mul(a, v.T())
	if m.Config.UseBiases {
		s.Add(m.S3Bias.Value)
	}

	buf := make([]float64, d)
	r1 := make([]float64, nk)
	for i := 0; i < nk; i++ {
		for c := 0; c < d; c++ {
			buf[c] = w1[c] * k.At(i, c)
			if m.Config.UseBiases {
				buf[c] += m.S1Bias.Value.At(i, c)
			}
		}
		r1[i] = simd.DotProduct(m.coeff, buf)
	}
	r2 := make([]float64, nv)
	for j := 0; j < nv; j++ {
		for c := 0; c < d; c++ {
			buf[c] = w2[c] * v.At(j, c)
			if m.Config.UseBiases {
				buf[c] += m.S2Bias.Value.At(c, j)
			}
		}
		r2[j] = simd.DotProduct(m.coeff, buf)
	}

	for i := 0; i < nk; i++ {
		row := s.Row(i)
		for j := range row {
			row[j] += r1[i] + r2[j]
		}
	}
	return s
}

func (m *BiDAF) Forward(keys, values nn.Batch, valuesMask device.Tensor, mode nn.Mode) *Result {
	defer nn.TrackLayer("bidaf", m.Backend.Name())()
	b, nk, nv, d := checkInputs("BiDAF", keys, values, valuesMask)
	if d != m.Config.VecSize {
		panic(fmt.Sprintf("BiDAF: input width %d, configured %d", d, m.Config.VecSize))
	}
	if m.Config.UseBiases && (nk != m.Config.NumKeys || nv != m.Config.NumValues) {
		panic(fmt.Sprintf("BiDAF: biases built for %dx%d, got %dx%d", m.Config.NumKeys, m.Config.NumValues, nk, nv))
	}

	res := &Result{
		Scores:  make(nn.Batch, b),
		Dist:    make(nn.Batch, b),
		Q2CDist: make(nn.Batch, b),
		keys:    keys,
		values:  values,
		mask:    valuesMask,
		c2q:     make(nn.Batch, b),
		q2c:     make(nn.Batch, b),
		argmax:  make([][]int, b),
	}
	out := make(nn.Batch, b)

	nn.ParallelFor(b, func(i int) {
		k, v := keys[i], values[i]
		s := m.Scores(k, v)

		// Context-to-question.
		_, dist := nn.MaskedSoftmax(s, nn.MaskRow(valuesMask, i), 1)
		c2q := m.Backend.NewTensor(nk, d, nil)
		c2q.Mul(dist, v)

		// Question-to-context: per-key max over the valid values, softmax
		// over keys.
		mx := make([]float64, nk)
		idx := make([]int, nk)
		for r := 0; r < nk; r++ {
			idx[r] = maxValid(s, valuesMask, i, r)
			mx[r] = s.At(r, idx[r])
		}
		simd.Softmax(mx)
		beta := m.Backend.NewTensor(1, nk, mx)
		q2c := m.Backend.NewTensor(1, d, nil)
		q2c.Mul(beta, k)

		kc := k.Slice(0, nk, 0, d)
		kc.MulElem(c2q)
		kq := k.Slice(0, nk, 0, d)
		kq.MulElem(broadcastRow(m.Backend, q2c, nk))

		res.Scores[i] = s
		res.Dist[i] = dist
		res.Q2CDist[i] = beta
		res.c2q[i] = c2q
		res.q2c[i] = q2c
		res.argmax[i] = idx
		out[i] = nn.ConcatCols(m.Backend, k, c2q, kc, kq)
	})

	res.Output, res.dropMasks = m.dropout.Forward(m.Backend, out, mode)
	return res
}

// Backward accumulates gradients sequentially over the batch.
func (m *BiDAF) Backward(res *Result, dOutput nn.Batch) (nn.Batch, nn.Batch) {
	dOut := m.dropout.Backward(dOutput, res.dropMasks)
	b := len(res.keys)
	dKeys := make(nn.Batch, b)
	dValues := make(nn.Batch, b)
	w1, w2, w3 := m.W1.Value.Row(0), m.W2.Value.Row(0), m.W3.Value.Row(0)

	for i := 0; i < b; i++ {
		k, v := res.keys[i], res.values[i]
		dist, c2q, q2c := res.Dist[i], res.c2q[i], res.q2c[i]
		nk, d := k.Dims()
		nv, _ := v.Dims()

		parts := nn.SplitCols(dOut[i], d, d, d, d)
		dK0, dC, dKC, dKQ := parts[0], parts[1], parts[2], parts[3]

		// output = [K, c2q, K⊙c2q, K⊙q2c]
		dk := dK0
		tmp := dKC.Slice(0, nk, 0, d)
		tmp.MulElem(c2q)
		dk.Add(tmp)
		tmp = dKQ.Slice(0, nk, 0, d)
		tmp.MulElem(broadcastRow(m.Backend, q2c, nk))
		dk.Add(tmp)

		dc2q := dC
		tmp = dKC.Slice(0, nk, 0, d)
		tmp.MulElem(k)
		dc2q.Add(tmp)

		dq2c := make([]float64, d)
		for r := 0; r < nk; r++ {
			for c := 0; c < d; c++ {
				dq2c[c] += dKQ.At(r, c) * k.At(r, c)
			}
		}

		// c2q = dist * V
		dDist := m.Backend.NewTensor(nk, nv, nil)
		dDist.Mul(dc2q, v.T())
		dv := m.Backend.NewTensor(nv, d, nil)
		dv.Mul(dist.T(), dc2q)
		dS := nn.SoftmaxBackward(dist, dDist, 1)

		// q2c = beta * K, beta = softmax(max_j S[:, j])
		beta := res.Q2CDist[i].Row(0)
		dBeta := make([]float64, nk)
		for r := 0; r < nk; r++ {
			dBeta[r] = simd.DotProduct(dq2c, rowOf(k, r))
			for c := 0; c < d; c++ {
				dk.Set(r, c, dk.At(r, c)+beta[r]*dq2c[c])
			}
		}
		dm := make([]float64, nk)
		simd.SoftmaxGrad(dm, beta, dBeta)
		for r, j := range res.argmax[i] {
			dS.Set(r, j, dS.At(r, j)+dm[r])
		}

		m.backwardScores(k, v, dS, dk, dv, w1, w2, w3)

		dKeys[i] = dk
		dValues[i] = dv
	}
	return dKeys, dValues
}

// backwardScores propagates dS through the similarity function, adding
// into dk and dv and the parameter gradients.
func (m *BiDAF) backwardScores(k, v, dS, dk, dv device.Tensor, w1, w2, w3 []float64) {
	nk, d := k.Dims()
	nv, _ := v.Dims()
	gw1, gw2, gw3 := m.W1.Grad.Row(0), m.W2.Grad.Row(0), m.W3.Grad.Row(0)

	// s3 = (w3⊙K) V^T
	a := k.Slice(0, nk, 0, d)
	a.MulElem(broadcastRow(m.Backend, m.W3.Value, nk))
	dA := m.Backend.NewTensor(nk, d, nil)
	dA.Mul(dS, v)
	tmp := m.Backend.GetTensor(nv, d)
	tmp.Mul(dS.T(), a)
	dv.Add(tmp)
	m.Backend.PutTensor(tmp)
	for r := 0; r < nk; r++ {
		for c := 0; c < d; c++ {
			g := dA.At(r, c)
			dk.Set(r, c, dk.At(r, c)+g*w3[c])
			gw3[c] += g * k.At(r, c)
		}
	}
	if m.Config.UseBiases {
		m.S3Bias.Grad.Add(dS)
	}

	// Row sums feed the key term, column sums the value term.
	for r := 0; r < nk; r++ {
		g := simd.Sum(rowOf(dS, r))
		for c := 0; c < d; c++ {
			ds := g * m.coeff[c]
			dk.Set(r, c, dk.At(r, c)+ds*w1[c])
			gw1[c] += ds * k.At(r, c)
			if m.Config.UseBiases {
				m.S1Bias.Grad.Set(r, c, m.S1Bias.Grad.At(r, c)+ds)
			}
		}
	}
	for j := 0; j < nv; j++ {
		var g float64
		for r := 0; r < nk; r++ {
			g += dS.At(r, j)
		}
		for c := 0; c < d; c++ {
			ds := g * m.coeff[c]
			dv.Set(j, c, dv.At(j, c)+ds*w2[c])
			gw2[c] += ds * v.At(j, c)
			if m.Config.UseBiases {
				m.S2Bias.Grad.Set(c, j, m.S2Bias.Grad.At(c, j)+ds)
			}
		}
	}
}

// maxValid returns the column of the largest score in row r among the
// valid values of batch element i. With no valid value it falls back to
// the whole row.
func maxValid(s, mask device.Tensor, i, r int) int {
	_, nv := s.Dims()
	best := -1
	for j := 0; j < nv; j++ {
		if mask.At(i, j) == 0 {
			continue
		}
		if best < 0 || s.At(r, j) > s.At(r, best) {
			best = j
		}
	}
	if best < 0 {
		best = simd.ArgMax(rowOf(s, r))
	}
	return best
}

func broadcastRow(backend device.Backend, row device.Tensor, n int) device.Tensor {
	_, c := row.Dims()
	out := backend.NewTensor(n, c, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, row.At(0, j))
		}
	}
	return out
}

func rowOf(t device.Tensor, r int) []float64 {
	_, c := t.Dims()
	out := make([]float64, c)
	for j := range out {
		out[j] = t.At(r, j)
	}
	return out
}
