// Package encoder implements the bidirectional recurrent sequence encoder.
package encoder

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
)

// Config holds the configuration for an RNNEncoder.
type Config struct {
	InputSize  int
	HiddenSize int
	KeepProb   float64
	CellType   CellType
	Seed       int64
}

func DefaultConfig(inputSize, hiddenSize int) Config {
	return Config{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		KeepProb:   0.85,
		CellType:   GRU,
		Seed:       42,
	}
}

// RNNEncoder runs a forward and a backward cell over each sequence and
// concatenates their hidden states, giving 2*HiddenSize features per
// position. Sequence lengths come from the mask; positions past the length
// are never read and their outputs are zero.
type RNNEncoder struct {
	Config  Config
	Backend device.Backend

	fw, bw cell

	fwInputDrop, bwInputDrop *nn.Dropout
	outputDrop               *nn.Dropout
}

// Result keeps the per-step caches for Backward.
type Result struct {
	Output nn.Batch

	lengths          []int
	fwCache, bwCache [][]any
	fwMasks, bwMasks nn.Batch
	outMasks         nn.Batch
}

func New(config Config, backend device.Backend) *RNNEncoder {
	if config.InputSize <= 0 || config.HiddenSize <= 0 {
		panic(fmt.Sprintf("encoder.New: invalid sizes input=%d hidden=%d", config.InputSize, config.HiddenSize))
	}
	rng := rand.New(rand.NewSource(config.Seed))

	e := &RNNEncoder{
		Config:      config,
		Backend:     backend,
		fwInputDrop: nn.NewDropout(config.KeepProb, config.Seed+1),
		bwInputDrop: nn.NewDropout(config.KeepProb, config.Seed+2),
		outputDrop:  nn.NewDropout(config.KeepProb, config.Seed+3),
	}
	switch config.CellType {
	case GRU:
		e.fw = newGRUCell(backend, rng, "RNNEncoder/fw", config.InputSize, config.HiddenSize)
		e.bw = newGRUCell(backend, rng, "RNNEncoder/bw", config.InputSize, config.HiddenSize)
	case LSTM:
		e.fw = newLSTMCell(backend, rng, "RNNEncoder/fw", config.InputSize, config.HiddenSize)
		e.bw = newLSTMCell(backend, rng, "RNNEncoder/bw", config.InputSize, config.HiddenSize)
	default:
		panic(fmt.Sprintf("encoder.New: unknown cell type %d", int(config.CellType)))
	}
	return e
}

func (e *RNNEncoder) Parameters() []*nn.Parameter {
	return append(e.fw.parameters(), e.bw.parameters()...)
}

func (e *RNNEncoder) OutputWidth() int { return 2 * e.Config.HiddenSize }

// Forward encodes inputs (b, len, InputSize) under mask (b, len).
func (e *RNNEncoder) Forward(inputs nn.Batch, mask device.Tensor, mode nn.Mode) *Result {
	defer nn.TrackLayer("rnn_encoder", e.Backend.Name())()

	b, length, in := inputs.Dims()
	if in != e.Config.InputSize {
		panic(fmt.Sprintf("RNNEncoder: input width %d, want %d", in, e.Config.InputSize))
	}
	inputs.MustMatchMask("RNNEncoder", mask)

	res := &Result{
		lengths: nn.MaskLengths(mask),
		fwCache: make([][]any, b),
		bwCache: make([][]any, b),
	}
	// Masks are drawn up front so the parallel section stays deterministic.
	if mode == nn.Training {
		res.fwMasks = make(nn.Batch, b)
		res.bwMasks = make(nn.Batch, b)
		for i := 0; i < b; i++ {
			res.fwMasks[i] = e.fwInputDrop.Mask(e.Backend, length, in, mode)
			res.bwMasks[i] = e.bwInputDrop.Mask(e.Backend, length, in, mode)
		}
	}

	H := e.Config.HiddenSize
	out := make(nn.Batch, b)
	nn.ParallelFor(b, func(i int) {
		o := e.Backend.NewTensor(length, 2*H, nil)
		n := res.lengths[i]
		res.fwCache[i] = make([]any, n)
		res.bwCache[i] = make([]any, n)

		state := make([]float64, e.fw.stateSize())
		for t := 0; t < n; t++ {
			x := stepInput(inputs[i], maskAt(res.fwMasks, i), t)
			state, res.fwCache[i][t] = e.fw.step(x, state)
			off := e.fw.hiddenOffset()
			copy(o.Row(t)[:H], state[off:off+H])
		}

		state = make([]float64, e.bw.stateSize())
		for t := n - 1; t >= 0; t-- {
			x := stepInput(inputs[i], maskAt(res.bwMasks, i), t)
			state, res.bwCache[i][t] = e.bw.step(x, state)
			off := e.bw.hiddenOffset()
			copy(o.Row(t)[H:], state[off:off+H])
		}
		out[i] = o
	})

	res.Output, res.outMasks = e.outputDrop.Forward(e.Backend, out, mode)
	return res
}

// Backward runs BPTT through both directions, accumulating parameter
// gradients, and returns the gradient with respect to the inputs.
func (e *RNNEncoder) Backward(res *Result, dOutput nn.Batch) nn.Batch {
	dOut := e.outputDrop.Backward(dOutput, res.outMasks)
	H := e.Config.HiddenSize
	in := e.Config.InputSize

	dInputs := make(nn.Batch, len(dOut))
	for i, g := range dOut {
		length, _ := g.Dims()
		dx := e.Backend.NewTensor(length, in, nil)
		n := res.lengths[i]

		// The forward cell saw t = 0..n-1, so gradients flow n-1..0.
		dState := make([]float64, e.fw.stateSize())
		off := e.fw.hiddenOffset()
		for t := n - 1; t >= 0; t-- {
			for k := 0; k < H; k++ {
				dState[off+k] += g.At(t, k)
			}
			var dxt []float64
			dxt, dState = e.fw.stepBackward(res.fwCache[i][t], dState)
			addStepGrad(dx, maskAt(res.fwMasks, i), t, dxt)
		}

		dState = make([]float64, e.bw.stateSize())
		off = e.bw.hiddenOffset()
		for t := 0; t < n; t++ {
			for k := 0; k < H; k++ {
				dState[off+k] += g.At(t, H+k)
			}
			var dxt []float64
			dxt, dState = e.bw.stepBackward(res.bwCache[i][t], dState)
			addStepGrad(dx, maskAt(res.bwMasks, i), t, dxt)
		}
		dInputs[i] = dx
	}
	return dInputs
}

func maskAt(masks nn.Batch, i int) device.Tensor {
	if masks == nil {
		return nil
	}
	return masks[i]
}

// stepInput returns input row t, scaled by the dropout mask when present.
func stepInput(x, dropMask device.Tensor, t int) []float64 {
	_, c := x.Dims()
	row := make([]float64, c)
	for k := range row {
		row[k] = x.At(t, k)
		if dropMask != nil {
			row[k] *= dropMask.At(t, k)
		}
	}
	return row
}

func addStepGrad(dx, dropMask device.Tensor, t int, g []float64) {
	row := dx.Row(t)
	for k, v := range g {
		if dropMask != nil {
			v *= dropMask.At(t, k)
		}
		row[k] += v
	}
}
