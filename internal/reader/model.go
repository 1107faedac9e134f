// Package reader assembles the reading-comprehension graph: an optional
// character CNN and token features, a shared bidirectional encoder,
// context-to-question attention, a blended projection and start/end
// pointer distributions over the context.
package reader

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-reader/internal/attention"
	"github.com/23skdu/longbow-reader/internal/charcnn"
	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/encoder"
	"github.com/23skdu/longbow-reader/internal/nn"
	"github.com/23skdu/longbow-reader/internal/output"
	"github.com/23skdu/longbow-reader/internal/tfidf"
)

// Inputs is one batch of embedded context/question pairs.
type Inputs struct {
	ContextEmbs  nn.Batch      // (b, contextLen, EmbeddingSize)
	QuestionEmbs nn.Batch      // (b, questionLen, EmbeddingSize)
	ContextMask  device.Tensor // (b, contextLen)
	QuestionMask device.Tensor // (b, questionLen)

	// Character ids per word, required with a CharCNN.
	ContextChars  [][][]int
	QuestionChars [][][]int

	// Token ids and corpus rows, required with token features.
	ContextIDs  [][]int
	QuestionIDs [][]int
	Docs        []int
}

// Prediction is the output of a forward pass.
type Prediction struct {
	StartLogits device.Tensor // masked, (b, contextLen)
	StartProb   device.Tensor
	EndLogits   device.Tensor
	EndProb     device.Tensor

	AttnDist nn.Batch // (b, contextLen, questionLen)
	Q2CDist  nn.Batch // BiDAF only

	charRes          *charcnn.Result
	featWidth        int
	ctxRes, qnRes    *encoder.Result
	attnRes          *attention.Result
	blendRes         *nn.LinearResult
	startRes, endRes *output.Result
}

// Model is the reader graph. The encoder is shared between context and
// question.
type Model struct {
	Config  Config
	Backend device.Backend

	CharCNN   *charcnn.CharCNN
	Features  *tfidf.AddInput
	Encoder   *encoder.RNNEncoder
	Attention attention.Attention
	Blend     *nn.Linear
	Start     *output.SimpleSoftmaxLayer
	End       *output.SimpleSoftmaxLayer
}

// New builds the graph. features may be nil.
func New(config Config, features *tfidf.AddInput, backend device.Backend) *Model {
	if config.EmbeddingSize <= 0 || config.HiddenSize <= 0 {
		panic(fmt.Sprintf("reader.New: invalid sizes embedding=%d hidden=%d", config.EmbeddingSize, config.HiddenSize))
	}
	if config.MaxSpan < 0 {
		panic(fmt.Sprintf("reader.New: negative max span %d", config.MaxSpan))
	}
	m := &Model{Config: config, Backend: backend, Features: features}

	inputSize := config.EmbeddingSize
	if config.CharCNN != nil {
		m.CharCNN = charcnn.New(*config.CharCNN, backend)
		inputSize = m.CharCNN.OutputWidth(inputSize)
	}
	if features != nil {
		inputSize += features.Width()
	}

	encCfg := encoder.DefaultConfig(inputSize, config.HiddenSize)
	encCfg.KeepProb = config.KeepProb
	encCfg.CellType = config.CellType
	encCfg.Seed = config.Seed
	m.Encoder = encoder.New(encCfg, backend)

	hidden2 := m.Encoder.OutputWidth()
	switch config.Attention {
	case BiDAFAttention:
		attnCfg := attention.DefaultBiDAFConfig(hidden2)
		attnCfg.KeepProb = config.KeepProb
		attnCfg.ReduceMode = config.ReduceMode
		attnCfg.UseBiases = config.UseBiases
		attnCfg.NumKeys = config.ContextLen
		attnCfg.NumValues = config.QuestionLen
		attnCfg.Seed = config.Seed + 10
		m.Attention = attention.NewBiDAF(attnCfg, backend)
	default:
		m.Attention = attention.NewBasicAttn(attention.BasicAttnConfig{KeepProb: config.KeepProb, Seed: config.Seed + 10}, backend)
	}

	m.Blend = nn.NewLinear("blended_reps_final", nn.LinearConfig{
		InputSize:  hidden2 + m.Attention.OutputWidth(hidden2),
		OutputSize: config.HiddenSize,
		Activation: nn.ReLU,
		Seed:       config.Seed + 20,
	}, backend)
	m.Start = output.NewSimpleSoftmaxLayer("StartDist", config.HiddenSize, config.Seed+30, backend)
	m.End = output.NewSimpleSoftmaxLayer("EndDist", config.HiddenSize, config.Seed+40, backend)

	log.Debug().
		Str("attention", config.Attention.String()).
		Str("cell", config.CellType.String()).
		Int("input_size", inputSize).
		Int("hidden_size", config.HiddenSize).
		Int("params", countParams(m.Parameters())).
		Msg("Built reader graph")
	return m
}

func countParams(params []*nn.Parameter) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}

// Parameters returns every trainable parameter of the graph.
func (m *Model) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	if m.CharCNN != nil {
		params = append(params, m.CharCNN.Parameters()...)
	}
	params = append(params, m.Encoder.Parameters()...)
	params = append(params, m.Attention.Parameters()...)
	params = append(params, m.Blend.Parameters()...)
	params = append(params, m.Start.Parameters()...)
	params = append(params, m.End.Parameters()...)
	return params
}

// Forward runs the graph on one batch.
func (m *Model) Forward(in Inputs, mode nn.Mode) *Prediction {
	defer nn.TrackLayer("reader", m.Backend.Name())()

	pred := &Prediction{}
	ctx, qn := in.ContextEmbs, in.QuestionEmbs
	if m.CharCNN != nil {
		pred.charRes = m.CharCNN.Forward(ctx, qn, in.ContextChars, in.QuestionChars, mode)
		ctx, qn = pred.charRes.Context, pred.charRes.Question
	}
	if m.Features != nil {
		pred.featWidth = m.Features.Width()
		ctx = m.Features.Forward(ctx, in.Docs, in.ContextIDs, in.QuestionIDs)
		qn = m.Features.Forward(qn, in.Docs, in.QuestionIDs, in.ContextIDs)
	}

	pred.ctxRes = m.Encoder.Forward(ctx, in.ContextMask, mode)
	pred.qnRes = m.Encoder.Forward(qn, in.QuestionMask, mode)
	ctxHiddens, qnHiddens := pred.ctxRes.Output, pred.qnRes.Output

	pred.attnRes = m.Attention.Forward(ctxHiddens, qnHiddens, in.QuestionMask, mode)
	pred.AttnDist = pred.attnRes.Dist
	pred.Q2CDist = pred.attnRes.Q2CDist

	blended := make(nn.Batch, len(ctxHiddens))
	for i := range blended {
		blended[i] = nn.ConcatCols(m.Backend, ctxHiddens[i], pred.attnRes.Output[i])
	}
	pred.blendRes = m.Blend.Forward(blended)

	pred.startRes = m.Start.Forward(pred.blendRes.Output, in.ContextMask)
	pred.endRes = m.End.Forward(pred.blendRes.Output, in.ContextMask)
	pred.StartLogits, pred.StartProb = pred.startRes.MaskedLogits, pred.startRes.Prob
	pred.EndLogits, pred.EndProb = pred.endRes.MaskedLogits, pred.endRes.Prob
	return pred
}

// Loss returns the summed start and end cross-entropy and the gradients
// with respect to the masked start and end logits.
func (m *Model) Loss(pred *Prediction, starts, ends []int) (float64, device.Tensor, device.Tensor) {
	startLoss, dStart := output.CrossEntropy(pred.StartLogits, starts)
	endLoss, dEnd := output.CrossEntropy(pred.EndLogits, ends)
	return startLoss + endLoss, dStart, dEnd
}

// Backward accumulates gradients for every parameter from the gradients
// of the masked start and end logits.
func (m *Model) Backward(pred *Prediction, dStart, dEnd device.Tensor) {
	dFinal := m.Start.Backward(pred.startRes, dStart)
	dFinal.Add(m.End.Backward(pred.endRes, dEnd))

	dBlended := m.Blend.Backward(pred.blendRes, dFinal)
	hidden2 := m.Encoder.OutputWidth()
	dCtxH := make(nn.Batch, len(dBlended))
	dAttn := make(nn.Batch, len(dBlended))
	for i, g := range dBlended {
		_, w := g.Dims()
		parts := nn.SplitCols(g, hidden2, w-hidden2)
		dCtxH[i], dAttn[i] = parts[0], parts[1]
	}

	dKeys, dValues := m.Attention.Backward(pred.attnRes, dAttn)
	dCtxH.Add(dKeys)

	dCtx := m.Encoder.Backward(pred.ctxRes, dCtxH)
	dQn := m.Encoder.Backward(pred.qnRes, dValues)

	if m.CharCNN == nil {
		return
	}
	if pred.featWidth > 0 {
		dCtx = dropLastCols(dCtx, pred.featWidth)
		dQn = dropLastCols(dQn, pred.featWidth)
	}
	m.CharCNN.Backward(pred.charRes, dCtx, dQn)
}

// ZeroGrad clears all parameter gradients.
func (m *Model) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// Predict returns the best span per batch element.
func (m *Model) Predict(pred *Prediction) []Span {
	return BestSpans(pred.StartProb, pred.EndProb, m.Config.MaxSpan)
}

func dropLastCols(b nn.Batch, n int) nn.Batch {
	out := make(nn.Batch, len(b))
	for i, t := range b {
		_, w := t.Dims()
		out[i] = nn.SplitCols(t, w-n, n)[0]
	}
	return out
}
