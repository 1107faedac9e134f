// Package charcnn appends character-level convolutional features to word
// vectors.
package charcnn

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
)

// Reserved character ids.
const (
	PadID = 0
	UnkID = 1
	// NumReserved is the number of ids added to the character vocabulary.
	NumReserved = 2
)

// Config holds the configuration for the character CNN.
type Config struct {
	CharVocabSize int // without the reserved ids
	CharEmbedSize int
	Filters       int
	KernelSize    int
	WordLen       int
	KeepProb      float64
	Seed          int64
}

func DefaultConfig(charVocabSize int) Config {
	return Config{
		CharVocabSize: charVocabSize,
		CharEmbedSize: 20,
		Filters:       100,
		KernelSize:    5,
		WordLen:       16,
		KeepProb:      0.85,
		Seed:          42,
	}
}

// CharCNN embeds the characters of each word, convolves them with SAME
// padding and max-pools over the whole word. Context and question words
// share the character embeddings but have separate convolutions.
type CharCNN struct {
	Config  Config
	Backend device.Backend

	Embeddings *nn.Parameter // (vocab+2) x E
	Context    *Conv
	Question   *Conv

	dropout *nn.Dropout
}

// Conv is one 1-D convolution over character embeddings.
type Conv struct {
	Kernel *nn.Parameter // (k*E) x F
	Bias   *nn.Parameter // 1 x F
}

// Result holds the augmented embeddings, width wordEmb + Filters.
type Result struct {
	Context  nn.Batch
	Question nn.Batch

	ctx, qn side
}

type side struct {
	chars     [][][]int
	cols      [][]device.Tensor // im2col per word
	argmax    [][][]int
	embWidth  int
	dropMasks nn.Batch
}

func New(config Config, backend device.Backend) *CharCNN {
	if config.KernelSize <= 0 || config.WordLen <= 0 || config.Filters <= 0 || config.CharEmbedSize <= 0 {
		panic(fmt.Sprintf("charcnn.New: invalid config %+v", config))
	}
	rng := rand.New(rand.NewSource(config.Seed))
	vocab := config.CharVocabSize + NumReserved
	k, e, f := config.KernelSize, config.CharEmbedSize, config.Filters

	newConv := func(scope string) *Conv {
		return &Conv{
			Kernel: nn.NewParameter(backend, scope+"/kernel", nn.XavierUniformFan(backend, rng, k*e, f, k*e, k*f)),
			Bias:   nn.NewParameter(backend, scope+"/bias", nn.Zeros(backend, 1, f)),
		}
	}
	return &CharCNN{
		Config:     config,
		Backend:    backend,
		Embeddings: nn.NewParameter(backend, "char_embeddings", nn.XavierUniform(backend, rng, vocab, e)),
		Context:    newConv("context/context_conv"),
		Question:   newConv("qn/qn_conv"),
		dropout:    nn.NewDropout(config.KeepProb, config.Seed+1),
	}
}

func (c *CharCNN) Parameters() []*nn.Parameter {
	return []*nn.Parameter{c.Embeddings, c.Context.Kernel, c.Context.Bias, c.Question.Kernel, c.Question.Bias}
}

// OutputWidth is the augmented width for word embeddings of width d.
func (c *CharCNN) OutputWidth(d int) int { return d + c.Config.Filters }

// Forward appends character features to the context and question word
// embeddings. chars[i][t] holds the character ids of word t of batch
// element i, at most WordLen of them; shorter words are padded with PadID.
func (c *CharCNN) Forward(contextEmbs, qnEmbs nn.Batch, contextChars, qnChars [][][]int, mode nn.Mode) *Result {
	defer nn.TrackLayer("char_cnn", c.Backend.Name())()

	res := &Result{}
	res.Context, res.ctx = c.forwardSide("context", c.Context, contextEmbs, contextChars, mode)
	res.Question, res.qn = c.forwardSide("question", c.Question, qnEmbs, qnChars, mode)
	return res
}

func (c *CharCNN) forwardSide(name string, conv *Conv, embs nn.Batch, chars [][][]int, mode nn.Mode) (nn.Batch, side) {
	b, length, width := embs.Dims()
	if len(chars) != b {
		panic(fmt.Sprintf("CharCNN %s: %d char sequences for batch %d", name, len(chars), b))
	}
	st := side{
		chars:    make([][][]int, b),
		cols:     make([][]device.Tensor, b),
		argmax:   make([][][]int, b),
		embWidth: width,
	}

	for i := range chars {
		if len(chars[i]) != length {
			panic(fmt.Sprintf("CharCNN %s: element %d has %d words, want %d", name, i, len(chars[i]), length))
		}
		st.chars[i] = make([][]int, length)
		for t, word := range chars[i] {
			st.chars[i][t] = c.padWord(word)
		}
	}

	feats := make(nn.Batch, b)
	nn.ParallelFor(b, func(i int) {
		out := c.Backend.NewTensor(length, c.Config.Filters, nil)
		st.cols[i] = make([]device.Tensor, length)
		st.argmax[i] = make([][]int, length)
		for t := 0; t < length; t++ {
			ids := st.chars[i][t]
			cols := c.im2col(ids)
			pooled, idx := c.convPool(conv, cols)
			copy(out.Row(t), pooled)

			st.cols[i][t] = cols
			st.argmax[i][t] = idx
		}
		feats[i] = out
	})

	feats, st.dropMasks = c.dropout.Forward(c.Backend, feats, mode)
	out := make(nn.Batch, b)
	for i := range out {
		out[i] = nn.ConcatCols(c.Backend, embs[i], feats[i])
	}
	return out, st
}

// Backward accumulates gradients and returns the gradients with respect to
// the context and question word embeddings.
func (c *CharCNN) Backward(res *Result, dContext, dQuestion nn.Batch) (nn.Batch, nn.Batch) {
	return c.backwardSide(c.Context, res.ctx, dContext), c.backwardSide(c.Question, res.qn, dQuestion)
}

func (c *CharCNN) backwardSide(conv *Conv, st side, dOut nn.Batch) nn.Batch {
	dEmbs := make(nn.Batch, len(dOut))
	dFeats := make(nn.Batch, len(dOut))
	for i, g := range dOut {
		parts := nn.SplitCols(g, st.embWidth, c.Config.Filters)
		dEmbs[i], dFeats[i] = parts[0], parts[1]
	}
	dFeats = c.dropout.Backward(dFeats, st.dropMasks)

	k, e, f := c.Config.KernelSize, c.Config.CharEmbedSize, c.Config.Filters
	wordLen := c.Config.WordLen
	padLeft := (k - 1) / 2

	for i, df := range dFeats {
		length, _ := df.Dims()
		for t := 0; t < length; t++ {
			dConv := c.Backend.NewTensor(wordLen, f, nil)
			for j := 0; j < f; j++ {
				g := df.At(t, j)
				dConv.Set(st.argmax[i][t][j], j, g)
				conv.Bias.Grad.Set(0, j, conv.Bias.Grad.At(0, j)+g)
			}

			dk := c.Backend.GetTensor(k*e, f)
			dk.Mul(st.cols[i][t].T(), dConv)
			conv.Kernel.Grad.Add(dk)
			c.Backend.PutTensor(dk)

			dCols := c.Backend.NewTensor(wordLen, k*e, nil)
			dCols.Mul(dConv, conv.Kernel.Value.T())
			ids := st.chars[i][t]
			for p := 0; p < wordLen; p++ {
				for q := 0; q < k; q++ {
					src := p + q - padLeft
					if src < 0 || src >= wordLen {
						continue
					}
					row := c.Embeddings.Grad.Row(ids[src])
					for d := 0; d < e; d++ {
						row[d] += dCols.At(p, q*e+d)
					}
				}
			}
		}
	}
	return dEmbs
}

func (c *CharCNN) padWord(chars []int) []int {
	if len(chars) > c.Config.WordLen {
		panic(fmt.Sprintf("CharCNN: word has %d chars, max %d", len(chars), c.Config.WordLen))
	}
	vocab := c.Config.CharVocabSize + NumReserved
	ids := make([]int, c.Config.WordLen)
	for p, id := range chars {
		if id < 0 || id >= vocab {
			panic(fmt.Sprintf("CharCNN: char id %d out of range [0, %d)", id, vocab))
		}
		ids[p] = id
	}
	return ids
}

// im2col lays out the SAME-padded receptive field of every character
// position as one row of width k*E.
func (c *CharCNN) im2col(ids []int) device.Tensor {
	k, e, wordLen := c.Config.KernelSize, c.Config.CharEmbedSize, c.Config.WordLen
	padLeft := (k - 1) / 2
	cols := c.Backend.NewTensor(wordLen, k*e, nil)
	for p := 0; p < wordLen; p++ {
		row := cols.Row(p)
		for q := 0; q < k; q++ {
			src := p + q - padLeft
			if src < 0 || src >= wordLen {
				continue
			}
			copy(row[q*e:(q+1)*e], c.Embeddings.Value.Row(ids[src]))
		}
	}
	return cols
}

// convPool returns the per-filter maximum over the word and its position.
func (c *CharCNN) convPool(conv *Conv, cols device.Tensor) ([]float64, []int) {
	conved := cols.Linear(cols, conv.Kernel.Value, conv.Bias.Value)
	defer c.Backend.PutTensor(conved)

	wordLen, f := conved.Dims()
	pooled := make([]float64, f)
	idx := make([]int, f)
	for j := 0; j < f; j++ {
		pooled[j] = conved.At(0, j)
		for p := 1; p < wordLen; p++ {
			if v := conved.At(p, j); v > pooled[j] {
				pooled[j], idx[j] = v, p
			}
		}
	}
	return pooled, idx
}
