// Package pipeline turns raw context/question text into reader inputs and
// scores it: parallel tokenization, padding to the graph's fixed lengths,
// word vectors, character ids and TF-IDF token ids, batched inference.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/23skdu/longbow-reader/internal/charcnn"
	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
	"github.com/23skdu/longbow-reader/internal/reader"
	"github.com/23skdu/longbow-reader/internal/tfidf"
)

// Pair is one question about one context. Doc is the context's row in the
// TF-IDF matrix and is ignored without token features.
type Pair struct {
	Context  string `cbor:"context" json:"context"`
	Question string `cbor:"question" json:"question"`
	Doc      int    `cbor:"doc" json:"doc"`
}

// Answer is the predicted span of one Pair. Start and End index context
// tokens; the distributions cover the tokens that fit in the graph.
type Answer struct {
	reader.Span
	Text      string    `cbor:"text" json:"text"`
	Tokens    []string  `cbor:"tokens" json:"tokens"`
	StartProb []float64 `cbor:"start_prob" json:"start_prob"`
	EndProb   []float64 `cbor:"end_prob" json:"end_prob"`
}

type Config struct {
	BatchSize int
	// MaxWorkers caps tokenization goroutines.
	MaxWorkers int
}

func DefaultConfig() Config {
	return Config{BatchSize: 32, MaxWorkers: 16}
}

// Pipeline scores text pairs with a reader graph.
type Pipeline struct {
	Config  Config
	Model   *reader.Model
	Vectors HashedVectors

	vocab map[string]int
}

// New builds a pipeline around model. vocabulary maps tokens to TF-IDF
// columns and may be nil when the model has no token features.
func New(config Config, model *reader.Model, vocabulary []string) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultConfig().MaxWorkers
	}
	p := &Pipeline{
		Config:  config,
		Model:   model,
		Vectors: HashedVectors{Dim: model.Config.EmbeddingSize, Seed: uint64(model.Config.Seed)},
	}
	if vocabulary != nil {
		p.vocab = make(map[string]int, len(vocabulary))
		for i, term := range vocabulary {
			p.vocab[term] = i
		}
	}
	return p
}

type tokenized struct {
	context, question []string
}

// Score returns one Answer per pair. It stops between batches when ctx is
// done. A pair whose question or context has no tokens fails the call with
// an error wrapping nn.ErrAllMasked.
func (p *Pipeline) Score(ctx context.Context, pairs []Pair) ([]Answer, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	if err := p.checkDocs(pairs); err != nil {
		return nil, err
	}

	toks := p.tokenize(pairs)

	answers := make([]Answer, len(pairs))
	for i := 0; i < len(pairs); i += p.Config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := i + p.Config.BatchSize
		if end > len(pairs) {
			end = len(pairs)
		}

		start := time.Now()
		in := p.inputs(pairs[i:end], toks[i:end])
		if err := checkMasks(in, i); err != nil {
			return nil, err
		}
		pred := p.Model.Forward(in, nn.Inference)
		spans := p.Model.Predict(pred)
		for j, span := range spans {
			answers[i+j] = answerFor(span, toks[i+j].context, pred, j, p.Model.Config.ContextLen)
		}
		batchTime.Set(time.Since(start).Seconds())
		batchesProcessed.Inc()
		pairsProcessed.Add(float64(end - i))
	}
	return answers, nil
}

// checkMasks rejects a batch in which some pair kept no question or no
// context tokens, since attention over such a row is undefined.
func checkMasks(in reader.Inputs, offset int) error {
	if err := nn.CheckMask(in.QuestionMask, 1); err != nil {
		return fmt.Errorf("question of batch at pair %d: %w", offset, err)
	}
	if err := nn.CheckMask(in.ContextMask, 1); err != nil {
		return fmt.Errorf("context of batch at pair %d: %w", offset, err)
	}
	return nil
}

func (p *Pipeline) checkDocs(pairs []Pair) error {
	f := p.Model.Features
	if f == nil {
		return nil
	}
	for i, pr := range pairs {
		if pr.Doc < 0 || pr.Doc >= f.Matrix.NumDocs() {
			return fmt.Errorf("pair %d: doc %d outside corpus of %d documents", i, pr.Doc, f.Matrix.NumDocs())
		}
	}
	return nil
}

func answerFor(span reader.Span, tokens []string, pred *reader.Prediction, row, contextLen int) Answer {
	n := len(tokens)
	if n > contextLen {
		n = contextLen
	}
	a := Answer{Span: span, Tokens: tokens[:n]}
	if n == 0 {
		return a
	}
	a.StartProb = append([]float64(nil), pred.StartProb.Row(row)[:n]...)
	a.EndProb = append([]float64(nil), pred.EndProb.Row(row)[:n]...)
	if span.End < n {
		a.Text = strings.Join(tokens[span.Start:span.End+1], " ")
	}
	return a
}

func (p *Pipeline) tokenize(pairs []Pair) []tokenized {
	start := time.Now()
	results := make([]tokenized, len(pairs))

	numWorkers := runtime.NumCPU()
	if numWorkers > p.Config.MaxWorkers {
		numWorkers = p.Config.MaxWorkers
	}
	chunkSize := (len(pairs) + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	var mu sync.Mutex
	totalTokens := 0
	for w := 0; w < numWorkers; w++ {
		lo := w * chunkSize
		if lo >= len(pairs) {
			break
		}
		hi := lo + chunkSize
		if hi > len(pairs) {
			hi = len(pairs)
		}

		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			tok := tfidf.NewTokenizer()
			count := 0
			for i := lo; i < hi; i++ {
				results[i] = tokenized{
					context:  tok.Tokenize(pairs[i].Context),
					question: tok.Tokenize(pairs[i].Question),
				}
				count += len(results[i].context) + len(results[i].question)
			}
			mu.Lock()
			totalTokens += count
			mu.Unlock()
		}(lo, hi)
	}
	wg.Wait()

	elapsed := time.Since(start).Seconds()
	tokenizationDuration.Observe(elapsed)
	if elapsed > 0 {
		tokensPerSecond.Set(float64(totalTokens) / elapsed)
	}
	return results
}

// inputs pads or truncates every pair to the graph's fixed lengths.
func (p *Pipeline) inputs(pairs []Pair, toks []tokenized) reader.Inputs {
	cfg := p.Model.Config
	backend := p.Model.Backend
	b := len(pairs)

	in := reader.Inputs{
		ContextEmbs:  make(nn.Batch, b),
		QuestionEmbs: make(nn.Batch, b),
		ContextMask:  backend.NewTensor(b, cfg.ContextLen, nil),
		QuestionMask: backend.NewTensor(b, cfg.QuestionLen, nil),
	}
	if p.Model.CharCNN != nil {
		in.ContextChars = make([][][]int, b)
		in.QuestionChars = make([][][]int, b)
	}
	if p.Model.Features != nil {
		in.ContextIDs = make([][]int, b)
		in.QuestionIDs = make([][]int, b)
		in.Docs = make([]int, b)
	}

	for i, t := range toks {
		in.ContextEmbs[i] = p.embed(backend, t.context, cfg.ContextLen, in.ContextMask, i)
		in.QuestionEmbs[i] = p.embed(backend, t.question, cfg.QuestionLen, in.QuestionMask, i)
		if p.Model.CharCNN != nil {
			cc := p.Model.CharCNN.Config
			in.ContextChars[i] = charIDs(t.context, cfg.ContextLen, cc)
			in.QuestionChars[i] = charIDs(t.question, cfg.QuestionLen, cc)
		}
		if p.Model.Features != nil {
			in.ContextIDs[i] = p.termIDs(t.context, cfg.ContextLen)
			in.QuestionIDs[i] = p.termIDs(t.question, cfg.QuestionLen)
			in.Docs[i] = pairs[i].Doc
		}
	}
	return in
}

func (p *Pipeline) embed(backend device.Backend, tokens []string, length int, mask device.Tensor, row int) device.Tensor {
	out := backend.NewTensor(length, p.Vectors.Dim, nil)
	for j, tok := range tokens {
		if j >= length {
			break
		}
		p.Vectors.Fill(out.Row(j), tok)
		mask.Set(row, j, 1)
	}
	return out
}

func (p *Pipeline) termIDs(tokens []string, length int) []int {
	ids := make([]int, length)
	for j := range ids {
		ids[j] = -1
		if j >= len(tokens) {
			continue
		}
		if id, ok := p.vocab[tokens[j]]; ok {
			ids[j] = id
		}
	}
	return ids
}

// charIDs maps a-z then 0-9 onto ids after the reserved ones, as far as
// the character vocabulary reaches; anything else is UnkID. Words are cut
// to WordLen and padding positions get no characters.
func charIDs(tokens []string, length int, cfg charcnn.Config) [][]int {
	out := make([][]int, length)
	for j := 0; j < length && j < len(tokens); j++ {
		var ids []int
		for _, r := range tokens[j] {
			if len(ids) == cfg.WordLen {
				break
			}
			ids = append(ids, charID(r, cfg.CharVocabSize))
		}
		out[j] = ids
	}
	return out
}

func charID(r rune, vocabSize int) int {
	idx := -1
	switch {
	case r >= 'a' && r <= 'z':
		idx = int(r - 'a')
	case r >= '0' && r <= '9':
		idx = 26 + int(r-'0')
	}
	if idx < 0 || idx >= vocabSize {
		return charcnn.UnkID
	}
	return charcnn.NumReserved + idx
}
