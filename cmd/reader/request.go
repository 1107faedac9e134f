package main

import (
	"fmt"

	"github.com/23skdu/longbow-reader/internal/charcnn"
	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/nn"
	"github.com/23skdu/longbow-reader/internal/reader"
)

// ScoreRequest carries pre-embedded, padded context/question pairs.
// Sequences must have the model's fixed lengths. Chars are required when
// the model has a character CNN; IDs and Docs when it has token features.
type ScoreRequest struct {
	IDs          []string      `cbor:"ids,omitempty"`
	Context      [][][]float64 `cbor:"context"`
	Question     [][][]float64 `cbor:"question"`
	ContextMask  [][]float64   `cbor:"context_mask"`
	QuestionMask [][]float64   `cbor:"question_mask"`

	ContextChars  [][][]int `cbor:"context_chars,omitempty"`
	QuestionChars [][][]int `cbor:"question_chars,omitempty"`
	ContextIDs    [][]int   `cbor:"context_ids,omitempty"`
	QuestionIDs   [][]int   `cbor:"question_ids,omitempty"`
	Docs          []int     `cbor:"docs,omitempty"`
}

// ScoreResponse holds one entry per batch element.
type ScoreResponse struct {
	Spans     []reader.Span `cbor:"spans"`
	StartProb [][]float64   `cbor:"start_prob"`
	EndProb   [][]float64   `cbor:"end_prob"`
	AttnDist  [][][]float64 `cbor:"attn_dist"`
	Q2CDist   [][]float64   `cbor:"q2c_dist,omitempty"`
}

// inputs validates req against the model and converts it. All shape
// errors are reported here so that the graph never panics on user input.
func (req *ScoreRequest) inputs(m *reader.Model) (reader.Inputs, error) {
	cfg := m.Config
	b := len(req.Context)
	if b == 0 {
		return reader.Inputs{}, fmt.Errorf("empty batch")
	}
	if len(req.Question) != b || len(req.ContextMask) != b || len(req.QuestionMask) != b {
		return reader.Inputs{}, fmt.Errorf("batch sizes differ: context %d, question %d, masks %d/%d",
			b, len(req.Question), len(req.ContextMask), len(req.QuestionMask))
	}
	if req.IDs != nil && len(req.IDs) != b {
		return reader.Inputs{}, fmt.Errorf("got %d ids for %d pairs", len(req.IDs), b)
	}

	in := reader.Inputs{}
	var err error
	if in.ContextEmbs, err = toBatch(m.Backend, "context", req.Context, cfg.ContextLen, cfg.EmbeddingSize); err != nil {
		return in, err
	}
	if in.QuestionEmbs, err = toBatch(m.Backend, "question", req.Question, cfg.QuestionLen, cfg.EmbeddingSize); err != nil {
		return in, err
	}
	if in.ContextMask, err = toMask(m.Backend, "context_mask", req.ContextMask, cfg.ContextLen); err != nil {
		return in, err
	}
	if in.QuestionMask, err = toMask(m.Backend, "question_mask", req.QuestionMask, cfg.QuestionLen); err != nil {
		return in, err
	}

	if m.CharCNN != nil {
		cc := m.CharCNN.Config
		if err := checkChars("context_chars", req.ContextChars, b, cfg.ContextLen, cc); err != nil {
			return in, err
		}
		if err := checkChars("question_chars", req.QuestionChars, b, cfg.QuestionLen, cc); err != nil {
			return in, err
		}
		in.ContextChars, in.QuestionChars = req.ContextChars, req.QuestionChars
	}

	if f := m.Features; f != nil {
		if len(req.Docs) != b || len(req.ContextIDs) != b || len(req.QuestionIDs) != b {
			return in, fmt.Errorf("token features need docs, context_ids and question_ids for every pair")
		}
		for i, doc := range req.Docs {
			if doc < 0 || doc >= f.Matrix.NumDocs() {
				return in, fmt.Errorf("docs[%d] = %d outside corpus of %d documents", i, doc, f.Matrix.NumDocs())
			}
			if len(req.ContextIDs[i]) != cfg.ContextLen {
				return in, fmt.Errorf("context_ids[%d] has %d ids, want %d", i, len(req.ContextIDs[i]), cfg.ContextLen)
			}
			if len(req.QuestionIDs[i]) != cfg.QuestionLen {
				return in, fmt.Errorf("question_ids[%d] has %d ids, want %d", i, len(req.QuestionIDs[i]), cfg.QuestionLen)
			}
		}
		in.ContextIDs, in.QuestionIDs, in.Docs = req.ContextIDs, req.QuestionIDs, req.Docs
	}
	return in, nil
}

func toBatch(backend device.Backend, name string, seqs [][][]float64, length, width int) (nn.Batch, error) {
	out := make(nn.Batch, len(seqs))
	for i, seq := range seqs {
		if len(seq) != length {
			return nil, fmt.Errorf("%s[%d] has %d rows, want %d", name, i, len(seq), length)
		}
		data := make([]float64, 0, length*width)
		for j, row := range seq {
			if len(row) != width {
				return nil, fmt.Errorf("%s[%d][%d] has width %d, want %d", name, i, j, len(row), width)
			}
			data = append(data, row...)
		}
		out[i] = backend.NewTensor(length, width, data)
	}
	return out, nil
}

func toMask(backend device.Backend, name string, rows [][]float64, length int) (device.Tensor, error) {
	data := make([]float64, 0, len(rows)*length)
	for i, row := range rows {
		if len(row) != length {
			return nil, fmt.Errorf("%s[%d] has length %d, want %d", name, i, len(row), length)
		}
		padded := false
		for j, v := range row {
			switch {
			case v != 0 && v != 1:
				return nil, fmt.Errorf("%s[%d][%d] = %v, want 0 or 1", name, i, j, v)
			case v == 1 && padded:
				return nil, fmt.Errorf("%s[%d] is not a prefix mask", name, i)
			}
			padded = padded || v == 0
		}
		data = append(data, row...)
	}
	mask := backend.NewTensor(len(rows), length, data)
	if err := nn.CheckMask(mask, 1); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return mask, nil
}

func checkChars(name string, chars [][][]int, b, length int, cfg charcnn.Config) error {
	if len(chars) != b {
		return fmt.Errorf("%s: got %d elements, want %d", name, len(chars), b)
	}
	vocab := cfg.CharVocabSize + charcnn.NumReserved
	for i, words := range chars {
		if len(words) != length {
			return fmt.Errorf("%s[%d] has %d words, want %d", name, i, len(words), length)
		}
		for j, w := range words {
			if len(w) > cfg.WordLen {
				return fmt.Errorf("%s[%d][%d] has %d chars, max %d", name, i, j, len(w), cfg.WordLen)
			}
			for _, id := range w {
				if id < 0 || id >= vocab {
					return fmt.Errorf("%s[%d][%d]: char id %d out of range [0, %d)", name, i, j, id, vocab)
				}
			}
		}
	}
	return nil
}

func tensorRows(t device.Tensor) [][]float64 {
	r, c := t.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = t.At(i, j)
		}
	}
	return out
}

func newResponse(pred *reader.Prediction, spans []reader.Span) *ScoreResponse {
	resp := &ScoreResponse{
		Spans:     spans,
		StartProb: tensorRows(pred.StartProb),
		EndProb:   tensorRows(pred.EndProb),
		AttnDist:  make([][][]float64, len(pred.AttnDist)),
	}
	for i, d := range pred.AttnDist {
		resp.AttnDist[i] = tensorRows(d)
	}
	if pred.Q2CDist != nil {
		resp.Q2CDist = make([][]float64, len(pred.Q2CDist))
		for i, d := range pred.Q2CDist {
			resp.Q2CDist[i] = d.ToHost()
		}
	}
	return resp
}
