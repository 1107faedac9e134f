package reader

import (
	"fmt"

	"github.com/23skdu/longbow-reader/internal/attention"
	"github.com/23skdu/longbow-reader/internal/charcnn"
	"github.com/23skdu/longbow-reader/internal/encoder"
)

// AttentionType selects the attention layer between context and question.
type AttentionType int

const (
	BasicAttention AttentionType = iota
	BiDAFAttention
)

func (a AttentionType) String() string {
	if a == BiDAFAttention {
		return "bidaf"
	}
	return "basic"
}

func ParseAttentionType(s string) (AttentionType, error) {
	switch s {
	case "basic":
		return BasicAttention, nil
	case "bidaf":
		return BiDAFAttention, nil
	default:
		return 0, fmt.Errorf("unknown attention %q (want basic or bidaf)", s)
	}
}

// Config holds the configuration for the reader graph.
type Config struct {
	EmbeddingSize int // word vector width
	HiddenSize    int
	KeepProb      float64

	CellType   encoder.CellType
	Attention  AttentionType
	ReduceMode attention.ReduceMode
	UseBiases  bool

	// ContextLen and QuestionLen fix the padded sequence lengths. They are
	// required when UseBiases is set.
	ContextLen  int
	QuestionLen int

	// CharCNN enables character features when non-nil.
	CharCNN *charcnn.Config

	// MaxSpan bounds end - start in span prediction.
	MaxSpan int
	Seed    int64
}

func DefaultConfig() Config {
	return Config{
		EmbeddingSize: 100,
		HiddenSize:    200,
		KeepProb:      0.85,
		CellType:      encoder.GRU,
		Attention:     BasicAttention,
		ReduceMode:    attention.ReduceSum,
		ContextLen:    600,
		QuestionLen:   30,
		MaxSpan:       15,
		Seed:          42,
	}
}
