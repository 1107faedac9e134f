//go:build ignore

package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/23skdu/longbow-reader/internal/attention"
	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/encoder"
	"github.com/23skdu/longbow-reader/internal/reader"
)

// WeightDump summarizes one initialized parameter
type WeightDump struct {
	Name     string    `json:"name"`
	Rows     int       `json:"rows"`
	Cols     int       `json:"cols"`
	FirstFew []float64 `json:"first_few"`
	LastFew  []float64 `json:"last_few"`
	Sum      float64   `json:"sum"`
}

func main() {
	seed := flag.Int64("seed", 42, "Initialization seed")
	attn := flag.String("attention", "basic", "Attention layer (basic, bidaf)")
	cell := flag.String("cell", "gru", "Encoder cell (gru, lstm)")
	hidden := flag.Int("hidden", 200, "Encoder hidden size")
	embedding := flag.Int("embedding", 100, "Word vector width")
	flag.Parse()

	cfg := reader.DefaultConfig()
	cfg.HiddenSize = *hidden
	cfg.EmbeddingSize = *embedding
	var err error
	if cfg.Attention, err = reader.ParseAttentionType(*attn); err != nil {
		log.Fatal(err)
	}
	if cfg.CellType, err = encoder.ParseCellType(*cell); err != nil {
		log.Fatal(err)
	}
	cfg.ReduceMode = attention.ReduceSum
	cfg.Seed = *seed

	m := reader.New(cfg, nil, device.NewCPUBackend())

	dumps := []WeightDump{}
	for _, p := range m.Parameters() {
		r, c := p.Dims()
		data := p.Value.ToHost()
		count := 5
		if len(data) < count {
			count = len(data)
		}
		wd := WeightDump{
			Name:     p.Name,
			Rows:     r,
			Cols:     c,
			FirstFew: data[:count],
			LastFew:  data[len(data)-count:],
		}
		for _, v := range data {
			wd.Sum += v
		}
		dumps = append(dumps, wd)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dumps); err != nil {
		log.Fatal(err)
	}
}
