package reader

import "github.com/23skdu/longbow-reader/internal/device"

// Span is a predicted answer location, inclusive on both ends.
type Span struct {
	Start int     `cbor:"start" json:"start"`
	End   int     `cbor:"end" json:"end"`
	Prob  float64 `cbor:"prob" json:"prob"`
}

// BestSpans picks, per batch row, the span maximising
// startProb[s] * endProb[e] subject to s <= e <= s+maxSpan.
func BestSpans(startProb, endProb device.Tensor, maxSpan int) []Span {
	b, length := startProb.Dims()
	spans := make([]Span, b)
	for i := 0; i < b; i++ {
		best := Span{Prob: -1}
		for s := 0; s < length; s++ {
			ps := startProb.At(i, s)
			limit := s + maxSpan
			if limit >= length {
				limit = length - 1
			}
			for e := s; e <= limit; e++ {
				if p := ps * endProb.At(i, e); p > best.Prob {
					best = Span{Start: s, End: e, Prob: p}
				}
			}
		}
		spans[i] = best
	}
	return spans
}
