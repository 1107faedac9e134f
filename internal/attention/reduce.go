package attention

import "fmt"

// ReduceMode selects how BiDAF collapses the key-only and value-only score
// terms to one scalar per position.
type ReduceMode int

const (
	ReduceSum ReduceMode = iota
	ReduceMean
	// ReduceSingle keeps coordinate 1 only. Kept for compatibility with
	// models trained that way; prefer ReduceSum or ReduceMean.
	ReduceSingle
)

// singleCoordinate is the coordinate ReduceSingle selects.
const singleCoordinate = 1

func (m ReduceMode) String() string {
	switch m {
	case ReduceSum:
		return "sum"
	case ReduceMean:
		return "mean"
	case ReduceSingle:
		return "single"
	default:
		return fmt.Sprintf("ReduceMode(%d)", int(m))
	}
}

func ParseReduceMode(s string) (ReduceMode, error) {
	switch s {
	case "sum":
		return ReduceSum, nil
	case "mean":
		return ReduceMean, nil
	case "single":
		return ReduceSingle, nil
	default:
		return 0, fmt.Errorf("unknown reduce mode %q (want sum, mean or single)", s)
	}
}

// coefficients returns c such that reducing x equals dot(c, x).
func (m ReduceMode) coefficients(d int) []float64 {
	c := make([]float64, d)
	switch m {
	case ReduceSum:
		for i := range c {
			c[i] = 1
		}
	case ReduceMean:
		for i := range c {
			c[i] = 1 / float64(d)
		}
	case ReduceSingle:
		if d <= singleCoordinate {
			panic(fmt.Sprintf("ReduceSingle needs width > %d, got %d", singleCoordinate, d))
		}
		c[singleCoordinate] = 1
	default:
		panic(fmt.Sprintf("unknown reduce mode %d", int(m)))
	}
	return c
}
