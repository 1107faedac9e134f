package nn

// Mode selects training or inference behaviour for one forward pass.
// Dropout is active only in Training.
type Mode int

const (
	Inference Mode = iota
	Training
)

func (m Mode) String() string {
	if m == Training {
		return "training"
	}
	return "inference"
}
