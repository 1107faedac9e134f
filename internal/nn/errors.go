package nn

import "errors"

// ErrAllMasked reports a softmax line with no valid position. MaskedSoftmax
// still returns a (uniform, meaningless) distribution for such lines, so
// callers that can see all-padding inputs should check with CheckMask first.
var ErrAllMasked = errors.New("all positions masked")
