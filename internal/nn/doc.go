// Package nn holds the shared building blocks of the reader components:
// sequence batches and masks, the train/inference Mode, trainable
// Parameters with their initializers, dropout, the masked softmax primitive
// and a dense projection layer.
//
// Every Forward takes the Mode explicitly. Forward never mutates a
// Parameter; gradients are accumulated into Parameter.Grad by Backward and
// applied by an optimizer (see internal/optim).
package nn
