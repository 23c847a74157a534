package layer

import "github.com/neurolab/wmhgan/internal/activations"

// Softmax normalises its input into a probability vector.
type Softmax struct {
	outputBuf []float64
	gradInBuf []float64
}

// NewSoftmax creates a softmax layer over size classes.
func NewSoftmax(size int) *Softmax {
	return &Softmax{
		outputBuf: make([]float64, size),
		gradInBuf: make([]float64, size),
	}
}

// Forward computes softmax(x).
func (s *Softmax) Forward(x []float64) []float64 {
	return activations.Softmax{}.ActivateBatch(x, s.outputBuf)
}

// Backward applies the softmax Jacobian: dx_j = y_j * (g_j - sum_k y_k g_k).
func (s *Softmax) Backward(grad []float64) []float64 {
	var dot float64
	for k, y := range s.outputBuf {
		dot += y * grad[k]
	}
	for j, y := range s.outputBuf {
		s.gradInBuf[j] = y * (grad[j] - dot)
	}
	return s.gradInBuf
}

// Params returns nothing; softmax has no parameters.
func (s *Softmax) Params() []float64 { return nil }

// SetParams is a no-op.
func (s *Softmax) SetParams([]float64) {}

// Gradients returns nothing.
func (s *Softmax) Gradients() []float64 { return nil }

// ClearGradients is a no-op.
func (s *Softmax) ClearGradients() {}

// Size returns the number of classes.
func (s *Softmax) Size() int { return len(s.outputBuf) }
