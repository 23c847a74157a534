package layer

// Weight is a scalar read at backward time, such as the adversarial weight
// that ramps up between epochs.
type Weight interface {
	Value() float64
}

// GradientReversal is the identity on the forward pass and multiplies the
// gradient by -weight on the backward pass. Placed in front of a domain
// discriminator it makes the shared features maximise the discriminator loss
// while the discriminator itself minimises it.
type GradientReversal struct {
	weight    Weight
	outputBuf []float64
	gradInBuf []float64
}

// NewGradientReversal creates a reversal layer for inputs of the given size.
func NewGradientReversal(size int, weight Weight) *GradientReversal {
	return &GradientReversal{
		weight:    weight,
		outputBuf: make([]float64, size),
		gradInBuf: make([]float64, size),
	}
}

// Forward copies the input.
func (g *GradientReversal) Forward(x []float64) []float64 {
	copy(g.outputBuf, x)
	return g.outputBuf
}

// Backward returns -weight * grad.
func (g *GradientReversal) Backward(grad []float64) []float64 {
	w := g.weight.Value()
	for i, v := range grad {
		g.gradInBuf[i] = -w * v
	}
	return g.gradInBuf
}

// Params returns nothing.
func (g *GradientReversal) Params() []float64 { return nil }

// SetParams is a no-op.
func (g *GradientReversal) SetParams([]float64) {}

// Gradients returns nothing.
func (g *GradientReversal) Gradients() []float64 { return nil }

// ClearGradients is a no-op.
func (g *GradientReversal) ClearGradients() {}

// Size returns the input size.
func (g *GradientReversal) Size() int { return len(g.outputBuf) }
