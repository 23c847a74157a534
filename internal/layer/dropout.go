package layer

// Dropout implements inverted dropout regularization.
// During training, inputs are zeroed with probability p and the survivors are
// scaled by 1/(1-p); during inference, inputs pass through unchanged.
type Dropout struct {
	p        float64
	training bool

	outputBuf []float64
	maskBuf   []float64
	gradInBuf []float64

	rng *RNG
}

// NewDropout creates a new dropout layer for inputs of the given size.
func NewDropout(p float64, inSize int) *Dropout {
	return &Dropout{
		p:         p,
		training:  true,
		outputBuf: make([]float64, inSize),
		maskBuf:   make([]float64, inSize),
		gradInBuf: make([]float64, inSize),
		rng:       nextRNG(),
	}
}

// SetTraining sets whether the layer should be in training or inference mode.
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

// RandomState returns the state of the mask generator.
func (d *Dropout) RandomState() uint64 { return d.rng.State() }

// SetRandomState rewinds the mask generator so the following forward passes
// draw the same masks again.
func (d *Dropout) SetRandomState(state uint64) { d.rng.SetState(state) }

// Forward applies a fresh dropout mask in training mode.
func (d *Dropout) Forward(x []float64) []float64 {
	if !d.training || d.p <= 0 {
		for i := range d.maskBuf {
			d.maskBuf[i] = 1
		}
		copy(d.outputBuf, x)
		return d.outputBuf
	}

	keep := 1 / (1 - d.p)
	for i, v := range x {
		if d.rng.Float64() < d.p {
			d.maskBuf[i] = 0
		} else {
			d.maskBuf[i] = keep
		}
		d.outputBuf[i] = v * d.maskBuf[i]
	}
	return d.outputBuf
}

// Backward routes the gradient through the last mask.
func (d *Dropout) Backward(grad []float64) []float64 {
	for i, g := range grad {
		d.gradInBuf[i] = g * d.maskBuf[i]
	}
	return d.gradInBuf
}

// Params returns nothing; dropout has no parameters.
func (d *Dropout) Params() []float64 { return nil }

// SetParams is a no-op.
func (d *Dropout) SetParams([]float64) {}

// Gradients returns nothing.
func (d *Dropout) Gradients() []float64 { return nil }

// ClearGradients is a no-op.
func (d *Dropout) ClearGradients() {}

// InSize returns the input size.
func (d *Dropout) InSize() int { return len(d.outputBuf) }
