// Package opt provides optimization algorithms and the schedules that drive
// learning rates and the adversarial weight between epochs.
package opt

import "math"

// Optimizer updates network parameters based on gradients.
type Optimizer interface {
	// StepInPlace updates params in place. group identifies the parameter
	// slice (one per layer) so stateful optimizers can keep per-parameter
	// moments.
	StepInPlace(group int, params, gradients []float64)

	LearningRate() float64
	SetLearningRate(lr float64)
}

// SGD (Stochastic Gradient Descent) optimizer.
type SGD struct {
	LR float64
}

// StepInPlace updates params in-place: params = params - lr * gradients
func (s *SGD) StepInPlace(group int, params, gradients []float64) {
	for i := range params {
		params[i] -= s.LR * gradients[i]
	}
}

// LearningRate returns the current learning rate.
func (s *SGD) LearningRate() float64 { return s.LR }

// SetLearningRate replaces the learning rate.
func (s *SGD) SetLearningRate(lr float64) { s.LR = lr }

// Adam optimizer for faster convergence.
type Adam struct {
	LR      float64
	Beta1   float64 // Exponential decay rate for first moment
	Beta2   float64 // Exponential decay rate for second moment
	Epsilon float64 // Small constant for numerical stability

	states map[int]*adamState
}

type adamState struct {
	m, v []float64
	t    int
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LR:      learningRate,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		states:  make(map[int]*adamState),
	}
}

// StepInPlace applies one bias-corrected Adam update to a parameter group.
func (a *Adam) StepInPlace(group int, params, gradients []float64) {
	if len(params) == 0 {
		return
	}
	st, ok := a.states[group]
	if !ok || len(st.m) != len(params) {
		st = &adamState{m: make([]float64, len(params)), v: make([]float64, len(params))}
		a.states[group] = st
	}
	st.t++

	c1 := 1 - math.Pow(a.Beta1, float64(st.t))
	c2 := 1 - math.Pow(a.Beta2, float64(st.t))
	for i, g := range gradients {
		st.m[i] = a.Beta1*st.m[i] + (1-a.Beta1)*g
		st.v[i] = a.Beta2*st.v[i] + (1-a.Beta2)*g*g
		mHat := st.m[i] / c1
		vHat := st.v[i] / c2
		params[i] -= a.LR * mHat / (math.Sqrt(vHat) + a.Epsilon)
	}
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 { return a.LR }

// SetLearningRate replaces the learning rate.
func (a *Adam) SetLearningRate(lr float64) { a.LR = lr }
