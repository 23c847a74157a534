package opt

import (
	"math"
	"sync"
)

// Scheduler is stepped once per epoch.
type Scheduler interface {
	Step()
	StepWithLoss(loss float64)
}

// BaseScheduler provides default implementations for Scheduler.
type BaseScheduler struct{}

func (s BaseScheduler) Step()                     {}
func (s BaseScheduler) StepWithLoss(loss float64) {}

// Scalar is a shared scalar read by layers while training, such as the
// adversarial weight of a gradient-reversal layer.
type Scalar struct {
	mu sync.RWMutex
	v  float64
}

// NewScalar creates a Scalar holding v.
func NewScalar(v float64) *Scalar {
	return &Scalar{v: v}
}

// Value returns the current value.
func (s *Scalar) Value() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Set replaces the value.
func (s *Scalar) Set(v float64) {
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}

// Ramp increases a Scalar by a fixed increment every step up to a ceiling.
type Ramp struct {
	BaseScheduler
	target    *Scalar
	increment float64
	max       float64
}

// NewRamp creates a Ramp on target.
func NewRamp(target *Scalar, increment, max float64) *Ramp {
	return &Ramp{target: target, increment: increment, max: max}
}

// Step sets target to min(target + increment, max).
func (r *Ramp) Step() {
	r.target.Set(math.Min(r.target.Value()+r.increment, r.max))
}

// ReduceLROnPlateau reduces learning rate when a metric has stopped improving.
type ReduceLROnPlateau struct {
	BaseScheduler
	optimizers []Optimizer
	factor     float64
	patience   int
	threshold  float64
	minLR      float64

	bestLoss     float64
	numBadEpochs int
}

// NewReduceLROnPlateau creates a plateau scheduler acting on every optimizer
// given. A patience of zero disables it.
func NewReduceLROnPlateau(factor float64, patience int, threshold, minLR float64, optimizers ...Optimizer) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		optimizers: optimizers,
		factor:     factor,
		patience:   patience,
		threshold:  threshold,
		minLR:      minLR,
		bestLoss:   math.MaxFloat64,
	}
}

func (s *ReduceLROnPlateau) StepWithLoss(currentLoss float64) {
	if s.patience <= 0 {
		return
	}
	if currentLoss < s.bestLoss-s.threshold {
		s.bestLoss = currentLoss
		s.numBadEpochs = 0
		return
	}

	s.numBadEpochs++
	if s.numBadEpochs >= s.patience {
		for _, o := range s.optimizers {
			o.SetLearningRate(math.Max(o.LearningRate()*s.factor, s.minLR))
		}
		s.numBadEpochs = 0
	}
}

// PlateauState is the part of a ReduceLROnPlateau that has to survive a
// restart: the current learning rate and the improvement tracking.
type PlateauState struct {
	LearningRate float64 `yaml:"learningRate"`
	BestLoss     float64 `yaml:"bestLoss"`
	BadEpochs    int     `yaml:"badEpochs"`
}

// State returns the scheduler state. The learning rate is the first
// optimizer's.
func (s *ReduceLROnPlateau) State() PlateauState {
	st := PlateauState{BestLoss: s.bestLoss, BadEpochs: s.numBadEpochs}
	if len(s.optimizers) > 0 {
		st.LearningRate = s.optimizers[0].LearningRate()
	}
	return st
}

// Restore replaces the scheduler state and sets the learning rate of every
// optimizer.
func (s *ReduceLROnPlateau) Restore(st PlateauState) {
	s.bestLoss = st.BestLoss
	s.numBadEpochs = st.BadEpochs
	if st.LearningRate > 0 {
		for _, o := range s.optimizers {
			o.SetLearningRate(st.LearningRate)
		}
	}
}
