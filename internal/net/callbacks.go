package net

import (
	"fmt"
	"log"

	"github.com/pkg/errors"

	"github.com/neurolab/wmhgan/internal/opt"
)

// Callback defines the interface for training callbacks.
type Callback interface {
	OnEpochEnd(epoch int, loss float64, m Model) error
	OnBatchEnd(batch int, loss float64, m Model)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (BaseCallback) OnEpochEnd(epoch int, loss float64, m Model) error { return nil }
func (BaseCallback) OnBatchEnd(batch int, loss float64, m Model)       {}

// RunEpoch trains m for one epoch and notifies the callbacks. Epochs are
// numbered from 1.
func RunEpoch(m Model, d *Dataset, epoch, batchSize int, callbacks ...Callback) (float64, error) {
	l := m.FitEpoch(d, batchSize, callbacks...)
	for _, cb := range callbacks {
		if err := cb.OnEpochEnd(epoch, l, m); err != nil {
			return l, errors.Wrapf(err, "epoch %d", epoch)
		}
	}
	return l, nil
}

// SchedulerCallback is a callback that wraps a scheduler.
type SchedulerCallback struct {
	BaseCallback
	scheduler opt.Scheduler
}

func NewSchedulerCallback(scheduler opt.Scheduler) *SchedulerCallback {
	return &SchedulerCallback{scheduler: scheduler}
}

func (c *SchedulerCallback) OnEpochEnd(epoch int, loss float64, m Model) error {
	c.scheduler.Step()
	c.scheduler.StepWithLoss(loss)
	return nil
}

// EpochPath is the checkpoint path of epoch for the given prefix.
func EpochPath(prefix string, epoch int) string {
	return fmt.Sprintf("%s.e%d", prefix, epoch)
}

// EpochCheckpoint saves the model weights after every epoch to
// EpochPath(Prefix, epoch).
type EpochCheckpoint struct {
	BaseCallback
	Prefix string
}

func (c EpochCheckpoint) OnEpochEnd(epoch int, loss float64, m Model) error {
	return m.SaveWeights(EpochPath(c.Prefix, epoch))
}

// Logger logs training progress. Interval is in batches; zero disables the
// per-batch lines.
type Logger struct {
	BaseCallback
	Log      *log.Logger
	Name     string
	Interval int
}

func (c Logger) OnBatchEnd(batch int, loss float64, m Model) {
	if c.Log != nil && c.Interval > 0 && batch%c.Interval == 0 {
		c.Log.Printf("%s batch %d: loss = %.6f", c.Name, batch, loss)
	}
}

func (c Logger) OnEpochEnd(epoch int, loss float64, m Model) error {
	if c.Log != nil {
		c.Log.Printf("%s epoch %d: loss = %.6f", c.Name, epoch, loss)
	}
	return nil
}
