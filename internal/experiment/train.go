package experiment

import (
	"context"
	"log"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/neurolab/wmhgan/internal/net"
	"github.com/neurolab/wmhgan/internal/opt"
)

// Adversarial weight schedule: +0.1 after every epoch up to 1.
const (
	lambdaStep = 0.1
	lambdaMax  = 1.0
)

// Learning-rate reduction on plateau.
const (
	plateauFactor    = 0.5
	plateauThreshold = 1e-4
	minLearningRate  = 1e-6
)

// DiscFunc builds the discriminator samples. It is only called when the
// models actually need training.
type DiscFunc func(ctx context.Context) (xDisc, yDisc [][]float64, err error)

// Trainer fits the four models of a case epoch by epoch, resuming from any
// epoch checkpoints already on disk.
type Trainer struct {
	Log       *log.Logger
	Epochs    int
	BatchSize int
	Patience  int
	// History, when set, receives one CSV row per model and epoch.
	History string
	// BatchLogInterval is the number of batches between progress lines.
	// Zero logs epochs only.
	BatchLogInterval int
}

// TrainNets brings the four models to the final epoch. If the final
// checkpoints exist they are loaded and nothing is trained. Otherwise for
// every epoch the checkpoints of that epoch are loaded when present, or all
// four models are fitted for one epoch and saved. The adversarial weight
// ramps after every epoch either way.
func (t *Trainer) TrainNets(ctx context.Context, nets *Nets, base string, d *net.Dataset, disc DiscFunc) error {
	err := nets.Load(base, t.Epochs)
	if err == nil {
		t.Log.Printf("Loaded the networks from %s (epoch %d)", base, t.Epochs)
		return nil
	}
	if !IsNotComputed(err) {
		return err
	}

	xDisc, yDisc, err := disc(ctx)
	if err != nil {
		return errors.Wrap(err, "discriminator patches")
	}
	data := *d
	data.XDisc, data.YDisc = xDisc, yDisc

	callbacks, plateaus, closeHistory, err := t.callbacks(nets, base)
	if err != nil {
		return err
	}
	defer closeHistory()

	ramp := opt.NewRamp(nets.Lambda, lambdaStep, lambdaMax)
	t.Log.Printf("Starting the training process")
	for e := 1; e <= t.Epochs; e++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.Log.Printf("Epoch %d/%d", e, t.Epochs)

		err := nets.Load(base, e)
		switch {
		case err == nil:
			t.Log.Printf("Resumed epoch %d from checkpoints", e)
			for _, m := range Models {
				if err := loadPlateau(plateauPath(base, m, e), plateaus[m]); err != nil {
					return err
				}
			}
		case IsNotComputed(err):
			for _, m := range Models {
				if _, err := net.RunEpoch(nets.Trainable(m), &data, e, t.BatchSize, callbacks[m]...); err != nil {
					return errors.Wrapf(err, "train %s", m)
				}
			}
		default:
			return err
		}
		ramp.Step()
	}
	return nil
}

// callbacks assembles the per-model epoch callbacks and learning-rate
// schedulers. The returned function closes the history files.
func (t *Trainer) callbacks(nets *Nets, base string) (map[Model][]net.Callback, map[Model]*opt.ReduceLROnPlateau, func(), error) {
	out := make(map[Model][]net.Callback, len(Models))
	plateaus := make(map[Model]*opt.ReduceLROnPlateau, len(Models))
	var loggers []*net.CSVLogger
	var runID string
	closeAll := func() {
		for _, l := range loggers {
			l.Close()
		}
	}

	for _, m := range Models {
		m := m
		plateau := opt.NewReduceLROnPlateau(plateauFactor, t.Patience, plateauThreshold, minLearningRate, nets.Optimizer(m))
		plateaus[m] = plateau
		cbs := []net.Callback{
			net.Logger{Log: t.Log, Name: m.String(), Interval: t.BatchLogInterval},
			net.NewSchedulerCallback(plateau),
			net.EpochCheckpoint{Prefix: checkpointPrefix(base, m)},
			plateauCheckpoint{path: func(epoch int) string { return plateauPath(base, m, epoch) }, plateau: plateau},
		}
		if t.History != "" {
			csvLog := net.NewCSVLogger(t.History, m.String())
			if runID == "" {
				runID = csvLog.RunID
			}
			csvLog.RunID = runID
			if err := csvLog.Open(); err != nil {
				closeAll()
				return nil, nil, nil, err
			}
			loggers = append(loggers, csvLog)
			cbs = append(cbs, csvLog)
		}
		out[m] = cbs
	}
	return out, plateaus, closeAll, nil
}

// plateauPath is where the learning-rate schedule of m is saved next to its
// epoch checkpoint.
func plateauPath(base string, m Model, epoch int) string {
	return net.EpochPath(checkpointPrefix(base, m), epoch) + ".plateau"
}

// plateauCheckpoint saves the scheduler state after every epoch so a resumed
// run continues with the same learning rate.
type plateauCheckpoint struct {
	net.BaseCallback
	path    func(epoch int) string
	plateau *opt.ReduceLROnPlateau
}

func (c plateauCheckpoint) OnEpochEnd(epoch int, loss float64, m net.Model) error {
	data, err := yaml.Marshal(c.plateau.State())
	if err != nil {
		return errors.Wrap(err, "marshal plateau state")
	}
	path := c.path(epoch)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "write plateau state")
	}
	return errors.Wrap(os.Rename(tmp, path), "write plateau state")
}

// loadPlateau restores a saved scheduler state. Checkpoints written without
// one leave the scheduler as it is.
func loadPlateau(path string, plateau *opt.ReduceLROnPlateau) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read plateau state")
	}
	var st opt.PlateauState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return errors.Wrapf(err, "parse plateau state %s", path)
	}
	plateau.Restore(st)
	return nil
}
