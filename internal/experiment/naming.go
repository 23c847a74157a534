// Package experiment runs the CNN vs adversarial comparison: it trains the
// four models once per test case, segments the case and scores the results.
package experiment

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/neurolab/wmhgan/internal/net"
)

// NetName prefixes every checkpoint file.
const NetName = "wmh2017"

// Model identifies one of the four compared models.
type Model int

const (
	CNN Model = iota
	CNNDSC
	GAN
	GANDSC
)

// Models lists the models in training order.
var Models = []Model{CNN, CNNDSC, GAN, GANDSC}

// CheckpointTag names the model in checkpoint files.
func (m Model) CheckpointTag() string {
	return [...]string{"net", "net-dsc", "gan", "gan-dsc"}[m]
}

// OutputTag names the model in segmentation files.
func (m Model) OutputTag() string {
	return [...]string{"cnn", "dsc-cnn", "gan", "dsc-gan"}[m]
}

func (m Model) String() string {
	return m.OutputTag()
}

// CheckpointBase is the common prefix of the checkpoints of one case.
func CheckpointBase(dir, suffix string) string {
	return filepath.Join(dir, NetName+suffix+".weights")
}

// CheckpointPath is the weights file of model m after epoch.
func CheckpointPath(base string, m Model, epoch int) string {
	return net.EpochPath(checkpointPrefix(base, m), epoch)
}

func checkpointPrefix(base string, m Model) string {
	return base + "." + m.CheckpointTag()
}

// OutputName is the segmentation path of model m without extension.
func OutputName(dir, caseName string, m Model, shuffleSuffix string, epochs int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%s.test%s.e%d", caseName, m.OutputTag(), shuffleSuffix, epochs))
}

// LabelPath is the binary segmentation written for an output name.
func LabelPath(name string) string { return name + ".nii.gz" }

// ProbabilityPath is the lesion probability map written for an output name.
func ProbabilityPath(name string) string { return name + ".pr.nii.gz" }

// NotComputedError reports a result that could not be loaded and has to be
// computed.
type NotComputedError struct {
	Path string
	Err  error
}

func (e *NotComputedError) Error() string {
	return fmt.Sprintf("%s not computed: %v", e.Path, e.Err)
}

func (e *NotComputedError) Unwrap() error { return e.Err }

// IsNotComputed reports whether err means a checkpoint or output is missing
// or unreadable.
func IsNotComputed(err error) bool {
	var nc *NotComputedError
	return errors.As(err, &nc)
}

func notComputed(path string, err error) error {
	if err == nil {
		return nil
	}
	return &NotComputedError{Path: path, Err: err}
}
