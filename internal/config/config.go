// Package config holds the experiment options. Defaults can come from a
// YAML file; command-line flags override them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Options are the experiment parameters.
type Options struct {
	// Data
	TrainDir string `yaml:"trainDir"`
	TestDir  string `yaml:"testDir"`
	FLAIR    string `yaml:"flair"`
	T1       string `yaml:"t1"`
	Labels   string `yaml:"labels"`

	// Network
	PatchWidth  int   `yaml:"patchWidth"`
	KernelSizes []int `yaml:"kernelSizes"`
	ConvBlocks  int   `yaml:"convBlocks"`
	Filters     []int `yaml:"filters"`
	DenseSize   int   `yaml:"denseSize"`

	// Training
	BatchSize     int     `yaml:"batchSize"`
	TestBatchSize int     `yaml:"testBatchSize"`
	Epochs        int     `yaml:"epochs"`
	Patience      int     `yaml:"patience"`
	LearningRate  float64 `yaml:"learningRate"`
	Seed          int64   `yaml:"seed"`

	// Sampling
	Downsample int     `yaml:"downsample"`
	Balanced   bool    `yaml:"balanced"`
	Shuffle    bool    `yaml:"shuffle"`
	SwapRate   float64 `yaml:"swapRate"`
	Preload    bool    `yaml:"preload"`

	// Workers bounds the goroutines used for loading and patch extraction.
	// Zero picks one per CPU core.
	Workers int `yaml:"workers"`
	// History is a CSV file receiving per-epoch losses. Empty disables it.
	History string `yaml:"history"`
	// BatchLog is the number of batches between training progress lines.
	// Zero logs epochs only.
	BatchLog int `yaml:"batchLog"`

	// SaveConfig receives the effective options as YAML before the run.
	SaveConfig string `yaml:"-"`
}

// Default returns the default options.
func Default() *Options {
	return &Options{
		FLAIR:         "pre/FLAIR.nii.gz",
		T1:            "pre/T1.nii.gz",
		Labels:        "wmh.nii.gz",
		PatchWidth:    15,
		KernelSizes:   []int{3},
		ConvBlocks:    4,
		Filters:       []int{32},
		DenseSize:     256,
		BatchSize:     128,
		TestBatchSize: 32768,
		Epochs:        5,
		Patience:      2,
		LearningRate:  1e-3,
		Seed:          1,
		Downsample:    1,
		Balanced:      true,
		SwapRate:      0.5,
	}
}

// Load reads options from a YAML file on top of the defaults.
func Load(path string) (*Options, error) {
	o := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, o); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return o, nil
}

// Save writes o as YAML.
func (o *Options) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	data, err := yaml.Marshal(o)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "write config")
}

// repeat returns list itself if it has several entries, or its single
// entry repeated n times.
func repeat(list []int, n int) []int {
	if len(list) != 1 {
		return list
	}
	out := make([]int, n)
	for i := range out {
		out[i] = list[0]
	}
	return out
}

// FiltersList is the number of filters of every convolution block.
func (o *Options) FiltersList() []int { return repeat(o.Filters, o.ConvBlocks) }

// KernelList is the kernel width of every convolution block.
func (o *Options) KernelList() []int { return repeat(o.KernelSizes, o.ConvBlocks) }

// ShuffleSuffix is ".s" when labels are shuffled.
func (o *Options) ShuffleSuffix() string {
	if o.Shuffle {
		return ".s"
	}
	return ""
}

// Suffix encodes the hyperparameters that change the trained weights.
func (o *Options) Suffix() string {
	unbalanced := ""
	if !o.Balanced {
		unbalanced = ".ub"
	}
	return fmt.Sprintf("%s%s.p%d.c%s.n%s.d%d.D%d",
		unbalanced, o.ShuffleSuffix(), o.PatchWidth,
		join(o.KernelList(), "c"), join(o.FiltersList(), "n"),
		o.DenseSize, o.Downsample)
}

func join(list []int, sep string) string {
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, sep)
}

// Validate checks the options for values the pipeline cannot run with.
func (o *Options) Validate() error {
	switch {
	case o.TrainDir == "":
		return errors.New("missing training folder")
	case o.TestDir == "":
		return errors.New("missing test folder")
	case o.FLAIR == "":
		return errors.New("missing FLAIR name")
	case o.PatchWidth <= 0:
		return errors.Errorf("invalid patch width %d", o.PatchWidth)
	case o.ConvBlocks <= 0:
		return errors.Errorf("invalid number of conv blocks %d", o.ConvBlocks)
	case o.BatchSize <= 0 || o.TestBatchSize <= 0:
		return errors.Errorf("invalid batch sizes %d/%d", o.BatchSize, o.TestBatchSize)
	case o.DenseSize <= 0:
		return errors.Errorf("invalid dense size %d", o.DenseSize)
	case o.Epochs <= 0:
		return errors.Errorf("invalid number of epochs %d", o.Epochs)
	case o.Downsample <= 0:
		return errors.Errorf("invalid down-sampling %d", o.Downsample)
	case o.BatchLog < 0:
		return errors.Errorf("invalid batch log interval %d", o.BatchLog)
	case o.SwapRate < 0 || o.SwapRate > 1:
		return errors.Errorf("swap rate %v outside [0, 1]", o.SwapRate)
	case len(o.Filters) == 0 || len(o.KernelSizes) == 0:
		return errors.New("empty filter or kernel list")
	}
	if f, k := o.FiltersList(), o.KernelList(); len(f) != len(k) {
		return errors.Errorf("%d filter sizes for %d kernel sizes", len(f), len(k))
	}
	return nil
}
