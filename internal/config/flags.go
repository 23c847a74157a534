package config

import (
	"flag"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// intList is a comma separated list of integers.
type intList struct{ list *[]int }

func (l intList) String() string {
	if l.list == nil {
		return ""
	}
	return join(*l.list, ",")
}

func (l intList) Set(s string) error {
	var out []int
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return errors.Errorf("invalid integer %q", part)
		}
		out = append(out, v)
	}
	*l.list = out
	return nil
}

// falseFlag is a boolean flag that clears its target when given.
type falseFlag struct{ b *bool }

func (f falseFlag) String() string {
	if f.b == nil {
		return "false"
	}
	return strconv.FormatBool(!*f.b)
}

func (f falseFlag) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*f.b = !v
	return nil
}

func (f falseFlag) IsBoolFlag() bool { return true }

// configPath finds the -config value without parsing the other flags.
func configPath(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		name := strings.TrimLeft(a, "-")
		if len(name) == len(a) {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// Parse builds the options from command-line arguments (without the
// program name). A -config file supplies the defaults.
func Parse(args []string, output io.Writer) (*Options, error) {
	o := Default()
	if path := configPath(args); path != "" {
		var err error
		if o, err = Load(path); err != nil {
			return nil, err
		}
	}

	fs := flag.NewFlagSet("wmhseg", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	str := func(p *string, short, long, usage string) {
		fs.StringVar(p, short, *p, usage)
		fs.StringVar(p, long, *p, usage)
	}
	num := func(p *int, short, long, usage string) {
		fs.IntVar(p, short, *p, usage)
		fs.IntVar(p, long, *p, usage)
	}
	boolean := func(p *bool, short, long, usage string) {
		fs.BoolVar(p, short, *p, usage)
		fs.BoolVar(p, long, *p, usage)
	}
	list := func(p *[]int, short, long, usage string) {
		fs.Var(intList{p}, short, usage)
		fs.Var(intList{p}, long, usage)
	}

	fs.String("config", "", "YAML file with default options")
	str(&o.TrainDir, "f", "training-folder", "directory with the training patients")
	str(&o.TestDir, "F", "test-folder", "directory with the test patients")
	num(&o.PatchWidth, "i", "patch-width", "patch width in voxels")
	list(&o.KernelSizes, "k", "kernel-size", "kernel width per conv block (comma list)")
	num(&o.ConvBlocks, "c", "conv-blocks", "number of conv blocks")
	num(&o.BatchSize, "b", "batch-size", "training batch size")
	num(&o.TestBatchSize, "B", "batch-test-size", "voxels per inference batch")
	num(&o.DenseSize, "d", "dense-size", "units of the dense layer")
	num(&o.Downsample, "D", "down-sampling", "keep every n-th training center")
	list(&o.Filters, "n", "num-filters", "filters per conv block (comma list)")
	num(&o.Epochs, "e", "epochs", "training epochs")
	fs.Float64Var(&o.SwapRate, "r", o.SwapRate, "fraction of labels permuted when shuffling")
	fs.Float64Var(&o.SwapRate, "swap-rate", o.SwapRate, "fraction of labels permuted when shuffling")
	fs.Var(falseFlag{&o.Balanced}, "u", "sample all background voxels")
	fs.Var(falseFlag{&o.Balanced}, "unbalanced", "sample all background voxels")
	boolean(&o.Preload, "p", "preload", "load every volume before training")
	boolean(&o.Shuffle, "s", "shuffle-labels", "shuffle a fraction of the training labels")
	num(&o.Patience, "P", "patience", "epochs without improvement before the learning rate drops")
	fs.StringVar(&o.FLAIR, "flair", o.FLAIR, "FLAIR path inside a patient directory")
	fs.StringVar(&o.T1, "t1", o.T1, "T1 path inside a patient directory")
	fs.StringVar(&o.Labels, "labels", o.Labels, "label path inside a patient directory")
	fs.IntVar(&o.Workers, "workers", o.Workers, "loader goroutines (0: one per core)")
	fs.Int64Var(&o.Seed, "seed", o.Seed, "random seed")
	fs.Float64Var(&o.LearningRate, "lr", o.LearningRate, "Adam learning rate")
	fs.StringVar(&o.History, "history", o.History, "CSV file for the training history")
	fs.IntVar(&o.BatchLog, "batch-log", o.BatchLog, "batches between progress lines (0: epochs only)")
	fs.StringVar(&o.SaveConfig, "save-config", o.SaveConfig, "write the effective options to this YAML file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errors.Errorf("unexpected arguments %v", fs.Args())
	}
	if err := o.Validate(); err != nil {
		return nil, errors.Wrap(err, "options")
	}
	return o, nil
}
