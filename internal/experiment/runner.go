package experiment

import (
	"context"
	"log"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/neurolab/wmhgan/internal/config"
	"github.com/neurolab/wmhgan/internal/dataset"
	"github.com/neurolab/wmhgan/internal/metrics"
	"github.com/neurolab/wmhgan/internal/net"
	"github.com/neurolab/wmhgan/internal/nifti"
)

// ReportOrder is the column order of the printed and averaged scores.
var ReportOrder = []Model{CNNDSC, CNN, GANDSC, GAN}

// CaseResult holds the scores of one test case in ReportOrder.
type CaseResult struct {
	Name    string
	DSC     []float64
	ProbDSC []float64
}

// Report is the outcome of a run.
type Report struct {
	Cases       []CaseResult
	MeanDSC     []float64
	MeanProbDSC []float64
}

// Runner executes the whole experiment.
type Runner struct {
	Opts *config.Options
	Log  *log.Logger

	rng   *rand.Rand
	train *dataset.Source
	seg   *net.Dataset
}

// NewRunner creates a runner for validated options.
func NewRunner(o *config.Options, logger *log.Logger) *Runner {
	return &Runner{
		Opts: o,
		Log:  logger,
		rng:  rand.New(rand.NewSource(o.Seed)),
	}
}

func (r *Runner) names() dataset.Names {
	return dataset.Names{FLAIR: r.Opts.FLAIR, T1: r.Opts.T1, Labels: r.Opts.Labels}
}

// Run trains, segments and scores every test case. Cases whose outputs are
// already on disk are only scored.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	o := r.Opts
	if o.Preload {
		r.Log.Printf("Starting training (with preloading)")
	} else {
		r.Log.Printf("Starting training")
	}

	trainPatients, err := dataset.Discover(o.TrainDir, r.names())
	if err != nil {
		return nil, errors.Wrap(err, "training data")
	}
	if len(trainPatients) == 0 {
		return nil, errors.Errorf("no patients in %s", o.TrainDir)
	}
	testPatients, err := dataset.Discover(o.TestDir, r.names())
	if err != nil {
		return nil, errors.Wrap(err, "test data")
	}
	r.train, err = dataset.NewSource(ctx, trainPatients, dataset.SourceOptions{
		Preload: o.Preload,
		Labels:  true,
		Workers: o.Workers,
	})
	if err != nil {
		return nil, err
	}
	test, err := dataset.NewSource(ctx, testPatients, dataset.SourceOptions{Workers: o.Workers})
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var dsc, pr [][]float64
	for i, p := range testPatients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.Log.Printf("Case %s (%d/%d):", p.Name, i+1, len(testPatients))
		res, err := r.runCase(ctx, test, i)
		if err != nil {
			return nil, errors.Wrapf(err, "case %s", p.Name)
		}
		r.Log.Printf("Case %s CNN vs GAN DSC: %f (%f) vs %f (%f)", p.Name, res.DSC[0], res.DSC[1], res.DSC[2], res.DSC[3])
		r.Log.Printf("Case %s CNN vs GAN DSC Pr: %f (%f) vs %f (%f)", p.Name, res.ProbDSC[0], res.ProbDSC[1], res.ProbDSC[2], res.ProbDSC[3])
		report.Cases = append(report.Cases, *res)
		dsc = append(dsc, res.DSC)
		pr = append(pr, res.ProbDSC)
	}

	report.MeanDSC = metrics.Mean(dsc)
	report.MeanProbDSC = metrics.Mean(pr)
	if len(report.Cases) > 0 {
		m, mp := report.MeanDSC, report.MeanProbDSC
		r.Log.Printf("Final results DSC: %f (%f) vs %f (%f)", m[0], m[1], m[2], m[3])
		r.Log.Printf("Final results DSC Pr: %f (%f) vs %f (%f)", mp[0], mp[1], mp[2], mp[3])
	}
	return report, nil
}

// runCase produces (or loads) the four segmentations of test case i and
// scores them.
func (r *Runner) runCase(ctx context.Context, test *dataset.Source, i int) (*CaseResult, error) {
	o := r.Opts
	p := test.Patients[i]

	segs := make(map[Model]*Segmentation, len(Models))
	missing := false
	for _, m := range Models {
		seg, err := LoadSegmentation(OutputName(p.Dir(), p.Name, m, o.ShuffleSuffix(), o.Epochs))
		if err != nil {
			if !IsNotComputed(err) {
				return nil, err
			}
			missing = true
			break
		}
		segs[m] = seg
	}

	if missing {
		var err error
		if segs, err = r.compute(ctx, test, i); err != nil {
			return nil, err
		}
	}

	gt, err := nifti.LoadVolume(p.Labels)
	if err != nil {
		return nil, err
	}
	res := &CaseResult{Name: p.Name}
	for _, m := range ReportOrder {
		s, err := Evaluate(gt, segs[m])
		if err != nil {
			return nil, errors.Wrap(err, m.String())
		}
		res.DSC = append(res.DSC, s.DSC)
		res.ProbDSC = append(res.ProbDSC, s.ProbDSC)
	}
	return res, nil
}

// compute trains the four models for test case i and segments it.
func (r *Runner) compute(ctx context.Context, test *dataset.Source, i int) (map[Model]*Segmentation, error) {
	o := r.Opts
	p := test.Patients[i]

	d, err := r.segmentationSet(ctx)
	if err != nil {
		return nil, err
	}
	nets, err := NewNets(o, len(p.Images))
	if err != nil {
		return nil, err
	}
	r.Log.Printf("Training the networks (CNN vs GAN: %d/%d parameters)",
		nets.Trainable(CNN).CountParams(), nets.Trainable(GAN).CountParams())

	target, err := test.Case(i)
	if err != nil {
		return nil, err
	}
	trainer := &Trainer{
		Log:       r.Log,
		Epochs:    o.Epochs,
		BatchSize: o.BatchSize,
		Patience:  o.Patience,
		History:   o.History,

		BatchLogInterval: o.BatchLog,
	}
	disc := func(ctx context.Context) ([][]float64, [][]float64, error) {
		return dataset.DiscPatches(ctx, r.train, target, len(d.X), o.PatchWidth, r.rng)
	}
	if err := trainer.TrainNets(ctx, nets, CheckpointBase(p.Dir(), o.Suffix()), d, disc); err != nil {
		return nil, err
	}

	ref, err := nifti.Load(p.Images[0])
	if err != nil {
		return nil, err
	}
	tester := &Tester{Log: r.Log, Patch: o.PatchWidth, BatchSize: o.TestBatchSize, Workers: o.Workers}
	segs := make(map[Model]*Segmentation, len(Models))
	for _, m := range Models {
		name := OutputName(p.Dir(), p.Name, m, o.ShuffleSuffix(), o.Epochs)
		if segs[m], err = tester.TestNet(ctx, nets.Predictor(m), target, ref, name); err != nil {
			return nil, errors.Wrap(err, m.String())
		}
	}
	return segs, nil
}

// segmentationSet extracts the training patches on first use. They are
// shared by every test case.
func (r *Runner) segmentationSet(ctx context.Context) (*net.Dataset, error) {
	if r.seg != nil {
		return r.seg, nil
	}
	o := r.Opts
	centers, err := dataset.CNNCenters(ctx, r.train, o.Balanced, r.rng)
	if err != nil {
		return nil, err
	}
	centers = dataset.Downsample(dataset.Permute(centers, r.rng), o.Downsample)
	if len(centers) == 0 {
		return nil, errors.New("no training centers")
	}
	r.Log.Printf("Extracting %d training patches", len(centers))

	x, y, err := dataset.SegPatches(ctx, r.train, centers, o.PatchWidth, 2)
	if err != nil {
		return nil, err
	}
	if o.Shuffle {
		dataset.ShuffleLabels(y, o.SwapRate, r.rng)
	}
	r.seg = &net.Dataset{X: x, Y: y}
	return r.seg, nil
}
