// Command wmhseg trains a CNN and a domain-adversarial network, each with
// and without a Dice objective, on WMH training patients and compares their
// segmentations of every test patient.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/klauspost/cpuid/v2"

	"github.com/neurolab/wmhgan/internal/config"
	"github.com/neurolab/wmhgan/internal/experiment"
)

func main() {
	logger := log.New(os.Stderr, "", log.Ltime)

	opts, err := config.Parse(os.Args[1:], os.Stderr)
	if err == flag.ErrHelp {
		os.Exit(0)
	}
	if err != nil {
		logger.Printf("%v", err)
		os.Exit(2)
	}
	if opts.SaveConfig != "" {
		if err := opts.Save(opts.SaveConfig); err != nil {
			logger.Printf("%v", err)
			os.Exit(1)
		}
	}
	if opts.Workers <= 0 {
		opts.Workers = workers()
	}
	logger.Printf("%s: %d logical cores, %d workers", cpuid.CPU.BrandName, cpuid.CPU.LogicalCores, opts.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := experiment.NewRunner(opts, logger).Run(ctx); err != nil {
		logger.Printf("failed: %v", err)
		stop()
		os.Exit(1)
	}
}

// workers is one per logical core, as reported by cpuid.
func workers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return 1
}
