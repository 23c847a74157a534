package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSuffix(t *testing.T) {
	o := Default()
	if got, want := o.Suffix(), ".p15.c3c3c3c3.n32n32n32n32.d256.D1"; got != want {
		t.Errorf("Suffix = %q, want %q", got, want)
	}

	o.Balanced = false
	o.Shuffle = true
	o.Filters = []int{16, 32}
	o.KernelSizes = []int{5, 3}
	o.Downsample = 4
	if got, want := o.Suffix(), ".ub.s.p15.c5c3.n16n32.d256.D4"; got != want {
		t.Errorf("Suffix = %q, want %q", got, want)
	}
}

func TestParseFlags(t *testing.T) {
	o, err := Parse([]string{
		"-f", "/data/train", "--test-folder", "/data/test",
		"-i", "9", "-n", "8,16", "-k", "3,3", "-u", "-s", "-e", "2",
		"--flair", "FLAIR.nii",
	}, io.Discard)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if o.TrainDir != "/data/train" || o.TestDir != "/data/test" {
		t.Errorf("dirs = %q %q", o.TrainDir, o.TestDir)
	}
	if o.PatchWidth != 9 || o.Epochs != 2 {
		t.Errorf("patch/epochs = %d/%d", o.PatchWidth, o.Epochs)
	}
	if len(o.Filters) != 2 || o.Filters[1] != 16 {
		t.Errorf("filters = %v", o.Filters)
	}
	if o.Balanced {
		t.Error("-u should disable balancing")
	}
	if !o.Shuffle {
		t.Error("-s should enable shuffling")
	}
	if o.FLAIR != "FLAIR.nii" || o.T1 != "pre/T1.nii.gz" {
		t.Errorf("names = %q %q", o.FLAIR, o.T1)
	}
}

func TestParseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "wmh.yaml")
	base := Default()
	base.TrainDir = "/yaml/train"
	base.TestDir = "/yaml/test"
	base.Epochs = 7
	base.DenseSize = 64
	if err := base.Save(path); err != nil {
		t.Fatal(err)
	}

	o, err := Parse([]string{"-config", path, "-e", "3"}, io.Discard)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if o.TrainDir != "/yaml/train" || o.DenseSize != 64 {
		t.Errorf("config values not applied: %+v", o)
	}
	if o.Epochs != 3 {
		t.Errorf("Epochs = %d, flag should override the file", o.Epochs)
	}

	saved := filepath.Join(t.TempDir(), "effective.yaml")
	o, err = Parse([]string{"-config", path, "-e", "3", "-batch-log", "10", "-save-config", saved}, io.Discard)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if o.SaveConfig != saved || o.BatchLog != 10 {
		t.Errorf("SaveConfig/BatchLog = %q/%d", o.SaveConfig, o.BatchLog)
	}
	if err := o.Save(o.SaveConfig); err != nil {
		t.Fatal(err)
	}
	reloaded, err := Load(saved)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Epochs != 3 || reloaded.BatchLog != 10 || reloaded.SaveConfig != "" {
		t.Errorf("reloaded = %+v", reloaded)
	}

	if _, err := Parse([]string{"--config=" + path + ".missing"}, io.Discard); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadPartialYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("epochs: 9\nfilters: [4, 8]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	o, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if o.Epochs != 9 || len(o.Filters) != 2 {
		t.Errorf("Load = %+v", o)
	}
	if o.PatchWidth != 15 {
		t.Errorf("PatchWidth = %d, default should survive", o.PatchWidth)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Options {
		o := Default()
		o.TrainDir, o.TestDir = "a", "b"
		return o
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid options: %v", err)
	}
	tests := map[string]func(*Options){
		"no train dir":  func(o *Options) { o.TrainDir = "" },
		"zero epochs":   func(o *Options) { o.Epochs = 0 },
		"swap rate":     func(o *Options) { o.SwapRate = 1.5 },
		"list mismatch": func(o *Options) { o.Filters = []int{8, 16}; o.KernelSizes = []int{3, 3, 3} },
		"downsample":    func(o *Options) { o.Downsample = 0 },
	}
	for name, modify := range tests {
		o := valid()
		modify(o)
		if err := o.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := Parse([]string{"-f", "a"}, io.Discard); err == nil {
		t.Error("expected error without test folder")
	}
	if _, err := Parse([]string{"-f", "a", "-F", "b", "-n", "x"}, io.Discard); err == nil {
		t.Error("expected error for non-numeric list")
	}
}
