package net

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/neurolab/wmhgan/internal/activations"
	"github.com/neurolab/wmhgan/internal/layer"
)

const weightsFormat = "wmhgan-weights/1"

// LayerConfig describes one layer in a weights file. Type and Shape must
// match the receiving network for a load to succeed.
type LayerConfig struct {
	Type       string
	Shape      []int
	Activation string
	Params     []float64
}

type weightsFile struct {
	Format string
	Layers []LayerConfig
}

// ExtractLayerConfig extracts the configuration from a layer.
func ExtractLayerConfig(l layer.Layer) LayerConfig {
	cfg := LayerConfig{Params: l.Params()}
	switch v := l.(type) {
	case *layer.Dense:
		cfg.Type = "Dense"
		cfg.Shape = []int{v.InSize(), v.OutSize()}
		cfg.Activation = activations.Name(v.Activation())
	case *layer.Conv3D:
		d := v.InDims()
		cfg.Type = "Conv3D"
		cfg.Shape = []int{v.InChannels(), v.OutChannels(), v.KernelSize(), d[0], d[1], d[2]}
		cfg.Activation = activations.Name(v.Activation())
	case *layer.Dropout:
		cfg.Type = "Dropout"
		cfg.Shape = []int{v.InSize()}
	case *layer.Softmax:
		cfg.Type = "Softmax"
		cfg.Shape = []int{v.Size()}
	case *layer.GradientReversal:
		cfg.Type = "GradientReversal"
		cfg.Shape = []int{v.Size()}
	default:
		cfg.Type = "Unknown"
	}
	return cfg
}

func (c LayerConfig) matches(other LayerConfig) bool {
	if c.Type != other.Type || c.Activation != other.Activation ||
		len(c.Shape) != len(other.Shape) || len(c.Params) != len(other.Params) {
		return false
	}
	for i := range c.Shape {
		if c.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// EncodeWeights writes the layers' configuration and parameters with gob.
func EncodeWeights(w io.Writer, layers []layer.Layer) error {
	file := weightsFile{Format: weightsFormat}
	for _, l := range layers {
		file.Layers = append(file.Layers, ExtractLayerConfig(l))
	}
	return errors.Wrap(gob.NewEncoder(w).Encode(&file), "encode weights")
}

// DecodeWeights reads parameters written by EncodeWeights into layers. The
// layers are left untouched unless every layer matches.
func DecodeWeights(r io.Reader, layers []layer.Layer) error {
	var file weightsFile
	if err := gob.NewDecoder(r).Decode(&file); err != nil {
		return errors.Wrap(err, "decode weights")
	}
	if file.Format != weightsFormat {
		return errors.Errorf("unknown weights format %q", file.Format)
	}
	if len(file.Layers) != len(layers) {
		return errors.Errorf("weights have %d layers, network has %d", len(file.Layers), len(layers))
	}
	for i, l := range layers {
		if want := ExtractLayerConfig(l); !file.Layers[i].matches(want) {
			return errors.Errorf("layer %d: weights are %s%v, network is %s%v",
				i, file.Layers[i].Type, file.Layers[i].Shape, want.Type, want.Shape)
		}
	}
	for i, l := range layers {
		l.SetParams(file.Layers[i].Params)
	}
	return nil
}

// saveWeights writes to a temporary file in the destination directory and
// renames it, so an interrupted save never leaves a truncated checkpoint.
func saveWeights(path string, layers []layer.Layer) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "create weights file for %s", path)
	}
	defer os.Remove(tmp.Name())

	if err := EncodeWeights(tmp, layers); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "save %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "save %s", path)
}

func loadWeights(path string, layers []layer.Layer) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "load weights")
	}
	defer f.Close()
	return errors.Wrapf(DecodeWeights(f, layers), "load %s", path)
}
