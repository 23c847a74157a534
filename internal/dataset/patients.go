// Package dataset discovers patients, loads and normalises their volumes and
// extracts the training patches.
package dataset

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Names are the image and label paths relative to a patient directory.
type Names struct {
	FLAIR  string
	T1     string
	Labels string
}

// DefaultNames is the layout of the WMH challenge data.
var DefaultNames = Names{
	FLAIR:  "pre/FLAIR.nii.gz",
	T1:     "pre/T1.nii.gz",
	Labels: "wmh.nii.gz",
}

// Patient is one case directory.
type Patient struct {
	Name   string   // case directory name
	Images []string // FLAIR first, then T1
	Labels string
}

// Dir is the directory holding the FLAIR image. Checkpoints and outputs are
// written next to it.
func (p Patient) Dir() string {
	return filepath.Dir(p.Images[0])
}

// Discover lists the patient directories directly under root in name order.
// Regular files are ignored.
func Discover(root string, names Names) ([]Patient, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "discover patients")
	}

	var patients []Patient
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		p := Patient{
			Name:   e.Name(),
			Labels: filepath.Join(dir, names.Labels),
		}
		for _, img := range []string{names.FLAIR, names.T1} {
			if img != "" {
				p.Images = append(p.Images, filepath.Join(dir, img))
			}
		}
		if len(p.Images) == 0 {
			return nil, errors.New("discover patients: no image names")
		}
		patients = append(patients, p)
	}
	sort.Slice(patients, func(i, j int) bool { return patients[i].Name < patients[j].Name })
	return patients, nil
}
