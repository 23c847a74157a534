// Package metrics scores segmentations against a ground truth.
package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// DSC is the Dice similarity coefficient 2|A∩B| / (|A|+|B|). Two empty
// masks score 1.
func DSC(gt, seg []bool) float64 {
	checkLen(len(gt), len(seg))
	var inter, total int
	for i := range gt {
		if gt[i] {
			total++
		}
		if seg[i] {
			total++
			if gt[i] {
				inter++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return 2 * float64(inter) / float64(total)
}

// ProbabilisticDSC is the Dice coefficient of a binary ground truth and a
// probability map: 2 Σ gt·pr / (Σ gt + Σ pr).
func ProbabilisticDSC(gt []bool, pr []float64) float64 {
	checkLen(len(gt), len(pr))
	var inter, total float64
	for i, p := range pr {
		total += p
		if gt[i] {
			total++
			inter += p
		}
	}
	if total == 0 {
		return 1
	}
	return 2 * inter / total
}

// Mean returns the column means of rows.
func Mean(rows [][]float64) []float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]float64, len(rows[0]))
	col := make([]float64, len(rows))
	for j := range out {
		for i, r := range rows {
			col[i] = r[j]
		}
		out[j] = stat.Mean(col, nil)
	}
	return out
}

func checkLen(a, b int) {
	if a != b {
		panic(fmt.Sprintf("metrics: length mismatch %d != %d", a, b))
	}
}
