package processor

import (
	"github.com/adverant/nexus/tableprocess-worker/internal/spatial"
)

// ColumnAligner derives column centers for a run of rows
type ColumnAligner struct {
	tolerance  float64
	minColumns int
}

// NewColumnAligner creates a column aligner from the analyzer configuration
func NewColumnAligner(cfg AnalyzerConfig) *ColumnAligner {
	return &ColumnAligner{tolerance: cfg.ColumnTolerance, minColumns: cfg.MinColumns}
}

// Align clusters the horizontal centers of every fragment in the run and
// returns the cluster means in ascending order. ok is false when fewer than
// the minimum number of columns survive.
func (a *ColumnAligner) Align(run []RowGroup) (centers []float64, ok bool) {
	var xs []float64
	for _, row := range run {
		for _, f := range row.Fragments {
			xs = append(xs, f.CenterX())
		}
	}

	clusters := spatial.DensityCluster1D(xs, a.tolerance, 1)
	if len(clusters) < a.minColumns {
		return nil, false
	}

	centers = make([]float64, len(clusters))
	for i, cluster := range clusters {
		// members come back sorted by value, so the sum is order independent
		vals := make([]float64, len(cluster))
		for j, k := range cluster {
			vals[j] = xs[k]
		}
		centers[i] = spatial.Mean(vals)
	}
	return centers, true
}
