package processor

import (
	"math"
	"sort"

	"github.com/adverant/nexus/tableprocess-worker/internal/spatial"
)

// RowGroup is a set of fragments judged to share one horizontal line,
// ordered left to right. Members holds their positions in the page index.
type RowGroup struct {
	Members   []int
	Fragments []spatial.TextFragment
}

// Top returns the smallest y of the group
func (g RowGroup) Top() float64 {
	top := math.Inf(1)
	for _, f := range g.Fragments {
		top = math.Min(top, f.Box.Y)
	}
	return top
}

// Bottom returns the largest bottom edge of the group
func (g RowGroup) Bottom() float64 {
	bottom := math.Inf(-1)
	for _, f := range g.Fragments {
		bottom = math.Max(bottom, f.Bottom())
	}
	return bottom
}

// RowDetector groups page fragments into rows by vertical center
type RowDetector struct {
	tolerance  float64
	minMembers int
}

// NewRowDetector creates a row detector from the analyzer configuration
func NewRowDetector(cfg AnalyzerConfig) *RowDetector {
	return &RowDetector{tolerance: cfg.RowTolerance, minMembers: cfg.MinColumns}
}

// Detect clusters the indexed fragments into rows, top to bottom. Lines with
// fewer than the minimum column count are not rows and are dropped.
func (d *RowDetector) Detect(idx *spatial.Index) []RowGroup {
	order := idx.ByCenterY()
	centers := make([]float64, len(order))
	for i, pos := range order {
		centers[i] = idx.Fragment(pos).CenterY()
	}

	var rows []RowGroup
	for _, cluster := range spatial.DensityCluster1D(centers, d.tolerance, 1) {
		if len(cluster) < d.minMembers {
			continue
		}
		members := make([]int, len(cluster))
		for i, c := range cluster {
			members[i] = order[c]
		}
		sortLeftToRight(idx, members)

		group := RowGroup{Members: members, Fragments: make([]spatial.TextFragment, len(members))}
		for i, pos := range members {
			group.Fragments[i] = idx.Fragment(pos)
		}
		rows = append(rows, group)
	}

	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].Top() < rows[b].Top()
	})
	return rows
}

// sortLeftToRight orders positions by x, then center y and text so the order
// does not depend on input order; position is the last resort.
func sortLeftToRight(idx *spatial.Index, positions []int) {
	sort.SliceStable(positions, func(a, b int) bool {
		fa, fb := idx.Fragment(positions[a]), idx.Fragment(positions[b])
		if fa.Box.X != fb.Box.X {
			return fa.Box.X < fb.Box.X
		}
		if fa.CenterY() != fb.CenterY() {
			return fa.CenterY() < fb.CenterY()
		}
		if fa.Text != fb.Text {
			return fa.Text < fb.Text
		}
		return positions[a] < positions[b]
	})
}
