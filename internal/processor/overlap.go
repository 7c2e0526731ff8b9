package processor

import (
	"math"
	"sort"

	"github.com/tidwall/rtree"

	"github.com/adverant/nexus/tableprocess-worker/internal/spatial"
)

// OverlapResolver drops candidates that mostly cover a better one
type OverlapResolver struct {
	threshold float64
}

// NewOverlapResolver creates a resolver from the analyzer configuration
func NewOverlapResolver(cfg AnalyzerConfig) *OverlapResolver {
	return &OverlapResolver{threshold: cfg.OverlapThreshold}
}

// OverlapRatio is the intersection area divided by the smaller box's area
func OverlapRatio(a, b spatial.BoundingBox) float64 {
	smaller := math.Min(a.Area(), b.Area())
	if smaller <= 0 {
		return 0
	}
	return a.Intersection(b).Area() / smaller
}

// Resolve accepts candidates in descending confidence order, rejecting any
// whose overlap with an accepted candidate exceeds the threshold. Equal
// confidences keep their input order. Rejected candidates are dropped.
func (r *OverlapResolver) Resolve(candidates []TableCandidate) []TableCandidate {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].Confidence > candidates[order[b]].Confidence
	})

	var accepted []TableCandidate
	var tree rtree.RTreeG[int]

	for _, i := range order {
		c := candidates[i]
		box := c.BoundingBox
		min := [2]float64{box.X, box.Y}
		max := [2]float64{box.Right(), box.Bottom()}

		rejected := false
		tree.Search(min, max, func(_, _ [2]float64, j int) bool {
			if OverlapRatio(box, accepted[j].BoundingBox) > r.threshold {
				rejected = true
				return false
			}
			return true
		})
		if rejected {
			continue
		}

		tree.Insert(min, max, len(accepted))
		accepted = append(accepted, c)
	}
	return accepted
}
