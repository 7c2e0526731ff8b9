package spatial

import (
	"math"
	"sort"

	"github.com/tidwall/rtree"
)

// Index is a per-page spatial index over text fragments. It keeps two R-trees:
// one over fragment boxes (rectangle queries) and one over fragment centers
// (nearest-neighbour and band queries). The R-trees only prune; every query
// re-checks candidates exactly before returning them.
type Index struct {
	fragments []TextFragment
	boxes     rtree.RTreeG[int]
	centers   rtree.RTreeG[int]
	extent    BoundingBox
	byCenterY []int
}

// Neighbor is a fragment returned by Nearest with its distance to the query point
type Neighbor struct {
	Index    int
	Fragment TextFragment
	Distance float64
}

// NewIndex builds an index over the given page fragments. The slice is kept by
// reference and must not be modified while the index is in use.
func NewIndex(fragments []TextFragment) *Index {
	idx := &Index{fragments: fragments}

	for i, f := range fragments {
		idx.boxes.Insert(
			[2]float64{f.Box.X, f.Box.Y},
			[2]float64{f.Box.Right(), f.Box.Bottom()},
			i,
		)
		c := [2]float64{f.CenterX(), f.CenterY()}
		idx.centers.Insert(c, c, i)
		idx.extent = idx.extent.Union(f.Box)
	}

	idx.byCenterY = make([]int, len(fragments))
	for i := range idx.byCenterY {
		idx.byCenterY[i] = i
	}
	sort.SliceStable(idx.byCenterY, func(a, b int) bool {
		fa, fb := fragments[idx.byCenterY[a]], fragments[idx.byCenterY[b]]
		if fa.CenterY() != fb.CenterY() {
			return fa.CenterY() < fb.CenterY()
		}
		return idx.byCenterY[a] < idx.byCenterY[b]
	})

	return idx
}

// Len returns the number of indexed fragments
func (idx *Index) Len() int { return len(idx.fragments) }

// Fragment returns the fragment stored at position i
func (idx *Index) Fragment(i int) TextFragment { return idx.fragments[i] }

// Fragments returns the indexed fragments in insertion order
func (idx *Index) Fragments() []TextFragment { return idx.fragments }

// Extent returns the union of all fragment boxes
func (idx *Index) Extent() BoundingBox { return idx.extent }

// ByCenterY returns fragment positions ordered top to bottom by vertical center
func (idx *Index) ByCenterY() []int { return idx.byCenterY }

// Nearest returns up to k fragments whose centers lie within maxDistance of
// (x, y), closest first. Equal distances are ordered by fragment position.
func (idx *Index) Nearest(x, y float64, k int, maxDistance float64) []Neighbor {
	if k <= 0 || idx.Len() == 0 {
		return nil
	}

	var found []Neighbor
	idx.centers.Nearby(
		func(min, max [2]float64, _ int, _ bool) float64 {
			return boxDistance(x, y, min, max)
		},
		func(_, _ [2]float64, i int, dist float64) bool {
			if dist > maxDistance {
				return false
			}
			if len(found) >= k && dist > found[len(found)-1].Distance {
				return false
			}
			found = append(found, Neighbor{Index: i, Fragment: idx.fragments[i], Distance: dist})
			return true
		},
	)

	sort.SliceStable(found, func(a, b int) bool {
		if found[a].Distance != found[b].Distance {
			return found[a].Distance < found[b].Distance
		}
		return found[a].Index < found[b].Index
	})
	if len(found) > k {
		found = found[:k]
	}
	return found
}

// Region returns positions of fragments whose boxes intersect the rectangle
// with positive area, in ascending position order.
func (idx *Index) Region(rect BoundingBox) []int {
	var out []int
	idx.boxes.Search(
		[2]float64{rect.X, rect.Y},
		[2]float64{rect.Right(), rect.Bottom()},
		func(_, _ [2]float64, i int) bool {
			f := idx.fragments[i]
			if f.Box.X < rect.Right() && f.Box.Right() > rect.X &&
				f.Box.Y < rect.Bottom() && f.Box.Bottom() > rect.Y {
				out = append(out, i)
			}
			return true
		},
	)
	sort.Ints(out)
	return out
}

// HorizontalBand returns positions of fragments whose vertical center lies
// within tolerance of y, in ascending position order.
func (idx *Index) HorizontalBand(y, tolerance float64) []int {
	var out []int
	idx.centers.Search(
		[2]float64{idx.extent.X, y - tolerance},
		[2]float64{idx.extent.Right(), y + tolerance},
		func(_, _ [2]float64, i int) bool {
			if math.Abs(idx.fragments[i].CenterY()-y) <= tolerance {
				out = append(out, i)
			}
			return true
		},
	)
	sort.Ints(out)
	return out
}

// VerticalBand returns positions of fragments whose horizontal center lies
// within tolerance of x, in ascending position order.
func (idx *Index) VerticalBand(x, tolerance float64) []int {
	var out []int
	idx.centers.Search(
		[2]float64{x - tolerance, idx.extent.Y},
		[2]float64{x + tolerance, idx.extent.Bottom()},
		func(_, _ [2]float64, i int) bool {
			if math.Abs(idx.fragments[i].CenterX()-x) <= tolerance {
				out = append(out, i)
			}
			return true
		},
	)
	sort.Ints(out)
	return out
}

// boxDistance is the Euclidean distance from a point to a rectangle (zero inside)
func boxDistance(x, y float64, min, max [2]float64) float64 {
	dx := math.Max(math.Max(min[0]-x, 0), x-max[0])
	dy := math.Max(math.Max(min[1]-y, 0), y-max[1])
	return math.Hypot(dx, dy)
}
