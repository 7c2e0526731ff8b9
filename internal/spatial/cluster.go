package spatial

import (
	"math"
	"sort"
)

// DensityCluster1D clusters scalar values by local density (DBSCAN restricted
// to one dimension). A value is a core point when at least minSamples values,
// itself included, lie within eps of it. Core points closer than or exactly
// eps apart share a cluster; a non-core value within eps of a core point joins
// the nearest such cluster; everything else is noise and is omitted.
//
// The result holds indices into values. Each cluster is ordered by value and
// clusters are ordered by their smallest value. Equal values and equidistant
// border points are resolved by the lowest index, so the output depends only
// on the input, never on map iteration or scheduling.
func DensityCluster1D(values []float64, eps float64, minSamples int) [][]int {
	n := len(values)
	if n == 0 {
		return nil
	}
	if eps < 0 {
		eps = 0
	}
	if minSamples < 1 {
		minSamples = 1
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		va, vb := values[order[a]], values[order[b]]
		if va != vb {
			return va < vb
		}
		return order[a] < order[b]
	})

	// neighbour counts over the sorted order with a sliding window
	core := make([]bool, n)
	lo, hi := 0, 0
	for pos := 0; pos < n; pos++ {
		v := values[order[pos]]
		for values[order[lo]] < v-eps {
			lo++
		}
		if hi < pos {
			hi = pos
		}
		for hi+1 < n && values[order[hi+1]] <= v+eps {
			hi++
		}
		core[pos] = hi-lo+1 >= minSamples
	}

	// label core points; consecutive cores within eps are density-connected
	label := make([]int, n)
	for i := range label {
		label[i] = -1
	}
	clusterCount := 0
	prevCore := -1
	for pos := 0; pos < n; pos++ {
		if !core[pos] {
			continue
		}
		if prevCore >= 0 && values[order[pos]]-values[order[prevCore]] <= eps {
			label[pos] = label[prevCore]
		} else {
			label[pos] = clusterCount
			clusterCount++
		}
		prevCore = pos
	}

	// attach border points to the nearest reachable core
	for pos := 0; pos < n; pos++ {
		if core[pos] {
			continue
		}
		v := values[order[pos]]
		best := -1
		bestDist := math.Inf(1)
		for l := pos - 1; l >= 0; l-- {
			if core[l] {
				if d := v - values[order[l]]; d <= eps {
					best, bestDist = l, d
				}
				break
			}
		}
		for r := pos + 1; r < n; r++ {
			if core[r] {
				d := values[order[r]] - v
				if d <= eps && (d < bestDist || (d == bestDist && order[r] < order[best])) {
					best = r
				}
				break
			}
		}
		if best >= 0 {
			label[pos] = label[best]
		}
	}

	clusters := make([][]int, clusterCount)
	for pos := 0; pos < n; pos++ {
		if label[pos] >= 0 {
			clusters[label[pos]] = append(clusters[label[pos]], order[pos])
		}
	}
	return clusters
}

// Mean returns the arithmetic mean of the selected values (0 when empty)
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation (0 for fewer than two values)
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
