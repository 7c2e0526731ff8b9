/**
 * Layout fingerprints
 *
 * Fixed-size vectors describing a table's geometry, used to find previously
 * seen layouts (same institution, same statement template) in the vector
 * store. Positions are relative to the table's own bounding box so the
 * fingerprint does not move with the table on the page.
 */

package processor

import "math"

const (
	// FingerprintDimensions is the vector size stored in Qdrant
	FingerprintDimensions = 32

	histogramBins = 24
)

// LayoutFingerprint builds the layout vector of a table descriptor: a
// histogram of relative column positions followed by shape features. The
// result is L2 normalised for cosine search.
func LayoutFingerprint(t TableDescriptor) []float32 {
	vec := make([]float64, FingerprintDimensions)

	box := t.BoundingBox
	if box.Width > 0 && len(t.ColumnCenters) > 0 {
		weight := 1 / float64(len(t.ColumnCenters))
		for _, c := range t.ColumnCenters {
			rel := (c - box.X) / box.Width
			bin := int(math.Floor(rel * histogramBins))
			if bin < 0 {
				bin = 0
			}
			if bin >= histogramBins {
				bin = histogramBins - 1
			}
			vec[bin] += weight
		}
	}

	shape := vec[histogramBins:]
	shape[0] = saturate(float64(t.RowCount))
	shape[1] = saturate(float64(t.ColumnCount))
	if box.Width+box.Height > 0 {
		shape[2] = box.Width / (box.Width + box.Height)
	}
	shape[3] = t.Completeness()
	shape[4] = t.Signals.ColumnConsistency
	shape[5] = t.Signals.RowSpacingRegularity
	shape[6] = t.Signals.ContentPattern
	shape[7] = t.Confidence

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, FingerprintDimensions)
	for i, v := range vec {
		if norm > 0 {
			v /= norm
		}
		out[i] = float32(v)
	}
	return out
}

// saturate maps a count onto [0, 1)
func saturate(n float64) float64 {
	return n / (n + 10)
}
