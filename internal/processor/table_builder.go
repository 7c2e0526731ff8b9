package processor

import (
	"math"

	"github.com/adverant/nexus/tableprocess-worker/internal/spatial"
)

// placeholderWidth is the width given to empty cells centered on their column
const placeholderWidth = 10.0

// TableBuilder turns detected rows into scored table candidates
type TableBuilder struct {
	cfg     AnalyzerConfig
	aligner *ColumnAligner
	scorer  *ConfidenceScorer
}

// NewTableBuilder creates a table builder from the analyzer configuration
func NewTableBuilder(cfg AnalyzerConfig, scorer *ConfidenceScorer) *TableBuilder {
	return &TableBuilder{
		cfg:     cfg,
		aligner: NewColumnAligner(cfg),
		scorer:  scorer,
	}
}

// Build partitions rows into runs and emits one scored candidate per run
// that aligns into enough columns. Rows must be ordered top to bottom.
func (b *TableBuilder) Build(page int, idx *spatial.Index, rows []RowGroup) []TableCandidate {
	var out []TableCandidate
	for _, run := range b.partition(rows) {
		centers, ok := b.aligner.Align(run)
		if !ok {
			continue
		}
		candidate := b.assemble(page, idx, run, centers)
		candidate.Confidence, candidate.Signals = b.scorer.Score(&candidate)
		out = append(out, candidate)
	}
	return out
}

// partition splits rows wherever the vertical gap exceeds maxGapRatio times
// the mean fragment height of the two neighbouring rows. Runs shorter than
// minRows are dropped.
func (b *TableBuilder) partition(rows []RowGroup) [][]RowGroup {
	var runs [][]RowGroup
	var current []RowGroup

	flush := func() {
		if len(current) >= b.cfg.MinRows {
			runs = append(runs, current)
		}
		current = nil
	}

	for i, row := range rows {
		if i > 0 {
			prev := rows[i-1]
			gap := row.Top() - prev.Bottom()
			expected := meanHeight(prev, row)
			if gap > expected*b.cfg.MaxGapRatio {
				flush()
			}
		}
		current = append(current, row)
	}
	flush()
	return runs
}

func meanHeight(groups ...RowGroup) float64 {
	var heights []float64
	for _, g := range groups {
		for _, f := range g.Fragments {
			heights = append(heights, f.Box.Height)
		}
	}
	return spatial.Mean(heights)
}

type columnMatch struct {
	column   int
	distance float64
}

// assemble assigns run fragments to their nearest column and fills the gaps
func (b *TableBuilder) assemble(page int, idx *spatial.Index, run []RowGroup, centers []float64) TableCandidate {
	tol := b.cfg.ColumnTolerance

	// nearest column per fragment; vertical bands are exact so every
	// fragment within tolerance of a center is seen, lowest column first
	match := make(map[int]columnMatch)
	for c, center := range centers {
		for _, pos := range idx.VerticalBand(center, tol) {
			d := math.Abs(idx.Fragment(pos).CenterX() - center)
			if best, seen := match[pos]; !seen || d < best.distance {
				match[pos] = columnMatch{column: c, distance: d}
			}
		}
	}

	candidate := TableCandidate{
		Page:            page,
		Rows:            make([][]Cell, len(run)),
		ColumnAlignment: centers,
	}

	for r, row := range run {
		cells := make([]Cell, len(centers))
		closest := make([]float64, len(centers))

		for i, pos := range row.Members {
			f := row.Fragments[i]
			candidate.BoundingBox = candidate.BoundingBox.Union(f.Box)

			m, ok := match[pos]
			if !ok {
				continue
			}
			cell := &cells[m.column]

			if cell.Empty() {
				cell.Fragments = []spatial.TextFragment{f}
				cell.Primary = 0
				cell.Box = f.Box
				closest[m.column] = m.distance
				continue
			}

			switch b.cfg.CollisionPolicy {
			case CollisionConcatenate:
				// members arrive left to right, so appending keeps text order
				cell.Fragments = append(cell.Fragments, f)
				cell.Box = cell.Box.Union(f.Box)
				if m.distance < closest[m.column] {
					cell.Primary = len(cell.Fragments) - 1
					closest[m.column] = m.distance
				}
			default:
				if m.distance < closest[m.column] {
					cell.Fragments = []spatial.TextFragment{f}
					cell.Box = f.Box
					closest[m.column] = m.distance
				}
			}
		}

		anchor := row.Fragments[0].Box
		for c := range cells {
			if cells[c].Empty() {
				cells[c].Box = spatial.BoundingBox{
					X:      centers[c] - placeholderWidth/2,
					Y:      anchor.Y,
					Width:  placeholderWidth,
					Height: anchor.Height,
				}
			}
		}
		candidate.Rows[r] = cells
	}

	return candidate
}
