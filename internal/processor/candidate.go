package processor

import (
	"strings"

	"github.com/adverant/nexus/tableprocess-worker/internal/spatial"
)

// Cell is one (row, column) slot of a candidate. An empty cell is a
// placeholder positioned at the column center.
type Cell struct {
	Fragments []spatial.TextFragment
	Primary   int
	Box       spatial.BoundingBox
}

// Empty reports whether the slot received no fragment
func (c Cell) Empty() bool { return len(c.Fragments) == 0 }

// Text joins the cell's fragments left to right
func (c Cell) Text() string {
	switch len(c.Fragments) {
	case 0:
		return ""
	case 1:
		return c.Fragments[0].Text
	}
	parts := make([]string, len(c.Fragments))
	for i, f := range c.Fragments {
		parts[i] = f.Text
	}
	return strings.Join(parts, " ")
}

// PrimaryFragment returns the fragment closest to the column center
func (c Cell) PrimaryFragment() (spatial.TextFragment, bool) {
	if c.Empty() {
		return spatial.TextFragment{}, false
	}
	return c.Fragments[c.Primary], true
}

// ConfidenceSignals is the per-signal breakdown behind a confidence score
type ConfidenceSignals struct {
	ColumnConsistency    float64 `json:"columnConsistency"`
	Completeness         float64 `json:"completeness"`
	RowSpacingRegularity float64 `json:"rowSpacingRegularity"`
	ContentPattern       float64 `json:"contentPattern"`
}

// TableCandidate is a reconstructed table on one page. Every row holds
// exactly len(ColumnAlignment) cells.
type TableCandidate struct {
	Page            int
	Rows            [][]Cell
	ColumnAlignment []float64
	Confidence      float64
	Signals         ConfidenceSignals
	BoundingBox     spatial.BoundingBox
}

// RowCount returns the number of rows
func (t *TableCandidate) RowCount() int { return len(t.Rows) }

// ColumnCount returns the number of columns
func (t *TableCandidate) ColumnCount() int { return len(t.ColumnAlignment) }

// Cells returns the text grid, "" for unfilled slots
func (t *TableCandidate) Cells() [][]string {
	grid := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		grid[r] = make([]string, len(row))
		for c, cell := range row {
			grid[r][c] = cell.Text()
		}
	}
	return grid
}

// TableDescriptor is the serialisable view of a candidate handed to consumers
type TableDescriptor struct {
	Page          int                 `json:"page"`
	RowCount      int                 `json:"rowCount"`
	ColumnCount   int                 `json:"columnCount"`
	Confidence    float64             `json:"confidence"`
	Signals       ConfidenceSignals   `json:"signals"`
	BoundingBox   spatial.BoundingBox `json:"boundingBox"`
	Cells         [][]string          `json:"cells"`
	ColumnCenters []float64           `json:"columnCenters"`
}

// Descriptor converts the candidate into its output form
func (t *TableCandidate) Descriptor() TableDescriptor {
	centers := make([]float64, len(t.ColumnAlignment))
	copy(centers, t.ColumnAlignment)
	return TableDescriptor{
		Page:          t.Page,
		RowCount:      t.RowCount(),
		ColumnCount:   t.ColumnCount(),
		Confidence:    t.Confidence,
		Signals:       t.Signals,
		BoundingBox:   t.BoundingBox,
		Cells:         t.Cells(),
		ColumnCenters: centers,
	}
}

// Completeness returns the filled fraction of the cell grid
func (d TableDescriptor) Completeness() float64 {
	total, filled := 0, 0
	for _, row := range d.Cells {
		for _, cell := range row {
			total++
			if cell != "" {
				filled++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(filled) / float64(total)
}
