package processor

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/adverant/nexus/tableprocess-worker/internal/spatial"
)

// Signal weights; they sum to 1
const (
	weightColumnConsistency = 0.3
	weightCompleteness      = 0.3
	weightRowSpacing        = 0.2
	weightContentPattern    = 0.2

	headerFontBonus = 0.8
)

// CellContent is the coarse kind of a cell's text
type CellContent int

const (
	ContentEmpty CellContent = iota
	ContentText
	ContentNumeric
)

func (c CellContent) String() string {
	switch c {
	case ContentNumeric:
		return "numeric"
	case ContentText:
		return "text"
	default:
		return "empty"
	}
}

// ConfidenceScorer rates how table-like a candidate is
type ConfidenceScorer struct {
	columnTolerance float64
}

// NewConfidenceScorer creates a scorer from the analyzer configuration
func NewConfidenceScorer(cfg AnalyzerConfig) *ConfidenceScorer {
	return &ConfidenceScorer{columnTolerance: cfg.ColumnTolerance}
}

// Score returns the weighted confidence in [0, 1] and its signal breakdown
func (s *ConfidenceScorer) Score(t *TableCandidate) (float64, ConfidenceSignals) {
	if t.RowCount() == 0 || t.ColumnCount() == 0 {
		return 0, ConfidenceSignals{}
	}

	signals := ConfidenceSignals{
		ColumnConsistency:    s.columnConsistency(t),
		Completeness:         completeness(t),
		RowSpacingRegularity: rowSpacingRegularity(t),
		ContentPattern:       contentPattern(t),
	}

	score := weightColumnConsistency*signals.ColumnConsistency +
		weightCompleteness*signals.Completeness +
		weightRowSpacing*signals.RowSpacingRegularity +
		weightContentPattern*signals.ContentPattern

	return clamp01(score), signals
}

// columnConsistency averages, over all columns, how tightly the filled cells
// sit around their column. Columns with fewer than two filled cells give 0.
func (s *ConfidenceScorer) columnConsistency(t *TableCandidate) float64 {
	total := 0.0
	for c := 0; c < t.ColumnCount(); c++ {
		var xs []float64
		for _, row := range t.Rows {
			if f, ok := row[c].PrimaryFragment(); ok {
				xs = append(xs, f.CenterX())
			}
		}
		if len(xs) < 2 {
			continue
		}
		total += math.Max(0, 1-spatial.StdDev(xs)/s.columnTolerance)
	}
	return total / float64(t.ColumnCount())
}

func completeness(t *TableCandidate) float64 {
	filled := 0
	for _, row := range t.Rows {
		for _, cell := range row {
			if !cell.Empty() {
				filled++
			}
		}
	}
	return float64(filled) / float64(t.RowCount()*t.ColumnCount())
}

// rowSpacingRegularity compares the mean fragment height of each row
func rowSpacingRegularity(t *TableCandidate) float64 {
	var rowHeights []float64
	for _, row := range t.Rows {
		var hs []float64
		for _, cell := range row {
			if f, ok := cell.PrimaryFragment(); ok {
				hs = append(hs, f.Box.Height)
			}
		}
		if len(hs) > 0 {
			rowHeights = append(rowHeights, spatial.Mean(hs))
		}
	}
	if len(rowHeights) < 2 {
		return 0
	}
	mean := spatial.Mean(rowHeights)
	if mean <= 0 {
		return 0
	}
	return math.Max(0, 1-spatial.StdDev(rowHeights)/mean)
}

// contentPattern averages the numeric ratio of every column with at least
// two filled cells, plus a header bonus when the first row is set in a
// larger font than the rest.
func contentPattern(t *TableCandidate) float64 {
	var scores []float64

	for c := 0; c < t.ColumnCount(); c++ {
		filled, numeric := 0, 0
		for _, row := range t.Rows {
			switch classifyCellContent(row[c].Text()) {
			case ContentNumeric:
				numeric++
				filled++
			case ContentText:
				filled++
			}
		}
		if filled > 1 {
			scores = append(scores, float64(numeric)/float64(filled))
		}
	}

	if t.RowCount() > 1 {
		first := rowFontSizes(t.Rows[:1])
		rest := rowFontSizes(t.Rows[1:])
		if len(first) > 0 && len(rest) > 0 && spatial.Mean(first) > spatial.Mean(rest) {
			scores = append(scores, headerFontBonus)
		}
	}

	return spatial.Mean(scores)
}

// rowFontSizes collects known font sizes of filled cells
func rowFontSizes(rows [][]Cell) []float64 {
	var sizes []float64
	for _, row := range rows {
		for _, cell := range row {
			if f, ok := cell.PrimaryFragment(); ok && f.FontSize > 0 {
				sizes = append(sizes, f.FontSize)
			}
		}
	}
	return sizes
}

// classifyCellContent tags text as numeric when, once grouping separators,
// currency markers and percent signs are removed, it parses as a finite
// number. Parentheses denote a negative amount.
func classifyCellContent(text string) CellContent {
	s := strings.TrimSpace(norm.NFKC.String(text))
	if s == "" {
		return ContentEmpty
	}

	s = stripCurrencyCode(s)

	var b strings.Builder
	hasDigit := false
	for _, r := range s {
		switch {
		case r == ',' || r == '\'' || r == '’' || r == '%':
		case unicode.IsSpace(r) || unicode.Is(unicode.Sc, r):
		default:
			if unicode.IsDigit(r) {
				hasDigit = true
			}
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if !hasDigit {
		return ContentText
	}
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		cleaned = "-" + cleaned[1:len(cleaned)-1]
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return ContentText
	}
	return ContentNumeric
}

// stripCurrencyCode removes a leading or trailing ISO 4217 style code such
// as "CHF 1'000" or "1.50 EUR"
func stripCurrencyCode(s string) string {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return s
	}
	if isCurrencyCode(fields[0]) {
		return strings.Join(fields[1:], " ")
	}
	if last := len(fields) - 1; isCurrencyCode(fields[last]) {
		return strings.Join(fields[:last], " ")
	}
	return s
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
