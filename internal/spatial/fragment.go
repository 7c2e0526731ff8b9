/**
 * Spatial primitives for table reconstruction
 *
 * TextFragment is the unit the OCR provider hands us: one positioned piece of
 * text with a bounding box, a page number and optional font metadata.
 * Coordinates use one system per document with y growing downwards.
 */

package spatial

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// BoundingBox represents an axis-aligned rectangle (x, y is the top-left corner)
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the x coordinate of the right edge
func (b BoundingBox) Right() float64 { return b.X + b.Width }

// Bottom returns the y coordinate of the bottom edge
func (b BoundingBox) Bottom() float64 { return b.Y + b.Height }

// CenterX returns the horizontal center
func (b BoundingBox) CenterX() float64 { return b.X + b.Width/2 }

// CenterY returns the vertical center
func (b BoundingBox) CenterY() float64 { return b.Y + b.Height/2 }

// Area returns width * height (zero for degenerate boxes)
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// IsEmpty reports whether the box has no area
func (b BoundingBox) IsEmpty() bool {
	return b.Area() == 0
}

// Union returns the smallest box containing both boxes. An empty receiver
// yields other unchanged.
func (b BoundingBox) Union(other BoundingBox) BoundingBox {
	if b.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return b
	}
	minX := math.Min(b.X, other.X)
	minY := math.Min(b.Y, other.Y)
	maxX := math.Max(b.Right(), other.Right())
	maxY := math.Max(b.Bottom(), other.Bottom())
	return BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Intersection returns the overlapping rectangle, or an empty box when the
// two boxes only touch or are disjoint.
func (b BoundingBox) Intersection(other BoundingBox) BoundingBox {
	left := math.Max(b.X, other.X)
	right := math.Min(b.Right(), other.Right())
	top := math.Max(b.Y, other.Y)
	bottom := math.Min(b.Bottom(), other.Bottom())
	if left >= right || top >= bottom {
		return BoundingBox{}
	}
	return BoundingBox{X: left, Y: top, Width: right - left, Height: bottom - top}
}

// Intersects reports whether the boxes share a region of positive area
func (b BoundingBox) Intersects(other BoundingBox) bool {
	return !b.Intersection(other).IsEmpty()
}

// TextFragment is a single positioned OCR'd text unit. Fragments are values;
// nothing in the pipeline mutates one after NewTextFragment returns it.
type TextFragment struct {
	Text     string      `json:"text"`
	Page     int         `json:"page"`
	Box      BoundingBox `json:"box"`
	FontSize float64     `json:"fontSize,omitempty"` // 0 = unknown
	FontName string      `json:"fontName,omitempty"`
}

// NewTextFragment validates and builds a fragment. Text is trimmed; empty text,
// non-positive pages, non-positive sizes and non-finite coordinates are
// rejected so callers can filter noisy provider output.
func NewTextFragment(text string, page int, x, y, width, height, fontSize float64, fontName string) (TextFragment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TextFragment{}, fmt.Errorf("fragment text is empty")
	}
	if page < 1 {
		return TextFragment{}, fmt.Errorf("page must be positive, got %d", page)
	}
	for _, v := range []float64{x, y, width, height, fontSize} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return TextFragment{}, fmt.Errorf("fragment %q has non-finite geometry", text)
		}
	}
	if width <= 0 || height <= 0 {
		return TextFragment{}, fmt.Errorf("fragment %q has zero-area box (%.2fx%.2f)", text, width, height)
	}
	if fontSize < 0 {
		fontSize = 0
	}
	return TextFragment{
		Text:     text,
		Page:     page,
		Box:      BoundingBox{X: x, Y: y, Width: width, Height: height},
		FontSize: fontSize,
		FontName: fontName,
	}, nil
}

// CenterX returns the horizontal center of the fragment
func (f TextFragment) CenterX() float64 { return f.Box.CenterX() }

// CenterY returns the vertical center of the fragment
func (f TextFragment) CenterY() float64 { return f.Box.CenterY() }

// Right returns x + width
func (f TextFragment) Right() float64 { return f.Box.Right() }

// Bottom returns y + height
func (f TextFragment) Bottom() float64 { return f.Box.Bottom() }

// GroupByPage partitions fragments by page, preserving input order within a
// page, and returns the page numbers in ascending order.
func GroupByPage(fragments []TextFragment) (map[int][]TextFragment, []int) {
	byPage := make(map[int][]TextFragment)
	pages := make([]int, 0)
	for _, f := range fragments {
		if _, ok := byPage[f.Page]; !ok {
			pages = append(pages, f.Page)
		}
		byPage[f.Page] = append(byPage[f.Page], f)
	}
	sort.Ints(pages)
	return byPage, pages
}
