package spatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frag(t *testing.T, text string, x, y, w, h float64) TextFragment {
	t.Helper()
	f, err := NewTextFragment(text, 1, x, y, w, h, 10, "Arial")
	require.NoError(t, err)
	return f
}

func TestNewTextFragment(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		page    int
		w, h    float64
		wantErr bool
	}{
		{"valid", " Amount ", 1, 40, 10, false},
		{"empty text", "   ", 1, 40, 10, true},
		{"zero width", "A", 1, 0, 10, true},
		{"negative height", "A", 1, 10, -2, true},
		{"page zero", "A", 0, 10, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewTextFragment(tt.text, tt.page, 5, 5, tt.w, tt.h, 0, "")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Amount", f.Text)
			assert.Equal(t, 25.0, f.CenterX())
			assert.Equal(t, 10.0, f.CenterY())
			assert.Equal(t, 45.0, f.Right())
			assert.Equal(t, 15.0, f.Bottom())
		})
	}

	_, err := NewTextFragment("A", 1, math.NaN(), 0, 1, 1, 0, "")
	assert.Error(t, err)
}

func TestBoundingBox_IntersectionAndUnion(t *testing.T) {
	a := BoundingBox{X: 0, Y: 0, Width: 10, Height: 10}
	b := BoundingBox{X: 5, Y: 5, Width: 10, Height: 10}

	inter := a.Intersection(b)
	assert.Equal(t, BoundingBox{X: 5, Y: 5, Width: 5, Height: 5}, inter)
	assert.Equal(t, 25.0, inter.Area())

	touching := BoundingBox{X: 10, Y: 0, Width: 5, Height: 5}
	assert.False(t, a.Intersects(touching))

	assert.Equal(t, BoundingBox{X: 0, Y: 0, Width: 15, Height: 15}, a.Union(b))
	assert.Equal(t, b, BoundingBox{}.Union(b))
}

func TestGroupByPage(t *testing.T) {
	f1, _ := NewTextFragment("a", 3, 0, 0, 1, 1, 0, "")
	f2, _ := NewTextFragment("b", 1, 0, 0, 1, 1, 0, "")
	f3, _ := NewTextFragment("c", 3, 5, 0, 1, 1, 0, "")

	byPage, pages := GroupByPage([]TextFragment{f1, f2, f3})
	assert.Equal(t, []int{1, 3}, pages)
	require.Len(t, byPage[3], 2)
	assert.Equal(t, "a", byPage[3][0].Text)
	assert.Equal(t, "c", byPage[3][1].Text)
}

func TestDensityCluster1D(t *testing.T) {
	tests := []struct {
		name       string
		values     []float64
		eps        float64
		minSamples int
		want       [][]int
	}{
		{
			name:       "empty",
			values:     nil,
			eps:        5,
			minSamples: 1,
			want:       nil,
		},
		{
			name:       "two groups",
			values:     []float64{100, 131, 102, 129, 99},
			eps:        8,
			minSamples: 1,
			want:       [][]int{{4, 0, 2}, {3, 1}},
		},
		{
			name:       "exactly eps apart joins",
			values:     []float64{10, 18},
			eps:        8,
			minSamples: 1,
			want:       [][]int{{0, 1}},
		},
		{
			name:       "chaining",
			values:     []float64{0, 5, 10, 15},
			eps:        5,
			minSamples: 1,
			want:       [][]int{{0, 1, 2, 3}},
		},
		{
			name:       "noise dropped",
			values:     []float64{0, 1, 2, 50},
			eps:        2,
			minSamples: 2,
			want:       [][]int{{0, 1, 2}},
		},
		{
			name:       "equal values keep index order",
			values:     []float64{7, 7, 7},
			eps:        0,
			minSamples: 1,
			want:       [][]int{{0, 1, 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DensityCluster1D(tt.values, tt.eps, tt.minSamples))
		})
	}
}

func TestDensityCluster1D_BorderTieGoesToLowerIndex(t *testing.T) {
	// With eps=5 and minSamples=4 only 0 and 10 are core points. The border
	// value 5 is exactly eps from both; the core at 10 has the lower index.
	values := []float64{10, 13, 14, 5, 0, -4, -3}
	got := DensityCluster1D(values, 5, 4)
	require.Len(t, got, 2)
	assert.Equal(t, []int{5, 6, 4}, got[0])
	assert.Equal(t, []int{3, 0, 1, 2}, got[1])
}

func TestMeanAndStdDev(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
	assert.Equal(t, 0.0, StdDev([]float64{4}))
	assert.InDelta(t, 2.5, StdDev([]float64{20, 15}), 1e-9)
}

func gridFragments(t *testing.T) []TextFragment {
	t.Helper()
	return []TextFragment{
		frag(t, "A1", 100, 100, 50, 10),
		frag(t, "B1", 200, 100, 50, 10),
		frag(t, "A2", 100, 130, 50, 10),
		frag(t, "B2", 200, 130, 50, 10),
		frag(t, "far", 600, 600, 30, 10),
	}
}

func TestIndex_Nearest(t *testing.T) {
	idx := NewIndex(gridFragments(t))
	require.Equal(t, 5, idx.Len())

	got := idx.Nearest(125, 105, 2, 100)
	require.Len(t, got, 2)
	assert.Equal(t, "A1", got[0].Fragment.Text)
	assert.Equal(t, 0.0, got[0].Distance)
	assert.Equal(t, "A2", got[1].Fragment.Text)
	assert.InDelta(t, 30.0, got[1].Distance, 1e-9)

	// B1 and A2 are not within 20 units
	assert.Len(t, idx.Nearest(125, 105, 5, 20), 1)
	assert.Empty(t, idx.Nearest(125, 105, 0, 20))
}

func TestIndex_NearestTieOrderedByPosition(t *testing.T) {
	idx := NewIndex(gridFragments(t))
	// (175,105) is 50 from both A1 and B1
	got := idx.Nearest(175, 105, 1, 100)
	require.Len(t, got, 1)
	assert.Equal(t, "A1", got[0].Fragment.Text)
}

func TestIndex_Region(t *testing.T) {
	idx := NewIndex(gridFragments(t))

	assert.Equal(t, []int{0, 1}, idx.Region(BoundingBox{X: 0, Y: 95, Width: 400, Height: 10}))
	// touching the right edge of A1 exactly does not count
	assert.Empty(t, idx.Region(BoundingBox{X: 150, Y: 100, Width: 10, Height: 10}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, idx.Region(idx.Extent()))
}

func TestIndex_Bands(t *testing.T) {
	idx := NewIndex(gridFragments(t))

	assert.Equal(t, []int{0, 1}, idx.HorizontalBand(105, 8))
	assert.Equal(t, []int{2, 3}, idx.HorizontalBand(130, 5))
	assert.Equal(t, []int{0, 2}, idx.VerticalBand(125, 15))
	assert.Empty(t, idx.VerticalBand(400, 10))
}

func TestIndex_ByCenterY(t *testing.T) {
	frags := []TextFragment{
		frag(t, "bottom", 0, 300, 10, 10),
		frag(t, "top", 0, 10, 10, 10),
		frag(t, "middle", 0, 100, 10, 10),
	}
	idx := NewIndex(frags)
	assert.Equal(t, []int{1, 2, 0}, idx.ByCenterY())
}
