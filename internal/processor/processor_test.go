package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/tableprocess-worker/internal/errors"
	"github.com/adverant/nexus/tableprocess-worker/internal/logging"
	"github.com/adverant/nexus/tableprocess-worker/internal/spatial"
	"github.com/adverant/nexus/tableprocess-worker/internal/storage"
)

type memoryCache struct {
	entries map[string][]byte
	getErr  error
	setErr  error
	sets    int

	invalidated []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memoryCache) Invalidate(_ context.Context, key string) error {
	c.invalidated = append(c.invalidated, key)
	delete(c.entries, key)
	return nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte) error {
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = value
	return nil
}

type recordingStore struct {
	inputs []*storage.AnalysisInput
	err    error
}

func (s *recordingStore) StoreAnalysis(_ context.Context, input *storage.AnalysisInput) (*storage.AnalysisOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.inputs = append(s.inputs, input)
	out := &storage.AnalysisOutput{AnalysisID: fmt.Sprintf("analysis-%d", len(s.inputs)), StoredAt: time.Now()}
	for i := range input.Tables {
		out.TableIDs = append(out.TableIDs, fmt.Sprintf("table-%d", i))
	}
	return out, nil
}

func toElements(fragments []spatial.TextFragment) []RawElement {
	out := make([]RawElement, len(fragments))
	for i, f := range fragments {
		page := f.Page
		out[i] = RawElement{
			Text:   f.Text,
			Page:   &page,
			Bounds: []float64{f.Box.X, f.Box.Y, f.Box.Width, f.Box.Height},
			Font:   &RawFont{Size: f.FontSize, Name: f.FontName},
		}
	}
	return out
}

func newTestProcessor(t *testing.T, cache ResultCache, store ResultStore) *DocumentProcessor {
	t.Helper()
	cfg := &ProcessorConfig{
		Analyzer: DefaultAnalyzerConfig(),
		Logger:   logging.NewLogger("ProcessorTest"),
	}
	if cache != nil {
		cfg.Cache = cache
	}
	if store != nil {
		cfg.Store = store
	}
	p, err := NewDocumentProcessor(cfg)
	require.NoError(t, err)
	return p
}

func TestProcessDocument_CacheMissThenHit(t *testing.T) {
	cache := newMemoryCache()
	store := &recordingStore{}
	p := newTestProcessor(t, cache, store)

	req := &ProcessRequest{JobID: "job-1", DocumentID: "doc-1", Elements: toElements(document(t))}

	first, err := p.ProcessDocument(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.True(t, strings.HasPrefix(first.CacheKey, CacheKeyPrefix))
	assert.Contains(t, cache.entries, first.CacheKey)
	assert.Equal(t, "analysis-1", first.AnalysisID)
	require.Len(t, first.Report.Tables, 4)
	assert.Len(t, first.TableIDs, 4)
	assert.Equal(t, len(req.Elements), first.Ingest.Accepted)

	require.Len(t, store.inputs, 1)
	stored := store.inputs[0]
	assert.Equal(t, "job-1", stored.Analysis.JobID)
	assert.Equal(t, "doc-1", stored.Analysis.DocumentID)
	assert.Equal(t, first.CacheKey, stored.Analysis.CacheKey)
	assert.Equal(t, 4, stored.Analysis.PagesAnalyzed)
	assert.NotEmpty(t, stored.Analysis.Report)

	indexes := make([]int, len(stored.Tables))
	for i, table := range stored.Tables {
		indexes[i] = table.TableIndex
		assert.Len(t, table.Fingerprint, FingerprintDimensions)
	}
	assert.Equal(t, []int{0, 0, 1, 0}, indexes)

	second, err := p.ProcessDocument(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.CacheKey, second.CacheKey)
	assert.Equal(t, first.Report.Tables, second.Report.Tables)
	assert.Equal(t, 1, cache.sets, "a hit is not written back")
	assert.Len(t, store.inputs, 2, "cached results are still persisted for the new job")
}

func TestProcessDocument_CacheFailureDegradesToMiss(t *testing.T) {
	cache := newMemoryCache()
	cache.getErr = fmt.Errorf("connection reset")
	cache.setErr = fmt.Errorf("connection reset")
	p := newTestProcessor(t, cache, nil)

	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{
		JobID:    "job-2",
		Elements: toElements(holdingsTable(t, 1)),
	})
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Len(t, result.Report.Tables, 1)
	assert.Empty(t, result.AnalysisID)
}

func TestProcessDocument_RefreshBypassesCache(t *testing.T) {
	cache := newMemoryCache()
	p := newTestProcessor(t, cache, nil)

	req := &ProcessRequest{JobID: "job-9", Elements: toElements(holdingsTable(t, 1))}
	first, err := p.ProcessDocument(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, cache.invalidated)

	req.Refresh = true
	second, err := p.ProcessDocument(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
	assert.Equal(t, []string{first.CacheKey}, cache.invalidated)
	assert.Equal(t, 2, cache.sets)
	assert.Contains(t, cache.entries, first.CacheKey)
	assert.Equal(t, first.Report.Tables, second.Report.Tables)
}

func TestProcessDocument_ReorderedInputHitsCache(t *testing.T) {
	cache := newMemoryCache()
	p := newTestProcessor(t, cache, nil)

	fragments := document(t)
	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-10", Elements: toElements(fragments)})
	require.NoError(t, err)

	reversed := make([]spatial.TextFragment, len(fragments))
	for i, f := range fragments {
		reversed[len(fragments)-1-i] = f
	}
	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-11", Elements: toElements(reversed)})
	require.NoError(t, err)
	assert.True(t, result.CacheHit)
}

func TestProcessDocument_UnreadableCacheEntryIsIgnored(t *testing.T) {
	cache := newMemoryCache()
	p := newTestProcessor(t, cache, nil)

	fragments := holdingsTable(t, 1)
	key, err := CacheKey(fragments, p.Analyzer().Config())
	require.NoError(t, err)
	cache.entries[key] = []byte("{truncated")

	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-3", Elements: toElements(fragments)})
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Len(t, result.Report.Tables, 1)
}

func TestProcessDocument_StoreFailure(t *testing.T) {
	p := newTestProcessor(t, nil, &recordingStore{err: fmt.Errorf("qdrant unavailable")})

	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-4", Elements: toElements(holdingsTable(t, 1))})
	require.Error(t, err)

	var perr *errors.ProcessingError
	require.True(t, stderrors.As(err, &perr))
	assert.Equal(t, errors.ErrorStorageFailed, perr.Code)
	assert.Equal(t, "job-4", perr.JobID)
}

func TestProcessDocument_RequiresJobID(t *testing.T) {
	p := newTestProcessor(t, nil, nil)

	for _, req := range []*ProcessRequest{nil, {}} {
		_, err := p.ProcessDocument(context.Background(), req)
		var perr *errors.ProcessingError
		require.True(t, stderrors.As(err, &perr))
		assert.Equal(t, errors.ErrorInvalidInput, perr.Code)
	}
}

func TestProcessDocument_DeadlineBecomesTimeout(t *testing.T) {
	p := newTestProcessor(t, nil, nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := p.ProcessDocument(ctx, &ProcessRequest{JobID: "job-5", Elements: toElements(holdingsTable(t, 1))})
	var perr *errors.ProcessingError
	require.True(t, stderrors.As(err, &perr))
	assert.Equal(t, errors.ErrorProcessingTimeout, perr.Code)
}

func TestProcessDocument_NoisyElementsAreCounted(t *testing.T) {
	p := newTestProcessor(t, nil, nil)

	elements := toElements(holdingsTable(t, 1))
	zero := 0
	elements = append(elements,
		RawElement{Text: "  ", Bounds: []float64{0, 0, 10, 10}},
		RawElement{Text: "x", Bounds: []float64{0, 0}},
		RawElement{Text: "y", Page: &zero, Bounds: []float64{0, 0, 10, 10}},
	)

	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-6", Elements: elements})
	require.NoError(t, err)
	assert.Equal(t, 6, result.Ingest.Accepted)
	assert.Equal(t, 3, result.Ingest.Dropped())
	assert.Len(t, result.Report.Tables, 1)
}

func TestCacheKey(t *testing.T) {
	fragments := holdingsTable(t, 1)
	cfg := DefaultAnalyzerConfig()

	key, err := CacheKey(fragments, cfg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, CacheKeyPrefix))
	assert.Len(t, key, len(CacheKeyPrefix)+64)

	again, err := CacheKey(holdingsTable(t, 1), cfg)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	scheduling := cfg
	scheduling.Parallel = !cfg.Parallel
	scheduling.WorkerPoolSize = 17
	same, err := CacheKey(fragments, scheduling)
	require.NoError(t, err)
	assert.Equal(t, key, same, "scheduling settings do not change results")

	unset := cfg
	unset.CollisionPolicy = ""
	same, err = CacheKey(fragments, unset)
	require.NoError(t, err)
	assert.Equal(t, key, same, "an unset policy means discard")

	tuned := cfg
	tuned.RowTolerance = 4
	other, err := CacheKey(fragments, tuned)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	other, err = CacheKey(fragments[:5], cfg)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	shuffled := append([]spatial.TextFragment(nil), fragments...)
	rand.New(rand.NewSource(3)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	same, err = CacheKey(shuffled, cfg)
	require.NoError(t, err)
	assert.Equal(t, key, same, "input order does not change results")
	assert.Equal(t, holdingsTable(t, 1), fragments, "caller's slice is left untouched")

	moved := append([]spatial.TextFragment(nil), fragments...)
	moved[0].Box.X += 1
	other, err = CacheKey(moved, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	empty, err := CacheKey(nil, cfg)
	require.NoError(t, err)
	emptySlice, err := CacheKey([]spatial.TextFragment{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, empty, emptySlice)
}

func TestIngest(t *testing.T) {
	page2, page0 := 2, 0
	elements := []RawElement{
		{Text: " Total ", Page: &page2, Bounds: []float64{10, 20, 30, 12}, Font: &RawFont{Size: 9, Name: "Arial"}},
		{Text: "no page", Bounds: []float64{10, 40, 30, 12}},
		{Text: "", Bounds: []float64{0, 0, 1, 1}},
		{Text: "short", Bounds: []float64{0, 0, 1}},
		{Text: "bad page", Page: &page0, Bounds: []float64{0, 0, 1, 1}},
		{Text: "flat", Bounds: []float64{0, 0, 10, 0}},
		{Text: "nan", Bounds: []float64{math.NaN(), 0, 10, 10}},
	}

	fragments, stats := Ingest(elements)
	require.Len(t, fragments, 2)

	assert.Equal(t, "Total", fragments[0].Text)
	assert.Equal(t, 2, fragments[0].Page)
	assert.Equal(t, spatial.BoundingBox{X: 10, Y: 20, Width: 30, Height: 12}, fragments[0].Box)
	assert.Equal(t, 9.0, fragments[0].FontSize)
	assert.Equal(t, "Arial", fragments[0].FontName)
	assert.Equal(t, 1, fragments[1].Page)
	assert.Equal(t, 0.0, fragments[1].FontSize)

	assert.Equal(t, IngestStats{Accepted: 2, EmptyText: 1, ShortBounds: 1, InvalidPage: 1, DegenerateBox: 2}, stats)
	assert.Equal(t, 5, stats.Dropped())
}

func TestDecodeElements(t *testing.T) {
	bare := `[{"Text":"Name","Page":1,"Bounds":[50,100,150,20],"Font":{"size":12,"name":"Arial"}}]`
	elements, err := DecodeElements([]byte(bare))
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, "Name", elements[0].Text)
	require.NotNil(t, elements[0].Page)
	assert.Equal(t, 1, *elements[0].Page)
	assert.Equal(t, []float64{50, 100, 150, 20}, elements[0].Bounds)
	assert.Equal(t, 12.0, elements[0].Font.Size)

	wrapped := "\n  {\"elements\": [{\"Text\":\"ISIN\",\"Bounds\":[1,2,3,4]}]}"
	elements, err = DecodeElements([]byte(wrapped))
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Nil(t, elements[0].Page)
	assert.Nil(t, elements[0].Font)

	_, err = DecodeElements([]byte("   "))
	assert.Error(t, err)
	_, err = DecodeElements([]byte("[{"))
	assert.Error(t, err)
	_, err = DecodeElements([]byte(`{"elements": 3}`))
	assert.Error(t, err)
}

func TestLayoutFingerprint(t *testing.T) {
	result, err := newAnalyzer(t, DefaultAnalyzerConfig()).Analyze(context.Background(), holdingsTable(t, 1))
	require.NoError(t, err)
	require.Len(t, result.Tables, 1)
	desc := result.Tables[0].Descriptor()

	vec := LayoutFingerprint(desc)
	require.Len(t, vec, FingerprintDimensions)

	norm := 0.0
	for _, v := range vec {
		assert.False(t, math.IsNaN(float64(v)))
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	moved := desc
	moved.BoundingBox.X += 200
	moved.BoundingBox.Y += 350
	moved.ColumnCenters = make([]float64, len(desc.ColumnCenters))
	for i, c := range desc.ColumnCenters {
		moved.ColumnCenters[i] = c + 200
	}
	assert.Equal(t, vec, LayoutFingerprint(moved), "position on the page does not change the layout")

	grid, err := newAnalyzer(t, DefaultAnalyzerConfig()).Analyze(context.Background(), priceGrid(t, 1, 100))
	require.NoError(t, err)
	require.Len(t, grid.Tables, 1)
	assert.NotEqual(t, vec, LayoutFingerprint(grid.Tables[0].Descriptor()))

	zero := LayoutFingerprint(TableDescriptor{})
	require.Len(t, zero, FingerprintDimensions)
	for _, v := range zero {
		assert.Equal(t, float32(0), v)
	}
}
