/**
 * Document Processor for the table reconstruction worker
 *
 * Job-level flow around the DocumentAnalyzer:
 * - ingest provider elements into validated fragments
 * - serve repeated inputs from the result cache
 * - analyse, then persist tables and layout fingerprints
 */

package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/adverant/nexus/tableprocess-worker/internal/errors"
	"github.com/adverant/nexus/tableprocess-worker/internal/logging"
	"github.com/adverant/nexus/tableprocess-worker/internal/spatial"
	"github.com/adverant/nexus/tableprocess-worker/internal/storage"
)

// CacheKeyPrefix namespaces analysis results in the shared cache
const CacheKeyPrefix = "tableprocess:analysis:"

// ResultCache stores serialised analysis reports by key
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Invalidate(ctx context.Context, key string) error
}

// ResultStore persists completed analyses
type ResultStore interface {
	StoreAnalysis(ctx context.Context, input *storage.AnalysisInput) (*storage.AnalysisOutput, error)
}

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
}

// ProcessorConfig holds processor configuration. Cache and Store are optional.
type ProcessorConfig struct {
	Analyzer AnalyzerConfig
	Cache    ResultCache
	Store    ResultStore
	Logger   *logging.Logger
}

// ProcessRequest represents one analysis job
type ProcessRequest struct {
	JobID      string
	DocumentID string
	Elements   []RawElement

	// Refresh drops any cached report for these fragments and re-analyses
	Refresh bool
}

// ProcessResult represents the processing result
type ProcessResult struct {
	JobID            string
	AnalysisID       string
	TableIDs         []string
	CacheKey         string
	CacheHit         bool
	Report           *AnalysisReport
	Ingest           IngestStats
	ProcessingTimeMs int64
}

// DocumentProcessor handles analysis jobs
type DocumentProcessor struct {
	analyzer *DocumentAnalyzer
	cache    ResultCache
	store    ResultStore
	logger   *logging.Logger
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("DocumentProcessor")
	}

	analyzer, err := NewDocumentAnalyzer(cfg.Analyzer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	if cfg.Cache == nil {
		logger.Warn("Result cache not configured; every job will be analysed")
	}
	if cfg.Store == nil {
		logger.Warn("Result store not configured; analyses will not be persisted")
	}

	return &DocumentProcessor{
		analyzer: analyzer,
		cache:    cfg.Cache,
		store:    cfg.Store,
		logger:   logger,
	}, nil
}

// Analyzer exposes the underlying analyzer
func (p *DocumentProcessor) Analyzer() *DocumentAnalyzer { return p.analyzer }

// ProcessDocument ingests, analyses (or loads from cache) and persists a job
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	if req == nil || req.JobID == "" {
		return nil, errors.NewInvalidInputError("", fmt.Errorf("job ID is required"))
	}

	start := time.Now()
	log := p.logger.With("job", req.JobID)

	fragments, stats := Ingest(req.Elements)
	if stats.Dropped() > 0 {
		log.Warn("Dropped malformed elements",
			"dropped", stats.Dropped(),
			"empty_text", stats.EmptyText,
			"short_bounds", stats.ShortBounds,
			"invalid_page", stats.InvalidPage,
			"degenerate_box", stats.DegenerateBox)
	}

	key, err := CacheKey(fragments, p.analyzer.Config())
	if err != nil {
		return nil, errors.NewInvalidInputError(req.JobID, err)
	}

	result := &ProcessResult{JobID: req.JobID, CacheKey: key, Ingest: stats}

	if req.Refresh {
		p.invalidate(ctx, log, key)
	}

	report, hit := p.lookup(ctx, log, key)
	if hit {
		result.CacheHit = true
	} else {
		analysis, err := p.analyzer.Analyze(ctx, fragments)
		if err != nil {
			if stderrors.Is(err, context.DeadlineExceeded) {
				return nil, errors.NewProcessingTimeoutError(req.JobID, time.Since(start), err)
			}
			return nil, fmt.Errorf("analysis interrupted: %w", err)
		}
		report = analysis.Report()
		p.remember(ctx, log, key, report)
	}
	result.Report = report

	if p.store != nil {
		out, err := p.store.StoreAnalysis(ctx, buildStoreInput(req, key, report))
		if err != nil {
			return nil, errors.NewStorageFailedError(req.JobID, err)
		}
		result.AnalysisID = out.AnalysisID
		result.TableIDs = out.TableIDs
		if out.ReplacedVectors > 0 {
			log.Info("Replaced earlier analysis", "removed_vectors", out.ReplacedVectors)
		}
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	log.Info("Job processed",
		"tables", len(report.Tables),
		"fragments", report.FragmentsProcessed,
		"pages", report.PagesAnalyzed,
		"cache_hit", result.CacheHit,
		"processing_ms", result.ProcessingTimeMs)

	return result, nil
}

// lookup reads a cached report. Cache failures degrade to a miss.
func (p *DocumentProcessor) lookup(ctx context.Context, log *logging.Logger, key string) (*AnalysisReport, bool) {
	if p.cache == nil {
		return nil, false
	}
	data, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		log.Warn("Cache read failed", "error", errors.NewCacheFailedError(key, err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var report AnalysisReport
	if err := json.Unmarshal(data, &report); err != nil {
		log.Warn("Discarding unreadable cache entry", "key", key, "error", err)
		return nil, false
	}
	return &report, true
}

func (p *DocumentProcessor) invalidate(ctx context.Context, log *logging.Logger, key string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Invalidate(ctx, key); err != nil {
		log.Warn("Cache invalidation failed", "error", errors.NewCacheFailedError(key, err))
	}
}

func (p *DocumentProcessor) remember(ctx context.Context, log *logging.Logger, key string, report *AnalysisReport) {
	if p.cache == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		log.Warn("Failed to encode report for cache", "error", err)
		return
	}
	if err := p.cache.Set(ctx, key, data); err != nil {
		log.Warn("Cache write failed", "error", errors.NewCacheFailedError(key, err))
	}
}

// CacheKey hashes the fragments, in canonical order, together with every
// configuration field that can change the result. Reordered input maps to
// the same key because the analysis does not depend on input order.
func CacheKey(fragments []spatial.TextFragment, cfg AnalyzerConfig) (string, error) {
	if cfg.CollisionPolicy == "" {
		cfg.CollisionPolicy = CollisionDiscard
	}
	ordered := make([]spatial.TextFragment, len(fragments))
	copy(ordered, fragments)
	sort.Slice(ordered, func(i, j int) bool {
		return fragmentLess(ordered[i], ordered[j])
	})

	canonical, err := json.Marshal(struct {
		Fragments []spatial.TextFragment `json:"fragments"`
		Config    AnalyzerConfig         `json:"config"`
	}{ordered, cfg})
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return CacheKeyPrefix + hex.EncodeToString(sum[:]), nil
}

// fragmentLess is a total order over every fragment field: page, y, x, then
// text and the remaining fields.
func fragmentLess(a, b spatial.TextFragment) bool {
	switch {
	case a.Page != b.Page:
		return a.Page < b.Page
	case a.Box.Y != b.Box.Y:
		return a.Box.Y < b.Box.Y
	case a.Box.X != b.Box.X:
		return a.Box.X < b.Box.X
	case a.Text != b.Text:
		return a.Text < b.Text
	case a.Box.Width != b.Box.Width:
		return a.Box.Width < b.Box.Width
	case a.Box.Height != b.Box.Height:
		return a.Box.Height < b.Box.Height
	case a.FontSize != b.FontSize:
		return a.FontSize < b.FontSize
	}
	return a.FontName < b.FontName
}

func buildStoreInput(req *ProcessRequest, key string, report *AnalysisReport) *storage.AnalysisInput {
	reportJSON, _ := json.Marshal(report)

	input := &storage.AnalysisInput{
		Analysis: storage.AnalysisRecord{
			JobID:              req.JobID,
			DocumentID:         req.DocumentID,
			CacheKey:           key,
			FragmentsProcessed: report.FragmentsProcessed,
			PagesAnalyzed:      report.PagesAnalyzed,
			PageErrorCount:     len(report.PageErrors),
			ElapsedMs:          report.ElapsedMs,
			ThroughputScore:    report.ThroughputScore,
			Report:             reportJSON,
		},
	}

	tableIndex := map[int]int{}
	for _, t := range report.Tables {
		box := t.BoundingBox
		input.Tables = append(input.Tables, storage.TableRecord{
			Page:          t.Page,
			TableIndex:    tableIndex[t.Page],
			RowCount:      t.RowCount,
			ColumnCount:   t.ColumnCount,
			Confidence:    t.Confidence,
			ColumnCenters: t.ColumnCenters,
			BoundingBox:   [4]float64{box.X, box.Y, box.Width, box.Height},
			Cells:         t.Cells,
			Fingerprint:   LayoutFingerprint(t),
		})
		tableIndex[t.Page]++
	}
	return input
}
