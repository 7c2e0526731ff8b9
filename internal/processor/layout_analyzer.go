/**
 * Layout Analyzer for the table reconstruction worker
 *
 * Reconstructs tables from positioned text fragments without delimiters:
 * - rows from vertical-center density clustering
 * - columns from horizontal-center density clustering per row run
 * - structural confidence scoring and overlap resolution
 *
 * Pages are independent work units and may be analysed in parallel.
 */

package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/adverant/nexus/tableprocess-worker/internal/errors"
	"github.com/adverant/nexus/tableprocess-worker/internal/logging"
	"github.com/adverant/nexus/tableprocess-worker/internal/spatial"
)

// baselineFragmentsPerSecond maps to a throughput score of 1.0
const baselineFragmentsPerSecond = 1000.0

// PageError records a page whose analysis failed
type PageError struct {
	Page    int    `json:"page"`
	Message string `json:"message"`
}

// AnalysisResult is the outcome of one DocumentAnalyzer.Analyze call
type AnalysisResult struct {
	Tables             []TableCandidate
	FragmentsProcessed int
	PagesAnalyzed      int
	Elapsed            time.Duration
	ThroughputScore    float64
	PageErrors         []PageError
}

// AnalysisReport is the serialisable form of an AnalysisResult
type AnalysisReport struct {
	Tables             []TableDescriptor `json:"tables"`
	FragmentsProcessed int               `json:"fragmentsProcessed"`
	PagesAnalyzed      int               `json:"pagesAnalyzed"`
	ElapsedMs          int64             `json:"elapsedMs"`
	ThroughputScore    float64           `json:"throughputScore"`
	PageErrors         []PageError       `json:"pageErrors,omitempty"`
}

// Report converts the result into descriptors
func (r *AnalysisResult) Report() *AnalysisReport {
	tables := make([]TableDescriptor, len(r.Tables))
	for i := range r.Tables {
		tables[i] = r.Tables[i].Descriptor()
	}
	return &AnalysisReport{
		Tables:             tables,
		FragmentsProcessed: r.FragmentsProcessed,
		PagesAnalyzed:      r.PagesAnalyzed,
		ElapsedMs:          r.Elapsed.Milliseconds(),
		ThroughputScore:    r.ThroughputScore,
		PageErrors:         r.PageErrors,
	}
}

// DocumentAnalyzer orchestrates per-page table reconstruction
type DocumentAnalyzer struct {
	config    AnalyzerConfig
	rows      *RowDetector
	builder   *TableBuilder
	resolver  *OverlapResolver
	scheduler PageScheduler
	logger    *logging.Logger
}

// NewDocumentAnalyzer validates the configuration and wires the pipeline.
// The scheduler follows cfg.Parallel; use WithScheduler to override it.
func NewDocumentAnalyzer(cfg AnalyzerConfig, logger *logging.Logger) (*DocumentAnalyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CollisionPolicy == "" {
		cfg.CollisionPolicy = CollisionDiscard
	}
	if logger == nil {
		logger = logging.NewLogger("DocumentAnalyzer")
	}

	var scheduler PageScheduler = SequentialScheduler{}
	if cfg.Parallel {
		scheduler = PooledScheduler{Workers: cfg.poolSize()}
	}

	return &DocumentAnalyzer{
		config:    cfg,
		rows:      NewRowDetector(cfg),
		builder:   NewTableBuilder(cfg, NewConfidenceScorer(cfg)),
		resolver:  NewOverlapResolver(cfg),
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

// WithScheduler replaces the page scheduler
func (a *DocumentAnalyzer) WithScheduler(s PageScheduler) *DocumentAnalyzer {
	a.scheduler = s
	return a
}

// Config returns the analyzer configuration
func (a *DocumentAnalyzer) Config() AnalyzerConfig { return a.config }

// Analyze reconstructs tables from all fragments of a document. Pages that
// fail are reported in PageErrors while the rest still return tables. The
// only error returned is the context's, alongside whatever pages completed.
func (a *DocumentAnalyzer) Analyze(ctx context.Context, fragments []spatial.TextFragment) (*AnalysisResult, error) {
	start := time.Now()

	byPage, pages := spatial.GroupByPage(fragments)
	work := make([]PageWork, len(pages))
	for i, p := range pages {
		work[i] = PageWork{Page: p, Fragments: byPage[p]}
	}

	var scheduler PageScheduler = SequentialScheduler{}
	if len(work) > 1 {
		scheduler = a.scheduler
	}
	outcomes := scheduler.Run(ctx, work, a.analyzePage)

	result := &AnalysisResult{
		FragmentsProcessed: len(fragments),
		PagesAnalyzed:      len(pages),
	}

	sort.SliceStable(outcomes, func(i, j int) bool { return outcomes[i].Page < outcomes[j].Page })
	for _, o := range outcomes {
		if o.Err != nil {
			a.logger.Error("Page analysis failed", "page", o.Page, "error", o.Err)
			result.PageErrors = append(result.PageErrors, PageError{Page: o.Page, Message: o.Err.Error()})
			continue
		}
		result.Tables = append(result.Tables, o.Tables...)
	}

	result.Elapsed = time.Since(start)
	result.ThroughputScore = throughputScore(result.FragmentsProcessed, result.Elapsed)

	a.logger.Info("Table analysis complete",
		"fragments", result.FragmentsProcessed,
		"pages", result.PagesAnalyzed,
		"tables", len(result.Tables),
		"page_errors", len(result.PageErrors),
		"elapsed", result.Elapsed.String(),
		"throughput_score", result.ThroughputScore)

	return result, ctx.Err()
}

// analyzePage runs the full pipeline on one page. Panics are converted into
// page errors so one malformed page cannot take down the document.
func (a *DocumentAnalyzer) analyzePage(_ context.Context, work PageWork) (tables []TableCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			tables = nil
			err = errors.NewPageAnalysisError(work.Page, fmt.Errorf("panic: %v", r))
		}
	}()

	// not enough fragments to fill even the smallest table
	if len(work.Fragments) < a.config.MinRows*a.config.MinColumns {
		return nil, nil
	}

	idx := spatial.NewIndex(work.Fragments)
	rows := a.rows.Detect(idx)
	candidates := a.builder.Build(work.Page, idx, rows)

	kept := candidates[:0]
	for _, c := range candidates {
		if c.Confidence >= a.config.MinConfidence {
			kept = append(kept, c)
		}
	}

	tables = a.resolver.Resolve(kept)
	sort.SliceStable(tables, func(i, j int) bool {
		bi, bj := tables[i].BoundingBox, tables[j].BoundingBox
		if bi.Y != bj.Y {
			return bi.Y < bj.Y
		}
		return bi.X < bj.X
	})

	a.logger.Debug("Page analysed",
		"page", work.Page,
		"fragments", len(work.Fragments),
		"rows", len(rows),
		"candidates", len(candidates),
		"tables", len(tables))

	return tables, nil
}

// throughputScore normalises fragments per second against the baseline
func throughputScore(fragments int, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return math.Min(1, float64(fragments)/secs/baselineFragmentsPerSecond)
}
