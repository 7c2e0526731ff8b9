/**
 * Storage Manager for the table reconstruction worker
 *
 * Coordinates storage across PostgreSQL (analyses and tables) and Qdrant
 * (layout fingerprints). Vectors are written first and removed again if the
 * relational write fails, so no table row points at a missing vector.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// AnalysisRecord is the job-level summary of one analysis
type AnalysisRecord struct {
	JobID              string
	DocumentID         string
	CacheKey           string
	FragmentsProcessed int
	PagesAnalyzed      int
	PageErrorCount     int
	ElapsedMs          int64
	ThroughputScore    float64
	Report             []byte // JSON analysis report
}

// TableRecord is one stored table. BoundingBox is x, y, width, height.
type TableRecord struct {
	ID            string
	Page          int
	TableIndex    int
	RowCount      int
	ColumnCount   int
	Confidence    float64
	ColumnCenters []float64
	BoundingBox   [4]float64
	Cells         [][]string
	Fingerprint   []float32
	QdrantPointID string
}

// AnalysisInput is what the processor hands over for persistence
type AnalysisInput struct {
	Analysis AnalysisRecord
	Tables   []TableRecord
}

// AnalysisOutput holds the identifiers assigned on store
type AnalysisOutput struct {
	AnalysisID string
	TableIDs   []string
	StoredAt   time.Time

	// ReplacedVectors counts layout vectors of an earlier analysis of the
	// same job that were removed after this one was committed
	ReplacedVectors int
}

// StoredAnalysis is an analysis read back from PostgreSQL
type StoredAnalysis struct {
	ID                 string
	JobID              string
	DocumentID         string
	CacheKey           string
	FragmentsProcessed int
	PagesAnalyzed      int
	TableCount         int
	PageErrorCount     int
	ElapsedMs          int64
	ThroughputScore    float64
	Report             []byte
	CreatedAt          time.Time
}

// LayoutMatch is a stored table whose layout resembles the query
type LayoutMatch struct {
	TableID         string
	JobID           string
	Table           *TableRecord
	SimilarityScore float64
}

type recordStore interface {
	InsertAnalysis(ctx context.Context, analysisID string, rec *AnalysisRecord, tables []TableRecord) error
	GetAnalysisByJobID(ctx context.Context, jobID string) (*StoredAnalysis, error)
	GetTable(ctx context.Context, tableID string) (*TableRecord, string, error)
	PointIDsByJobID(ctx context.Context, jobID string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

type vectorStore interface {
	UpsertVectors(ctx context.Context, points []*VectorPoint) error
	SearchVectors(ctx context.Context, queryVector []float32, limit int) ([]*VectorPoint, error)
	DeleteVectors(ctx context.Context, pointIDs []string) error
	Close() error
}

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	records  recordStore
	vectors  vectorStore
	qdrant   *QdrantClient
}

// NewStorageManager connects to both stores and ensures the schema exists
func NewStorageManager(postgresURL string, qdrantAddress string, qdrantCollection string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close()
		return nil, err
	}

	qdrant, err := NewQdrantClient(qdrantAddress, qdrantCollection)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
	}

	return &StorageManager{
		postgres: postgres,
		records:  postgres,
		vectors:  qdrant,
		qdrant:   qdrant,
	}, nil
}

// StoreAnalysis persists an analysis: fingerprints to Qdrant, then the
// summary and tables to PostgreSQL in one transaction.
func (sm *StorageManager) StoreAnalysis(ctx context.Context, input *AnalysisInput) (*AnalysisOutput, error) {
	if input == nil {
		return nil, fmt.Errorf("input is required")
	}
	if input.Analysis.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	analysisID := uuid.New().String()
	tables := make([]TableRecord, len(input.Tables))
	copy(tables, input.Tables)

	var points []*VectorPoint
	now := time.Now().Unix()
	for i := range tables {
		t := &tables[i]
		t.ID = uuid.New().String()
		if len(t.Fingerprint) == 0 {
			continue
		}
		if len(t.Fingerprint) != LayoutVectorSize {
			return nil, fmt.Errorf("invalid fingerprint dimensions for table %d: expected %d, got %d",
				i, LayoutVectorSize, len(t.Fingerprint))
		}
		// the table ID doubles as the point ID
		t.QdrantPointID = t.ID
		points = append(points, &VectorPoint{
			ID:     t.ID,
			Vector: t.Fingerprint,
			Metadata: map[string]interface{}{
				"job_id":       input.Analysis.JobID,
				"analysis_id":  analysisID,
				"table_id":     t.ID,
				"page":         t.Page,
				"row_count":    t.RowCount,
				"column_count": t.ColumnCount,
				"confidence":   t.Confidence,
			},
			Timestamp: now,
		})
	}

	// A resubmitted job replaces its earlier analysis; its vectors go once
	// the new rows are committed
	stale, err := sm.records.PointIDsByJobID(ctx, input.Analysis.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up previous layout vectors: %w", err)
	}

	if err := sm.vectors.UpsertVectors(ctx, points); err != nil {
		return nil, fmt.Errorf("failed to store layout vectors in Qdrant: %w", err)
	}

	if err := sm.records.InsertAnalysis(ctx, analysisID, &input.Analysis, tables); err != nil {
		// Rollback: remove the vectors that now have no table rows
		ids := make([]string, len(points))
		for i, p := range points {
			ids[i] = p.ID
		}
		sm.vectors.DeleteVectors(ctx, ids)
		return nil, fmt.Errorf("failed to store analysis in PostgreSQL: %w", err)
	}

	out := &AnalysisOutput{AnalysisID: analysisID, StoredAt: time.Now()}
	if len(stale) > 0 {
		if err := sm.vectors.DeleteVectors(ctx, stale); err == nil {
			out.ReplacedVectors = len(stale)
		}
	}
	for _, t := range tables {
		out.TableIDs = append(out.TableIDs, t.ID)
	}
	return out, nil
}

// GetAnalysis retrieves a job's stored analysis summary
func (sm *StorageManager) GetAnalysis(ctx context.Context, jobID string) (*StoredAnalysis, error) {
	return sm.records.GetAnalysisByJobID(ctx, jobID)
}

// SearchSimilarLayouts returns stored tables whose fingerprints are closest
// to the query vector. Points without a matching table row are skipped.
func (sm *StorageManager) SearchSimilarLayouts(ctx context.Context, queryVector []float32, limit int) ([]*LayoutMatch, error) {
	if len(queryVector) != LayoutVectorSize {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", LayoutVectorSize, len(queryVector))
	}

	points, err := sm.vectors.SearchVectors(ctx, queryVector, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	matches := make([]*LayoutMatch, 0, len(points))
	for _, point := range points {
		tableID, _ := point.Metadata["table_id"].(string)
		if tableID == "" {
			tableID = point.ID
		}

		table, jobID, err := sm.records.GetTable(ctx, tableID)
		if err != nil {
			continue // vector without metadata
		}

		matches = append(matches, &LayoutMatch{
			TableID:         tableID,
			JobID:           jobID,
			Table:           table,
			SimilarityScore: float64(point.Score),
		})
	}

	return matches, nil
}

// Ping checks that PostgreSQL is reachable
func (sm *StorageManager) Ping(ctx context.Context) error {
	if err := sm.records.Ping(ctx); err != nil {
		return fmt.Errorf("PostgreSQL ping failed: %w", err)
	}
	return nil
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	if sm.postgres == nil || sm.qdrant == nil {
		return nil, fmt.Errorf("stats require live PostgreSQL and Qdrant clients")
	}

	pgStats := sm.postgres.GetStats()

	qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
	}

	return map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
		"qdrant": qdrantStats,
	}, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.records != nil {
		pgErr = sm.records.Close()
	}

	if sm.vectors != nil {
		qdErr = sm.vectors.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres strips \u0000 and replaces other control character
// escapes, which JSONB rejects. OCR text occasionally carries them.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
