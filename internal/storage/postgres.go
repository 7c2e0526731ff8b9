/**
 * PostgreSQL Client for the table reconstruction worker
 *
 * Persists analysis summaries and reconstructed tables.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS tableprocess;

	CREATE TABLE IF NOT EXISTS tableprocess.analysis_results (
		id                  uuid PRIMARY KEY,
		job_id              text NOT NULL UNIQUE,
		document_id         text,
		cache_key           text,
		fragments_processed integer NOT NULL,
		pages_analyzed      integer NOT NULL,
		table_count         integer NOT NULL,
		page_error_count    integer NOT NULL DEFAULT 0,
		elapsed_ms          bigint NOT NULL,
		throughput_score    NUMERIC(5,4) NOT NULL,
		report              jsonb NOT NULL,
		created_at          timestamptz NOT NULL DEFAULT NOW(),
		updated_at          timestamptz NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS tableprocess.table_candidates (
		id              uuid PRIMARY KEY,
		analysis_id     uuid NOT NULL REFERENCES tableprocess.analysis_results(id) ON DELETE CASCADE,
		page            integer NOT NULL,
		table_index     integer NOT NULL,
		row_count       integer NOT NULL,
		column_count    integer NOT NULL,
		confidence      NUMERIC(5,4) NOT NULL,
		column_centers  float8[] NOT NULL,
		bbox            float8[] NOT NULL,
		cells           jsonb NOT NULL,
		qdrant_point_id uuid,
		created_at      timestamptz NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS table_candidates_analysis_idx
		ON tableprocess.table_candidates (analysis_id, page, table_index);
`

// sanitizeConfidence rounds a [0,1] score to 4 decimal places so it fits
// NUMERIC(5,4) exactly
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the tableprocess schema and tables if missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// InsertAnalysis stores an analysis and its tables in one transaction. A
// repeated job ID replaces the previous analysis and its tables.
func (p *PostgresClient) InsertAnalysis(ctx context.Context, analysisID string, rec *AnalysisRecord, tables []TableRecord) error {
	if rec.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	report := sanitizeJSONForPostgres(rec.Report)
	if len(report) == 0 {
		report = []byte("{}")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// the delete cascades to the previous run's table rows
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tableprocess.analysis_results WHERE job_id = $1`, rec.JobID); err != nil {
		return fmt.Errorf("failed to clear previous analysis (job=%s): %w", rec.JobID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tableprocess.analysis_results (
			id, job_id, document_id, cache_key,
			fragments_processed, pages_analyzed, table_count, page_error_count,
			elapsed_ms, throughput_score, report, created_at, updated_at
		) VALUES (
			$1::uuid, $2, NULLIF($3, ''), NULLIF($4, ''),
			$5, $6, $7, $8,
			$9, $10::NUMERIC(5,4), $11::jsonb, NOW(), NOW()
		)`,
		analysisID,
		rec.JobID,
		rec.DocumentID,
		rec.CacheKey,
		rec.FragmentsProcessed,
		rec.PagesAnalyzed,
		len(tables),
		rec.PageErrorCount,
		rec.ElapsedMs,
		sanitizeConfidence(rec.ThroughputScore),
		report,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis (job=%s): %w", rec.JobID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tableprocess.table_candidates (
			id, analysis_id, page, table_index, row_count, column_count,
			confidence, column_centers, bbox, cells, qdrant_point_id, created_at
		) VALUES (
			$1::uuid, $2::uuid, $3, $4, $5, $6,
			$7::NUMERIC(5,4), $8, $9, $10::jsonb, NULLIF($11, '')::uuid, NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare table insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tables {
		cells, err := json.Marshal(t.Cells)
		if err != nil {
			return fmt.Errorf("failed to marshal cells of table %s: %w", t.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			t.ID,
			analysisID,
			t.Page,
			t.TableIndex,
			t.RowCount,
			t.ColumnCount,
			sanitizeConfidence(t.Confidence),
			pq.Array(t.ColumnCenters),
			pq.Array(t.BoundingBox[:]),
			sanitizeJSONForPostgres(cells),
			t.QdrantPointID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert table %s (page=%d): %w", t.ID, t.Page, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis (job=%s): %w", rec.JobID, err)
	}
	return nil
}

// GetAnalysisByJobID retrieves the stored summary of a job's analysis
func (p *PostgresClient) GetAnalysisByJobID(ctx context.Context, jobID string) (*StoredAnalysis, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, job_id, document_id, cache_key,
			fragments_processed, pages_analyzed, table_count, page_error_count,
			elapsed_ms, throughput_score, report, created_at
		FROM tableprocess.analysis_results
		WHERE job_id = $1
	`

	var (
		a                    StoredAnalysis
		documentID, cacheKey sql.NullString
	)
	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&a.ID, &a.JobID, &documentID, &cacheKey,
		&a.FragmentsProcessed, &a.PagesAnalyzed, &a.TableCount, &a.PageErrorCount,
		&a.ElapsedMs, &a.ThroughputScore, &a.Report, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("analysis not found for job: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	a.DocumentID = documentID.String
	a.CacheKey = cacheKey.String
	return &a, nil
}

// GetTable retrieves one stored table with the job it belongs to
func (p *PostgresClient) GetTable(ctx context.Context, tableID string) (*TableRecord, string, error) {
	if tableID == "" {
		return nil, "", fmt.Errorf("table ID is required")
	}

	query := `
		SELECT
			t.id, a.job_id, t.page, t.table_index, t.row_count, t.column_count,
			t.confidence, t.column_centers, t.bbox, t.cells,
			COALESCE(t.qdrant_point_id::text, '')
		FROM tableprocess.table_candidates t
		JOIN tableprocess.analysis_results a ON a.id = t.analysis_id
		WHERE t.id = $1::uuid
	`

	var (
		t         TableRecord
		jobID     string
		centers   pq.Float64Array
		bbox      pq.Float64Array
		cellsJSON []byte
	)
	err := p.db.QueryRowContext(ctx, query, tableID).Scan(
		&t.ID, &jobID, &t.Page, &t.TableIndex, &t.RowCount, &t.ColumnCount,
		&t.Confidence, &centers, &bbox, &cellsJSON, &t.QdrantPointID,
	)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("table not found: %s", tableID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get table: %w", err)
	}

	t.ColumnCenters = []float64(centers)
	copy(t.BoundingBox[:], bbox)
	if err := json.Unmarshal(cellsJSON, &t.Cells); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal cells: %w", err)
	}
	return &t, jobID, nil
}

// PointIDsByJobID lists the Qdrant point IDs of the tables currently stored
// for a job. A job with no stored analysis yields an empty list.
func (p *PostgresClient) PointIDsByJobID(ctx context.Context, jobID string) ([]string, error) {
	query := `
		SELECT t.qdrant_point_id::text
		FROM tableprocess.table_candidates t
		JOIN tableprocess.analysis_results a ON a.id = t.analysis_id
		WHERE a.job_id = $1 AND t.qdrant_point_id IS NOT NULL
	`

	rows, err := p.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list point IDs (job=%s): %w", jobID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan point ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
