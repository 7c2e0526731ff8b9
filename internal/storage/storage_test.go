package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecords struct {
	inserted   map[string][]TableRecord
	tables     map[string]*TableRecord
	insertErr  error
	pingErr    error
	analysisID string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{inserted: map[string][]TableRecord{}, tables: map[string]*TableRecord{}}
}

func (f *fakeRecords) InsertAnalysis(_ context.Context, analysisID string, rec *AnalysisRecord, tables []TableRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.analysisID = analysisID
	// replacing a job's analysis cascades to its tables
	for _, old := range f.inserted[rec.JobID] {
		delete(f.tables, old.ID)
	}
	f.inserted[rec.JobID] = tables
	for i := range tables {
		f.tables[tables[i].ID] = &tables[i]
	}
	return nil
}

func (f *fakeRecords) GetAnalysisByJobID(_ context.Context, jobID string) (*StoredAnalysis, error) {
	tables, ok := f.inserted[jobID]
	if !ok {
		return nil, fmt.Errorf("analysis not found for job: %s", jobID)
	}
	return &StoredAnalysis{ID: f.analysisID, JobID: jobID, TableCount: len(tables)}, nil
}

func (f *fakeRecords) GetTable(_ context.Context, tableID string) (*TableRecord, string, error) {
	t, ok := f.tables[tableID]
	if !ok {
		return nil, "", fmt.Errorf("table not found: %s", tableID)
	}
	for job, tables := range f.inserted {
		for _, candidate := range tables {
			if candidate.ID == tableID {
				return t, job, nil
			}
		}
	}
	return t, "", nil
}

func (f *fakeRecords) PointIDsByJobID(_ context.Context, jobID string) ([]string, error) {
	var ids []string
	for _, t := range f.inserted[jobID] {
		if t.QdrantPointID != "" {
			ids = append(ids, t.QdrantPointID)
		}
	}
	return ids, nil
}

func (f *fakeRecords) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeRecords) Close() error { return nil }

type fakeVectors struct {
	points  map[string]*VectorPoint
	deleted []string
	results []*VectorPoint
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{points: map[string]*VectorPoint{}}
}

func (f *fakeVectors) UpsertVectors(_ context.Context, points []*VectorPoint) error {
	for _, p := range points {
		if _, err := toPointStruct(p); err != nil {
			return err
		}
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeVectors) SearchVectors(_ context.Context, _ []float32, _ int) ([]*VectorPoint, error) {
	return f.results, nil
}

func (f *fakeVectors) DeleteVectors(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.points, id)
		f.deleted = append(f.deleted, id)
	}
	return nil
}

func (f *fakeVectors) Close() error { return nil }

func vector(v float32) []float32 {
	out := make([]float32, LayoutVectorSize)
	out[0] = v
	return out
}

func TestStorageManager_StoreAnalysis(t *testing.T) {
	records, vectors := newFakeRecords(), newFakeVectors()
	sm := &StorageManager{records: records, vectors: vectors}

	out, err := sm.StoreAnalysis(context.Background(), &AnalysisInput{
		Analysis: AnalysisRecord{JobID: "job-1", FragmentsProcessed: 12, PagesAnalyzed: 1},
		Tables: []TableRecord{
			{Page: 1, TableIndex: 0, RowCount: 2, ColumnCount: 3, Fingerprint: vector(1)},
			{Page: 1, TableIndex: 1, RowCount: 4, ColumnCount: 2},
		},
	})
	require.NoError(t, err)
	require.Len(t, out.TableIDs, 2)
	assert.NotEmpty(t, out.AnalysisID)
	assert.Equal(t, out.AnalysisID, records.analysisID)

	stored := records.inserted["job-1"]
	require.Len(t, stored, 2)
	assert.Equal(t, stored[0].ID, stored[0].QdrantPointID)
	assert.Empty(t, stored[1].QdrantPointID, "tables without fingerprint get no vector")

	require.Len(t, vectors.points, 1)
	point := vectors.points[stored[0].ID]
	require.NotNil(t, point)
	assert.Equal(t, "job-1", point.Metadata["job_id"])
	assert.Equal(t, out.AnalysisID, point.Metadata["analysis_id"])

	got, err := sm.GetAnalysis(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TableCount)
}

func TestStorageManager_StoreAnalysisRollsBackVectors(t *testing.T) {
	records, vectors := newFakeRecords(), newFakeVectors()
	records.insertErr = fmt.Errorf("connection reset")
	sm := &StorageManager{records: records, vectors: vectors}

	_, err := sm.StoreAnalysis(context.Background(), &AnalysisInput{
		Analysis: AnalysisRecord{JobID: "job-2"},
		Tables:   []TableRecord{{Page: 1, Fingerprint: vector(1)}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, vectors.points)
	assert.Len(t, vectors.deleted, 1)
}

func TestStorageManager_ResubmittedJobReplacesVectors(t *testing.T) {
	records, vectors := newFakeRecords(), newFakeVectors()
	sm := &StorageManager{records: records, vectors: vectors}

	input := &AnalysisInput{
		Analysis: AnalysisRecord{JobID: "job-1"},
		Tables:   []TableRecord{{Page: 1, RowCount: 3, ColumnCount: 4, Fingerprint: vector(1)}},
	}

	first, err := sm.StoreAnalysis(context.Background(), input)
	require.NoError(t, err)
	assert.Zero(t, first.ReplacedVectors)

	second, err := sm.StoreAnalysis(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 1, second.ReplacedVectors)

	require.Len(t, vectors.points, 1)
	assert.Contains(t, vectors.points, second.TableIDs[0])
	assert.Equal(t, []string{first.TableIDs[0]}, vectors.deleted)

	// every remaining vector resolves to a stored table
	vectors.results = []*VectorPoint{{ID: second.TableIDs[0], Metadata: map[string]interface{}{"table_id": second.TableIDs[0]}}}
	matches, err := sm.SearchSimilarLayouts(context.Background(), vector(1), 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "job-1", matches[0].JobID)
}

func TestStorageManager_FailedReplacementKeepsPreviousVectors(t *testing.T) {
	records, vectors := newFakeRecords(), newFakeVectors()
	sm := &StorageManager{records: records, vectors: vectors}

	input := &AnalysisInput{
		Analysis: AnalysisRecord{JobID: "job-5"},
		Tables:   []TableRecord{{Page: 1, Fingerprint: vector(1)}},
	}
	first, err := sm.StoreAnalysis(context.Background(), input)
	require.NoError(t, err)

	records.insertErr = fmt.Errorf("connection reset")
	_, err = sm.StoreAnalysis(context.Background(), input)
	require.Error(t, err)

	require.Len(t, vectors.points, 1)
	assert.Contains(t, vectors.points, first.TableIDs[0])
}

func TestStorageManager_StoreAnalysisValidation(t *testing.T) {
	sm := &StorageManager{records: newFakeRecords(), vectors: newFakeVectors()}

	_, err := sm.StoreAnalysis(context.Background(), nil)
	assert.Error(t, err)

	_, err = sm.StoreAnalysis(context.Background(), &AnalysisInput{})
	assert.Error(t, err)

	_, err = sm.StoreAnalysis(context.Background(), &AnalysisInput{
		Analysis: AnalysisRecord{JobID: "job-3"},
		Tables:   []TableRecord{{Fingerprint: []float32{1, 2, 3}}},
	})
	assert.Error(t, err)
}

func TestStorageManager_SearchSimilarLayouts(t *testing.T) {
	records, vectors := newFakeRecords(), newFakeVectors()
	sm := &StorageManager{records: records, vectors: vectors}

	out, err := sm.StoreAnalysis(context.Background(), &AnalysisInput{
		Analysis: AnalysisRecord{JobID: "job-4"},
		Tables:   []TableRecord{{Page: 2, RowCount: 5, ColumnCount: 4, Fingerprint: vector(1)}},
	})
	require.NoError(t, err)

	vectors.results = []*VectorPoint{
		{ID: out.TableIDs[0], Metadata: map[string]interface{}{"table_id": out.TableIDs[0]}, Score: 0.97},
		{ID: "orphan", Metadata: map[string]interface{}{}, Score: 0.5},
	}

	matches, err := sm.SearchSimilarLayouts(context.Background(), vector(1), 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "job-4", matches[0].JobID)
	assert.Equal(t, 4, matches[0].Table.ColumnCount)
	assert.InDelta(t, 0.97, matches[0].SimilarityScore, 1e-6)

	_, err = sm.SearchSimilarLayouts(context.Background(), []float32{1}, 5)
	assert.Error(t, err)
}

func TestStorageManager_Ping(t *testing.T) {
	records := newFakeRecords()
	sm := &StorageManager{records: records, vectors: newFakeVectors()}
	assert.NoError(t, sm.Ping(context.Background()))

	records.pingErr = fmt.Errorf("connection refused")
	err := sm.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStorageManager_GetStatsNeedsLiveClients(t *testing.T) {
	sm := &StorageManager{records: newFakeRecords(), vectors: newFakeVectors()}
	_, err := sm.GetStats(context.Background())
	assert.Error(t, err)
}

func TestSanitizeConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.9632000000000001, 0.9632},
		{-0.2, 0},
		{1.7, 1},
		{0.25, 0.25},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeConfidence(tt.in))
	}
}

func TestSanitizeJSONForPostgres(t *testing.T) {
	in := []byte(`{"cells":[["A\u0000B","x\u0007y"]]}`)
	assert.Equal(t, `{"cells":[["AB","x y"]]}`, string(sanitizeJSONForPostgres(in)))
}

func TestPayloadConversion(t *testing.T) {
	payload := toPayload(map[string]interface{}{
		"job_id":     "j",
		"page":       3,
		"confidence": 0.5,
		"ok":         true,
		"other":      []int{1},
	})
	back := fromPayload(payload)

	assert.Equal(t, "j", back["job_id"])
	assert.Equal(t, int64(3), back["page"])
	assert.Equal(t, 0.5, back["confidence"])
	assert.Equal(t, true, back["ok"])
	assert.Equal(t, "[1]", back["other"])
}

func TestToPointStruct(t *testing.T) {
	_, err := toPointStruct(&VectorPoint{Vector: []float32{1}})
	assert.Error(t, err)

	p := &VectorPoint{Vector: vector(0.5), Timestamp: 42}
	ps, err := toPointStruct(p)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, p.ID, ps.Id.GetUuid())
	assert.Equal(t, int64(42), ps.Payload["timestamp"].GetIntegerValue())
	assert.Len(t, ps.Vectors.GetVector().Data, LayoutVectorSize)
}
