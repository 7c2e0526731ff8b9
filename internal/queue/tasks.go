package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/tableprocess-worker/internal/processor"
)

// TypeAnalyzeFragments is the task type carrying one fragment batch
const TypeAnalyzeFragments = "analyze-fragments"

// AnalyzePayload is the JSON body of an analyze-fragments task
type AnalyzePayload struct {
	JobID      string                 `json:"jobId"`
	DocumentID string                 `json:"documentId,omitempty"`
	Elements   []processor.RawElement `json:"elements"`
	Refresh    bool                   `json:"refresh,omitempty"`
}

// TaskResult is written back to asynq once a task completes
type TaskResult struct {
	JobID            string   `json:"jobId"`
	AnalysisID       string   `json:"analysisId,omitempty"`
	TableIDs         []string `json:"tableIds,omitempty"`
	Tables           int      `json:"tables"`
	PagesAnalyzed    int      `json:"pagesAnalyzed"`
	CacheHit         bool     `json:"cacheHit"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
}

// NewAnalyzeTask builds an analyze-fragments task
func NewAnalyzeTask(payload *AnalyzePayload) (*asynq.Task, error) {
	if payload == nil || payload.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeAnalyzeFragments, data), nil
}

// retryDelay is exponential backoff: 5s, 10s, 20s, 40s, then 60s
func retryDelay(n int) time.Duration {
	if n > 4 {
		return 60 * time.Second
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}
