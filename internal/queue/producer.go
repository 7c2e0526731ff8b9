package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Producer submits analysis tasks
type Producer struct {
	client *asynq.Client
	queue  string
}

// NewProducer creates a producer for the given queue
func NewProducer(redisURL, queueName string) (*Producer, error) {
	if queueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &Producer{client: asynq.NewClient(redisOpt), queue: queueName}, nil
}

// EnqueueAnalysis submits a fragment batch for analysis
func (p *Producer) EnqueueAnalysis(ctx context.Context, payload *AnalyzePayload) (*asynq.TaskInfo, error) {
	task, err := NewAnalyzeTask(payload)
	if err != nil {
		return nil, err
	}

	info, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(p.queue),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return info, nil
}

// Close closes the underlying client
func (p *Producer) Close() error {
	return p.client.Close()
}
