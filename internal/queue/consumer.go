/**
 * Queue Consumer for the table reconstruction worker
 *
 * Consumes analyze-fragments tasks from Redis through Asynq and runs them
 * through the DocumentProcessor.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/tableprocess-worker/internal/errors"
	"github.com/adverant/nexus/tableprocess-worker/internal/logging"
	"github.com/adverant/nexus/tableprocess-worker/internal/processor"
)

// defaultProcessingTimeout applies when ConsumerConfig.ProcessingTimeout is unset
const defaultProcessingTimeout = 5 * time.Minute

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.DocumentProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout time.Duration
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("QueueConsumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return retryDelay(n)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task processing error",
					"type", task.Type(),
					"retry", retried,
					"max_retry", maxRetry,
					"error", err)
			}),
		},
	)

	consumer := &Consumer{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}

	consumer.mux.HandleFunc(TypeAnalyzeFragments, consumer.handleAnalyzeFragments)

	return consumer, nil
}

// Start starts the queue consumer in the background
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

// handleAnalyzeFragments processes one analyze-fragments task. Returned
// errors make asynq retry the task; malformed payloads are not retried.
func (c *Consumer) handleAnalyzeFragments(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload AnalyzePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		invalid := errors.NewInvalidInputError("", err)
		return fmt.Errorf("%v: %w", invalid, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		invalid := errors.NewInvalidInputError("", fmt.Errorf("jobId is required"))
		return fmt.Errorf("%v: %w", invalid, asynq.SkipRetry)
	}

	log := c.logger.With("job", payload.JobID)
	log.Info("Processing fragment batch",
		"document", payload.DocumentID,
		"elements", len(payload.Elements))

	timeout := defaultProcessingTimeout
	if c.config.ProcessingTimeout > 0 {
		timeout = c.config.ProcessingTimeout
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessDocument(processCtx, &processor.ProcessRequest{
		JobID:      payload.JobID,
		DocumentID: payload.DocumentID,
		Elements:   payload.Elements,
		Refresh:    payload.Refresh,
	})

	duration := time.Since(startTime)

	if err != nil {
		if stderrors.Is(processCtx.Err(), context.DeadlineExceeded) {
			log.Error("Processing timed out", "duration", duration.String(), "timeout", timeout.String())
			return fmt.Errorf("processing timeout: %w", errors.NewProcessingTimeoutError(payload.JobID, timeout, err))
		}

		var perr *errors.ProcessingError
		if stderrors.As(err, &perr) && perr.Code == errors.ErrorInvalidInput {
			log.Error("Rejected invalid job", "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		log.Error("Processing failed", "duration", duration.String(), "error", err)
		return fmt.Errorf("fragment analysis failed: %w", err)
	}

	tables := 0
	pages := 0
	if result.Report != nil {
		tables = len(result.Report.Tables)
		pages = result.Report.PagesAnalyzed
	}

	log.Info("Processing completed",
		"duration", duration.String(),
		"tables", tables,
		"pages", pages,
		"cache_hit", result.CacheHit,
		"analysis_id", result.AnalysisID)

	if w := task.ResultWriter(); w != nil {
		summary, _ := json.Marshal(TaskResult{
			JobID:            payload.JobID,
			AnalysisID:       result.AnalysisID,
			TableIDs:         result.TableIDs,
			Tables:           tables,
			PagesAnalyzed:    pages,
			CacheHit:         result.CacheHit,
			ProcessingTimeMs: duration.Milliseconds(),
		})
		if _, err := w.Write(summary); err != nil {
			log.Warn("Failed to write task result", "error", err)
		}
	}

	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"timeout":     c.config.ProcessingTimeout.String(),
	}
}
