/**
 * Configuration for the table reconstruction worker
 *
 * Loads configuration from environment variables
 */

package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/adverant/nexus/tableprocess-worker/internal/processor"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (queue and result cache)
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant vector database configuration
	QdrantURL        string
	QdrantCollection string

	// Worker configuration
	QueueName         string
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds

	// Result cache
	CacheEnabled    bool
	CacheTTLSeconds int

	// Logging
	LogLevel  string
	LogFormat string

	// Table analysis
	RowTolerance     float64
	ColumnTolerance  float64
	MinTableRows     int
	MinTableColumns  int
	MaxGapRatio      float64
	MinConfidence    float64
	OverlapThreshold float64
	ParallelPages    bool
	PageWorkers      int
	CollisionPolicy  string
}

// LoadConfig loads configuration from environment variables. A numeric or
// boolean variable that is set but cannot be parsed is an error.
func LoadConfig() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:         getEnvOrDefault("QDRANT_URL", "nexus-qdrant:6334"),
		QdrantCollection:  getEnvOrDefault("QDRANT_COLLECTION", "table_layouts"),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "tableprocess"),
		WorkerConcurrency: env.getEnvAsIntOrDefault("WORKER_CONCURRENCY", 10),
		ProcessingTimeout: env.getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		CacheEnabled:      env.getEnvAsBoolOrDefault("CACHE_ENABLED", true),
		CacheTTLSeconds:   env.getEnvAsIntOrDefault("CACHE_TTL_SECONDS", 3600),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "json"),
		RowTolerance:      env.getEnvAsFloatOrDefault("ROW_TOLERANCE", 8),
		ColumnTolerance:   env.getEnvAsFloatOrDefault("COLUMN_TOLERANCE", 15),
		MinTableRows:      env.getEnvAsIntOrDefault("MIN_TABLE_ROWS", 2),
		MinTableColumns:   env.getEnvAsIntOrDefault("MIN_TABLE_COLUMNS", 2),
		MaxGapRatio:       env.getEnvAsFloatOrDefault("MAX_GAP_RATIO", 3.0),
		MinConfidence:     env.getEnvAsFloatOrDefault("MIN_CONFIDENCE", 0.3),
		OverlapThreshold:  env.getEnvAsFloatOrDefault("OVERLAP_THRESHOLD", 0.3),
		ParallelPages:     env.getEnvAsBoolOrDefault("PARALLEL_PAGES", true),
		PageWorkers:       env.getEnvAsIntOrDefault("PAGE_WORKERS", runtime.NumCPU()),
		CollisionPolicy:   strings.ToLower(getEnvOrDefault("COLLISION_POLICY", string(processor.CollisionDiscard))),
	}

	if err := env.err(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.CacheTTLSeconds < 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must not be negative, got %d", c.CacheTTLSeconds)
	}

	if err := c.AnalyzerConfig().Validate(); err != nil {
		return err
	}

	return nil
}

// AnalyzerConfig maps the analysis settings onto the processor's config
func (c *Config) AnalyzerConfig() processor.AnalyzerConfig {
	return processor.AnalyzerConfig{
		RowTolerance:     c.RowTolerance,
		ColumnTolerance:  c.ColumnTolerance,
		MinRows:          c.MinTableRows,
		MinColumns:       c.MinTableColumns,
		MaxGapRatio:      c.MaxGapRatio,
		MinConfidence:    c.MinConfidence,
		OverlapThreshold: c.OverlapThreshold,
		CollisionPolicy:  processor.CollisionPolicy(c.CollisionPolicy),
		Parallel:         c.ParallelPages,
		WorkerPoolSize:   c.PageWorkers,
	}
}

// ProcessingTimeoutDuration returns PROCESSING_TIMEOUT as a duration
func (c *Config) ProcessingTimeoutDuration() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// CacheTTL returns CACHE_TTL_SECONDS as a duration
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed environment variables and remembers every value
// that failed to parse
type envReader struct {
	errs []error
}

func (r *envReader) invalid(key, value, kind string) {
	r.errs = append(r.errs, fmt.Errorf("%s must be %s, got %q", key, kind, value))
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func (r *envReader) getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		r.invalid(key, valueStr, "an integer")
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func (r *envReader) getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		r.invalid(key, valueStr, "a finite number")
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func (r *envReader) getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		r.invalid(key, valueStr, "a boolean")
		return defaultValue
	}

	return value
}
