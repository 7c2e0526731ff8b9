package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the table reconstruction worker
 *
 * Design Pattern: Factory Pattern for error creation
 * Each error type carries one failure category and the job it belongs to.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input and configuration errors
	ErrorInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrorInvalidInput  ErrorCode = "INVALID_INPUT"

	// Analysis errors
	ErrorPageAnalysisFailed ErrorCode = "PAGE_ANALYSIS_FAILED"
	ErrorProcessingTimeout  ErrorCode = "PROCESSING_TIMEOUT"

	// Infrastructure errors
	ErrorCacheFailed   ErrorCode = "CACHE_FAILED"
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// ErrInvalidConfig is matched by errors.Is for every INVALID_CONFIG error
var ErrInvalidConfig = stderrors.New("invalid analyzer configuration")

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrInvalidConfig) match configuration errors
func (e *ProcessingError) Is(target error) bool {
	return target == ErrInvalidConfig && e.Code == ErrorInvalidConfig
}

// Factory functions for common errors

func NewInvalidConfigError(field string, value interface{}, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidConfig,
		Message:   fmt.Sprintf("invalid %s=%v: %s", field, value, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
			"value": value,
		},
	}
}

func NewInvalidInputError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidInput,
		Message:   "Failed to decode fragment input",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewPageAnalysisError(page int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPageAnalysisFailed,
		Message:   fmt.Sprintf("Analysis of page %d failed", page),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page": page,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewCacheFailedError(key string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorCacheFailed,
		Message:   "Result cache operation failed",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"cache_key": key,
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store analysis results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.JobID != "" {
		result["job_id"] = e.JobID
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
