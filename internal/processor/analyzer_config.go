package processor

import (
	"math"
	"runtime"

	"github.com/adverant/nexus/tableprocess-worker/internal/errors"
)

// CollisionPolicy decides what happens when two fragments of one row land in
// the same column slot.
type CollisionPolicy string

const (
	// CollisionDiscard keeps the fragment closest to the column center
	CollisionDiscard CollisionPolicy = "discard"
	// CollisionConcatenate keeps every colliding fragment, joined left to right
	CollisionConcatenate CollisionPolicy = "concatenate"
)

// AnalyzerConfig is the tuning surface of the table reconstruction pipeline.
// Tolerances are absolute distances in the provider's coordinate units.
type AnalyzerConfig struct {
	RowTolerance     float64         `json:"rowTolerance"`
	ColumnTolerance  float64         `json:"columnTolerance"`
	MinRows          int             `json:"minRows"`
	MinColumns       int             `json:"minColumns"`
	MaxGapRatio      float64         `json:"maxGapRatio"`
	MinConfidence    float64         `json:"minConfidence"`
	OverlapThreshold float64         `json:"overlapThreshold"`
	CollisionPolicy  CollisionPolicy `json:"collisionPolicy"`

	// Scheduling only; never changes the result
	Parallel       bool `json:"-"`
	WorkerPoolSize int  `json:"-"`
}

// DefaultAnalyzerConfig returns the stock tolerances
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		RowTolerance:     8,
		ColumnTolerance:  15,
		MinRows:          2,
		MinColumns:       2,
		MaxGapRatio:      3.0,
		MinConfidence:    0.3,
		OverlapThreshold: 0.3,
		CollisionPolicy:  CollisionDiscard,
		Parallel:         true,
		WorkerPoolSize:   runtime.NumCPU(),
	}
}

// Validate rejects configurations the clustering steps cannot work with
func (c AnalyzerConfig) Validate() error {
	if !positiveFinite(c.RowTolerance) {
		return errors.NewInvalidConfigError("rowTolerance", c.RowTolerance, "must be a positive number")
	}
	if !positiveFinite(c.ColumnTolerance) {
		return errors.NewInvalidConfigError("columnTolerance", c.ColumnTolerance, "must be a positive number")
	}
	if c.MinRows < 1 {
		return errors.NewInvalidConfigError("minRows", c.MinRows, "must be at least 1")
	}
	if c.MinColumns < 1 {
		return errors.NewInvalidConfigError("minColumns", c.MinColumns, "must be at least 1")
	}
	if !positiveFinite(c.MaxGapRatio) {
		return errors.NewInvalidConfigError("maxGapRatio", c.MaxGapRatio, "must be a positive number")
	}
	if math.IsNaN(c.MinConfidence) || c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errors.NewInvalidConfigError("minConfidence", c.MinConfidence, "must be within [0, 1]")
	}
	if math.IsNaN(c.OverlapThreshold) || c.OverlapThreshold < 0 || c.OverlapThreshold > 1 {
		return errors.NewInvalidConfigError("overlapThreshold", c.OverlapThreshold, "must be within [0, 1]")
	}
	if c.WorkerPoolSize < 0 {
		return errors.NewInvalidConfigError("workerPoolSize", c.WorkerPoolSize, "must not be negative")
	}
	switch c.CollisionPolicy {
	case "", CollisionDiscard, CollisionConcatenate:
	default:
		return errors.NewInvalidConfigError("collisionPolicy", c.CollisionPolicy, "must be discard or concatenate")
	}
	return nil
}

func (c AnalyzerConfig) poolSize() int {
	if c.WorkerPoolSize > 0 {
		return c.WorkerPoolSize
	}
	return runtime.NumCPU()
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
