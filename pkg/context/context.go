// Package context carries run tracing values through the scheduler and workers
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

// Context keys for run tracing
const (
	runIDKey ctxKey = iota
	workerKey
	jobKey
	operationKey
	startTimeKey
)

// NoWorker is returned by GetWorker when the context belongs to the scheduler
const NoWorker = -1

// WithRunID adds a run ID to the context
func WithRunID(parent context.Context, runID string) context.Context {
	if runID == "" {
		runID = GenerateRunID()
	}
	return context.WithValue(parent, runIDKey, runID)
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		return id
	}
	return "unknown-run"
}

// WithWorker tags the context with a worker index
func WithWorker(parent context.Context, index int) context.Context {
	return context.WithValue(parent, workerKey, index)
}

// GetWorker retrieves the worker index, or NoWorker
func GetWorker(ctx context.Context) int {
	if idx, ok := ctx.Value(workerKey).(int); ok {
		return idx
	}
	return NoWorker
}

// WithJob adds the job being cooked to the context
func WithJob(parent context.Context, job string) context.Context {
	return context.WithValue(parent, jobKey, job)
}

// GetJob retrieves the job from context
func GetJob(ctx context.Context) string {
	if job, ok := ctx.Value(jobKey).(string); ok {
		return job
	}
	return ""
}

// WithOperation adds an operation name to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, operationKey, operation)
}

// GetOperation retrieves the operation name from context
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok && op != "" {
		return op
	}
	return "unknown-operation"
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the operation start time from context
func GetStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}

// GetDuration calculates the duration since the start time in context, or zero
func GetDuration(ctx context.Context) time.Duration {
	startTime, ok := GetStartTime(ctx)
	if !ok {
		return 0
	}
	return time.Since(startTime)
}

// GenerateRunID creates a new unique run ID
func GenerateRunID() string {
	return uuid.New().String()
}

// StartOperation names an operation and stamps its start time
func StartOperation(parent context.Context, operation string) context.Context {
	return WithStartTime(WithOperation(parent, operation), time.Now())
}
