package logger

import (
	"context"

	pcontext "github.com/cookfarm/cookfarm/pkg/context"
)

// LoggerContext extends the Logger interface with context-aware methods.
type LoggerContext interface {
	Logger
	InfoContext(ctx context.Context, message string, fields ...Field)
	ErrorContext(ctx context.Context, message string, fields ...Field)
	WarnContext(ctx context.Context, message string, fields ...Field)
	DebugContext(ctx context.Context, message string, fields ...Field)
}

var _ LoggerContext = (*TargetLogger)(nil)

// InfoContext logs an info message with context tracing
func (l *TargetLogger) InfoContext(ctx context.Context, message string, fields ...Field) {
	l.fromContext(ctx).Info(message, append(contextFields(ctx), fields...)...)
}

// ErrorContext logs an error message with context tracing
func (l *TargetLogger) ErrorContext(ctx context.Context, message string, fields ...Field) {
	l.fromContext(ctx).Error(message, append(contextFields(ctx), fields...)...)
}

// WarnContext logs a warning message with context tracing
func (l *TargetLogger) WarnContext(ctx context.Context, message string, fields ...Field) {
	l.fromContext(ctx).Warn(message, append(contextFields(ctx), fields...)...)
}

// DebugContext logs a debug message with context tracing
func (l *TargetLogger) DebugContext(ctx context.Context, message string, fields ...Field) {
	l.fromContext(ctx).Debug(message, append(contextFields(ctx), fields...)...)
}

// fromContext applies worker and job prefixes carried by ctx
func (l *TargetLogger) fromContext(ctx context.Context) Logger {
	var out Logger = l
	if ctx == nil {
		return out
	}
	if w := pcontext.GetWorker(ctx); w != pcontext.NoWorker {
		out = out.WithWorker(w)
	}
	if job := pcontext.GetJob(ctx); job != "" {
		out = out.WithTarget(job)
	}
	return out
}

// contextFields extracts tracing fields from context
func contextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field

	if runID := pcontext.GetRunID(ctx); runID != "unknown-run" {
		fields = append(fields, WithField("run", shortID(runID)))
	}

	if operation := pcontext.GetOperation(ctx); operation != "unknown-operation" {
		fields = append(fields, WithField("operation", operation))
	}

	if duration := pcontext.GetDuration(ctx); duration > 0 {
		fields = append(fields, WithField("duration_ms", duration.Milliseconds()))
	}

	return fields
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// WithContext creates a logger that automatically includes context fields
func WithContext(ctx context.Context, logger Logger) Logger {
	if ctx == nil {
		return logger
	}
	return &contextualLogger{
		ctx:    ctx,
		logger: logger,
	}
}

// contextualLogger wraps a logger with automatic context field extraction
type contextualLogger struct {
	ctx    context.Context
	logger Logger
}

func (cl *contextualLogger) Info(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.InfoContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Info(message, fields...)
	}
}

func (cl *contextualLogger) Error(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.ErrorContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Error(message, fields...)
	}
}

func (cl *contextualLogger) Warn(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.WarnContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Warn(message, fields...)
	}
}

func (cl *contextualLogger) Debug(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.DebugContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Debug(message, fields...)
	}
}

func (cl *contextualLogger) Success(message string, fields ...Field) {
	cl.logger.Success(message, append(contextFields(cl.ctx), fields...)...)
}

func (cl *contextualLogger) WithTarget(target string) Logger {
	return &contextualLogger{
		ctx:    cl.ctx,
		logger: cl.logger.WithTarget(target),
	}
}

func (cl *contextualLogger) WithWorker(index int) Logger {
	return &contextualLogger{
		ctx:    cl.ctx,
		logger: cl.logger.WithWorker(index),
	}
}
