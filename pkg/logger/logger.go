// Package logger provides leveled logging with job and worker prefixes
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)
	WithTarget(target string) Logger
	WithWorker(index int) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// WithError creates an error field
func WithError(err error) Field {
	return Field{Key: "error", Value: err}
}

const (
	targetKey = "target"
	workerKey = "worker"
	noWorker  = -1
)

// TargetLogger implements Logger with job and worker awareness
type TargetLogger struct {
	logger     *logrus.Logger
	targetName string
	worker     int
	mu         sync.RWMutex
}

// CustomFormatter formats logs with colors and prefixes
type CustomFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)

	var levelColor *color.Color
	var levelText string

	switch entry.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.InfoLevel:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	default:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	}

	data := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}

	prefix := ""
	if w, ok := data[workerKey]; ok {
		prefix += fmt.Sprintf("[W%v] ", w)
		delete(data, workerKey)
	}
	if target, ok := data[targetKey]; ok {
		if f.DisableColors {
			prefix += fmt.Sprintf("[%s] ", target)
		} else {
			prefix += fmt.Sprintf("[%s] ", color.New(color.FgBlue).Sprint(target))
		}
		delete(data, targetKey)
	}

	var b strings.Builder
	if f.DisableColors {
		fmt.Fprintf(&b, "[%s] %s: %s%s", timestamp, levelText, prefix, entry.Message)
	} else {
		fmt.Fprintf(&b, "[%s] %s: %s%s", timestamp, levelColor.Sprint(levelText), prefix, entry.Message)
	}

	if len(data) > 0 {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
		}
		fields := " {" + strings.Join(parts, ", ") + "}"
		if f.DisableColors {
			b.WriteString(fields)
		} else {
			b.WriteString(color.New(color.FgWhite, color.Faint).Sprint(fields))
		}
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func newLogrus(logLevel string, output io.Writer, disableColors bool) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05.000",
		DisableColors:   disableColors,
	})

	if output != nil {
		log.SetOutput(output)
	}
	return log
}

// CreateLogger creates a console logger, optionally teeing into logFile
func CreateLogger(logFile string, logLevel string) Logger {
	var output io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			output = io.MultiWriter(os.Stdout, file)
		}
	}

	return &TargetLogger{
		logger: newLogrus(logLevel, output, false),
		worker: noWorker,
	}
}

// CreateLoggerWithOutput creates a logger with custom output and no colors.
// Worker processes use it so their log file stays plain text.
func CreateLoggerWithOutput(logFile string, logLevel string, output io.Writer) Logger {
	if output == nil {
		output = io.Discard
	}
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			output = io.MultiWriter(output, file)
		}
	}

	return &TargetLogger{
		logger: newLogrus(logLevel, output, true),
		worker: noWorker,
	}
}

// WithTarget creates a new logger with target context
func (l *TargetLogger) WithTarget(target string) Logger {
	return &TargetLogger{
		logger:     l.logger,
		targetName: target,
		worker:     l.worker,
	}
}

// WithWorker creates a new logger that prefixes lines with the worker index
func (l *TargetLogger) WithWorker(index int) Logger {
	return &TargetLogger{
		logger:     l.logger,
		targetName: l.targetName,
		worker:     index,
	}
}

func (l *TargetLogger) convertFields(fields []Field) logrus.Fields {
	result := make(logrus.Fields, len(fields)+2)
	if l.targetName != "" {
		result[targetKey] = l.targetName
	}
	if l.worker != noWorker {
		result[workerKey] = l.worker
	}
	for _, f := range fields {
		result[f.Key] = f.Value
	}
	return result
}

// Info logs an info message
func (l *TargetLogger) Info(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Info(message)
}

// Error logs an error message
func (l *TargetLogger) Error(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Error(message)
}

// Warn logs a warning message
func (l *TargetLogger) Warn(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Warn(message)
}

// Debug logs a debug message
func (l *TargetLogger) Debug(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Debug(message)
}

// Success logs a success message (info level with special formatting)
func (l *TargetLogger) Success(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Info("✅ " + message)
}

// Nop returns a logger that discards everything
func Nop() Logger {
	return CreateLoggerWithOutput("", "error", io.Discard)
}
