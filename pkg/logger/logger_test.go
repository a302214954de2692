package logger_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pcontext "github.com/cookfarm/cookfarm/pkg/context"
	"github.com/cookfarm/cookfarm/pkg/logger"
)

func TestCreateLogger(t *testing.T) {
	log := logger.CreateLogger("", "info")
	if log == nil {
		t.Fatal("expected logger to be created")
	}
}

func TestCreateLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  []string
		skip  []string
	}{
		{"debug", []string{"DEBUG", "INFO", "WARN", "ERROR"}, nil},
		{"info", []string{"INFO", "WARN", "ERROR"}, []string{"DEBUG"}},
		{"warn", []string{"WARN", "ERROR"}, []string{"DEBUG", "INFO"}},
		{"error", []string{"ERROR"}, []string{"DEBUG", "INFO", "WARN"}},
		{"bogus", []string{"INFO"}, []string{"DEBUG"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.CreateLoggerWithOutput("", tt.level, &buf)

			log.Debug("message")
			log.Info("message")
			log.Warn("message")
			log.Error("message")

			output := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(output, w+":") {
					t.Errorf("expected %s line at level %s:\n%s", w, tt.level, output)
				}
			}
			for _, s := range tt.skip {
				if strings.Contains(output, s+":") {
					t.Errorf("unexpected %s line at level %s:\n%s", s, tt.level, output)
				}
			}
		})
	}
}

func TestLogger_WithWorker(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.WithWorker(2).Info("cooking")

	if !strings.Contains(buf.String(), "INFO: [W2] cooking") {
		t.Errorf("expected worker prefix, got %q", buf.String())
	}
}

func TestLogger_WithTarget(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.WithWorker(0).WithTarget("Tex/a.png").Warn("slow")

	if !strings.Contains(buf.String(), "[W0] [Tex/a.png] slow") {
		t.Errorf("expected worker and target prefix, got %q", buf.String())
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.Error("merge failed",
		logger.WithField("store", "mips"),
		logger.WithError(errors.New("boom")))

	output := buf.String()
	if !strings.Contains(output, "{error=boom, store=mips}") {
		t.Errorf("expected sorted fields, got %q", output)
	}
}

func TestLogger_Success(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.Success("cook finished")

	if !strings.Contains(buf.String(), "✅ cook finished") {
		t.Errorf("expected success marker, got %q", buf.String())
	}
}

func TestCreateLoggerWithOutput_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput(path, "info", &buf)

	log.Info("Worker started")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Worker started") || !strings.Contains(buf.String(), "Worker started") {
		t.Errorf("expected line in both outputs: file=%q buf=%q", data, buf.String())
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	base := logger.CreateLoggerWithOutput("", "info", &buf)

	ctx := pcontext.WithRunID(context.Background(), "0123456789abcdef")
	ctx = pcontext.WithWorker(ctx, 4)
	ctx = pcontext.WithJob(ctx, "Mesh/rock.mesh")
	ctx = pcontext.WithOperation(ctx, "sync")

	logger.WithContext(ctx, base).Info("merged")

	output := buf.String()
	for _, want := range []string{"[W4]", "[Mesh/rock.mesh]", "run=01234567", "operation=sync"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q: %q", want, output)
		}
	}
}

func TestNop(t *testing.T) {
	log := logger.Nop()
	log.Error("discarded")
	log.WithWorker(1).Info("discarded")
}
