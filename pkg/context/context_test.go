package context_test

import (
	"context"
	"testing"
	"time"

	pcontext "github.com/cookfarm/cookfarm/pkg/context"
)

func TestValuesAreIndependent(t *testing.T) {
	start := time.Now().Add(-time.Second)
	ctx := pcontext.WithRunID(context.Background(), "run-1")
	ctx = pcontext.WithWorker(ctx, 3)
	ctx = pcontext.WithJob(ctx, "Tex/a.png")
	ctx = pcontext.WithOperation(ctx, "sync")
	ctx = pcontext.WithStartTime(ctx, start)

	if got := pcontext.GetRunID(ctx); got != "run-1" {
		t.Errorf("GetRunID() = %q, want run-1", got)
	}
	if got := pcontext.GetWorker(ctx); got != 3 {
		t.Errorf("GetWorker() = %d, want 3", got)
	}
	if got := pcontext.GetJob(ctx); got != "Tex/a.png" {
		t.Errorf("GetJob() = %q, want Tex/a.png", got)
	}
	if got := pcontext.GetOperation(ctx); got != "sync" {
		t.Errorf("GetOperation() = %q, want sync", got)
	}
	if got, ok := pcontext.GetStartTime(ctx); !ok || !got.Equal(start) {
		t.Errorf("GetStartTime() = %v, %v", got, ok)
	}
	if d := pcontext.GetDuration(ctx); d < time.Second {
		t.Errorf("GetDuration() = %v, want at least 1s", d)
	}
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	if got := pcontext.GetRunID(ctx); got != "unknown-run" {
		t.Errorf("GetRunID() = %q", got)
	}
	if got := pcontext.GetWorker(ctx); got != pcontext.NoWorker {
		t.Errorf("GetWorker() = %d", got)
	}
	if got := pcontext.GetJob(ctx); got != "" {
		t.Errorf("GetJob() = %q", got)
	}
	if got := pcontext.GetOperation(ctx); got != "unknown-operation" {
		t.Errorf("GetOperation() = %q", got)
	}
	if d := pcontext.GetDuration(ctx); d != 0 {
		t.Errorf("GetDuration() = %v", d)
	}
}

func TestWithRunID_GeneratesWhenEmpty(t *testing.T) {
	ctx := pcontext.WithRunID(context.Background(), "")
	if got := pcontext.GetRunID(ctx); got == "" || got == "unknown-run" {
		t.Errorf("expected a generated run id, got %q", got)
	}
}
