package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDispatch(t *testing.T) {
	before := testutil.ToFloat64(JobsDispatched.WithLabelValues("serial"))
	RecordDispatch("serial", 0)
	RecordDispatch("parallel", 10*time.Millisecond)

	if got := testutil.ToFloat64(JobsDispatched.WithLabelValues("serial")); got != before+1 {
		t.Errorf("expected serial dispatches %v, got %v", before+1, got)
	}
}

func TestRecordMerge(t *testing.T) {
	before := testutil.ToFloat64(MergedBytes)
	RecordMerge("drain", 4096)

	if got := testutil.ToFloat64(MergedBytes); got != before+4096 {
		t.Errorf("expected merged bytes %v, got %v", before+4096, got)
	}
}

func TestWriteTextfile(t *testing.T) {
	WastedBytes.Set(2048)
	path := filepath.Join(t.TempDir(), "cookfarm.prom")

	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "cookfarm_wasted_bytes 2048") {
		t.Errorf("textfile missing wasted bytes gauge:\n%s", data)
	}

	if err := WriteTextfile(""); err != nil {
		t.Errorf("empty path should be a no-op, got %v", err)
	}
}
