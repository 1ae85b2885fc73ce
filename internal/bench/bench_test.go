package bench

import (
	"bytes"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"

	"gendb/internal/http"
	"gendb/pkg/config"
	"gendb/pkg/store"
)

func TestRun(t *testing.T) {
	var calls atomic.Int64
	res := Run(10, 3, func(g, i int) error {
		if calls.Add(1)%5 == 0 {
			return errors.New("boom")
		}
		return nil
	})

	if res.TotalOps != 10 || calls.Load() != 10 {
		t.Fatalf("Expected 10 operations, got %d (%d calls)", res.TotalOps, calls.Load())
	}
	if res.SuccessfulOps != 8 || res.FailedOps != 2 {
		t.Fatalf("Expected 8 successful and 2 failed, got %+v", res)
	}
	if res.MinLatency > res.AvgLatency || res.AvgLatency > res.MaxLatency {
		t.Fatalf("Expected min <= avg <= max, got %+v", res)
	}
}

func TestSuite(t *testing.T) {
	opts := store.DefaultOptions()
	opts.Maintenance.Enabled = false
	opts.DefaultMode = store.DiskAtomicNoFlush
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.New(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	srv := httptest.NewServer(http.NewServer(st, st.Metrics(), config.Default().Server).Handler())
	defer srv.Close()

	var out bytes.Buffer
	if err := Suite(&out, NewClient(srv.URL), 20, 4); err != nil {
		t.Fatalf("Suite failed: %v", err)
	}
	if strings.Count(out.String(), "Failed: 0\n") != 4 || !strings.Contains(out.String(), "Benchmark Complete") {
		t.Fatalf("Unexpected report:\n%s", out.String())
	}

	if _, _, err := NewClient(srv.URL).Get("bench_0_3"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
}
