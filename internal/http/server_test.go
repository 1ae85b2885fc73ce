package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"

	"gendb/pkg/config"
	"gendb/pkg/dberrors"
	"gendb/pkg/metrics"
	"gendb/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	opts := store.DefaultOptions()
	opts.Maintenance.Enabled = false
	opts.WAL.SyncInterval = 0
	opts.Metrics = metrics.NewRegistry()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.New(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return NewServer(st, opts.Metrics, config.Default().Server), st
}

func do(t *testing.T, s *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rr := httptest.NewRecorder()
	s.createRouter().ServeHTTP(rr, req)
	return rr
}

func put(t *testing.T, s *Server, key, value string) {
	t.Helper()
	form := url.Values{}
	form.Set("key", key)
	form.Set("value", value)
	rr := do(t, s, http.MethodPut, "/api/string", strings.NewReader(form.Encode()))
	if rr.Code != http.StatusOK {
		t.Fatalf("put: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func decodeResp(t *testing.T, rr *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response JSON: %v, body=%s", err, rr.Body.String())
	}
	return resp
}

func TestHealthHandler(t *testing.T) {
	s, st := newTestServer(t)

	rr := do(t, s, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if resp := decodeResp(t, rr); resp.Status != StatusOK {
		t.Fatalf("expected status %s, got %s", StatusOK, resp.Status)
	}

	_ = st.Close()
	if rr := do(t, s, http.MethodGet, "/health", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after close, got %d", rr.Code)
	}
}

func TestPutGetDeleteFlow(t *testing.T) {
	s, _ := newTestServer(t)

	put(t, s, "foo", "bar")

	rr := do(t, s, http.MethodGet, "/api/string?key=foo", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if resp := decodeResp(t, rr); resp.Value != "bar" {
		t.Fatalf("get: expected value 'bar', got '%s'", resp.Value)
	}

	rr = do(t, s, http.MethodDelete, "/api/string?key=foo", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if resp := decodeResp(t, rr); resp.Status != StatusSuccess {
		t.Fatalf("delete: expected status %s, got %s", StatusSuccess, resp.Status)
	}

	if rr := do(t, s, http.MethodGet, "/api/string?key=foo", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get-after-delete: expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestScanHandler(t *testing.T) {
	s, _ := newTestServer(t)
	for _, k := range []string{"apple", "apricot", "banana", "blueberry", "cherry"} {
		put(t, s, k, "fruit-"+k)
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all", "", []string{"apple", "apricot", "banana", "blueberry", "cherry"}},
		{"range", "?from=apricot&to=cherry", []string{"apricot", "banana", "blueberry"}},
		{"prefix", "?prefix=b", []string{"banana", "blueberry"}},
		{"reverse limit", "?reverse=true&limit=2", []string{"cherry", "blueberry"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodGet, "/api/scan"+tt.query, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("scan: expected 200, got %d body=%s", rr.Code, rr.Body.String())
			}
			resp := decodeResp(t, rr)
			if len(resp.Items) != len(tt.want) {
				t.Fatalf("scan: expected %v, got %+v", tt.want, resp.Items)
			}
			for i, item := range resp.Items {
				if item.Key != tt.want[i] || item.Value != "fruit-"+tt.want[i] {
					t.Fatalf("scan: expected %s at %d, got %+v", tt.want[i], i, item)
				}
			}
		})
	}

	if rr := do(t, s, http.MethodGet, "/api/scan?limit=-1", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("scan: expected 400 for a bad limit, got %d", rr.Code)
	}
}

func TestAdminHandlers(t *testing.T) {
	s, st := newTestServer(t)
	put(t, s, "a", "1")

	for i := 0; i < 2; i++ {
		rr := do(t, s, http.MethodPost, "/admin/flush", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("flush: expected 200, got %d body=%s", rr.Code, rr.Body.String())
		}
		if resp := decodeResp(t, rr); resp.Done == nil || !*resp.Done {
			t.Fatalf("flush: expected done, got %+v", resp)
		}
		put(t, s, "a", "2")
	}

	rr := do(t, s, http.MethodPost, "/admin/compact", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("compact: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if resp := decodeResp(t, rr); resp.Done == nil || !*resp.Done {
		t.Fatalf("compact: expected a merge, got %+v", resp)
	}

	rr = do(t, s, http.MethodGet, "/admin/stats", nil)
	var stats store.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("stats: failed to decode: %v", err)
	}
	if stats.State != "open" || stats.Segments != st.Stats().Segments {
		t.Fatalf("stats: unexpected %+v", stats)
	}

	rr = do(t, s, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rr.Body.String(), "flushes_total") {
		t.Fatalf("metrics: expected flushes_total, got %s", rr.Body.String())
	}
}

func TestMissingParamsAndMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   io.Reader
		want   int
	}{
		{"put missing", http.MethodPut, "/api/string", strings.NewReader(""), http.StatusBadRequest},
		{"get missing", http.MethodGet, "/api/string", nil, http.StatusBadRequest},
		{"delete missing", http.MethodDelete, "/api/string", nil, http.StatusBadRequest},
		{"post health", http.MethodPost, "/health", nil, http.StatusMethodNotAllowed},
		{"get flush", http.MethodGet, "/admin/flush", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(t, s, tt.method, tt.target, tt.body); rr.Code != tt.want {
				t.Fatalf("expected %d, got %d body=%s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestWriteError_StatusMapping(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", errors.Wrapf(dberrors.ErrNotFound, "key %q", "k"), http.StatusNotFound},
		{"reserved key", dberrors.ErrReservedKey, http.StatusBadRequest},
		{"failed store", errors.Wrap(dberrors.ErrInvalidState, "store failed"), http.StatusServiceUnavailable},
		{"closed", dberrors.ErrClosed, http.StatusServiceUnavailable},
		{"allocation", dberrors.Allocationf("region capacity exhausted"), http.StatusInsufficientStorage},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.writeError(rr, tc.err)
			if rr.Code != tc.want {
				t.Fatalf("Expected %d, got %d body=%s", tc.want, rr.Code, rr.Body.String())
			}
			if resp := decodeResp(t, rr); resp.Error == "" {
				t.Fatal("Expected an error message in the response")
			}
		})
	}
}
