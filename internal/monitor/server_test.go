package monitor

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kingrea/cortex/internal/metrics"
	"github.com/kingrea/cortex/internal/results"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func TestHealthAndStatus(t *testing.T) {
	s := New(":0")
	s.SetStatus(Status{RunID: "r1", Model: "linear_regression", Mode: "train", Epoch: 2})

	if rr := serve(t, s, "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", rr.Code)
	}
	rr := serve(t, s, "/status")
	var st Status
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.RunID != "r1" || st.Epoch != 2 || st.UpdatedAt.IsZero() {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestResultsRoutes(t *testing.T) {
	acc := results.NewAccumulator()
	acc.Append("mse", 0.5)
	acc.Append("mse", math.NaN())
	acc.UpdateGroup("losses", map[string]float64{"linear": 0.25})

	s := New(":0")
	s.Attach("train", acc)

	rr := serve(t, s, "/results/train")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var snap results.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got := snap.Values["mse"]; len(got) != 2 || !math.IsNaN(got[1]) {
		t.Fatalf("unexpected mse history %v", got)
	}

	rr = serve(t, s, "/results/train/mse")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "NaN") {
		t.Fatalf("unexpected key response %d %s", rr.Code, rr.Body.String())
	}
	if rr := serve(t, s, "/results/train/missing"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing key, got %d", rr.Code)
	}
	if rr := serve(t, s, "/results/eval"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unattached phase, got %d", rr.Code)
	}

	rr = serve(t, s, "/groups/train/losses")
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode group: %v", err)
	}
	if snap.Groups["losses"]["linear"][0] != 0.25 {
		t.Fatalf("unexpected group %v", snap.Groups)
	}
}

func TestRunsRoutes(t *testing.T) {
	store := results.NewMemoryStore()
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.SaveRun(ctx, results.Run{ID: "abc", Model: "m", Epoch: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s := New(":0", WithStore(store))

	rr := serve(t, s, "/runs")
	if !strings.Contains(rr.Body.String(), "abc") {
		t.Fatalf("expected run id in listing: %s", rr.Body.String())
	}
	rr = serve(t, s, "/runs/abc")
	var run results.Run
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Model != "m" || run.Epoch != 1 {
		t.Fatalf("unexpected run %+v", run)
	}
	if rr := serve(t, s, "/runs/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", rr.Code)
	}
}

func TestMetricsEndpointAndRequestCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics.New: %v", err)
	}
	s := New(":0", WithMetrics(collectors, reg))

	serve(t, s, "/healthz")
	rr := serve(t, s, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "cortex_monitor_requests_total") {
		t.Fatalf("metrics output missing request counter:\n%s", rr.Body.String())
	}
	count, err := testutil.GatherAndCount(reg, "cortex_monitor_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count == 0 {
		t.Fatal("expected request counter series")
	}
}
