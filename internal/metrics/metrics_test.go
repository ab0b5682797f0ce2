package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("new collectors: %v", err)
	}
	c.RecordStep("linear_regression", "train", 12*time.Millisecond)
	c.RecordStep("linear_regression", "train", 8*time.Millisecond)
	c.RecordRoutine("linear_regression", "regression", time.Millisecond)
	c.RecordLoss("linear_regression", "linear", 0.25)
	c.RecordAnomaly("linear_regression", "regression")
	c.RecordHTTPRequest("GET", "/results", 200)

	if got := testutil.ToFloat64(c.steps.WithLabelValues("linear_regression", "train")); got != 2 {
		t.Fatalf("expected 2 steps, got %v", got)
	}
	if got := testutil.ToFloat64(c.losses.WithLabelValues("linear_regression", "linear")); got != 0.25 {
		t.Fatalf("expected loss gauge 0.25, got %v", got)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestDefaultIsIdempotent(t *testing.T) {
	if Default() != Default() {
		t.Fatal("expected the same default collectors")
	}
}
