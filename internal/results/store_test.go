package results

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("memory", "")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	if store == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	if _, err := NewStore("unknown", ""); err == nil {
		t.Fatal("expected unsupported store error")
	}
}

func TestMemoryStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	acc := NewAccumulator()
	acc.UpdateGroup("losses", map[string]float64{"linear": 0.4})
	run := Run{ID: "run-1", Model: "linear_regression", Epoch: 2, Train: acc.Snapshot()}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	loaded, ok, err := store.GetRun(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if loaded.Epoch != 2 || loaded.Train.Groups["losses"]["linear"][0] != 0.4 {
		t.Fatalf("unexpected run: %+v", loaded)
	}
	ids, err := store.ListRuns(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "run-1" {
		t.Fatalf("unexpected run ids %v (%v)", ids, err)
	}
	if _, ok, _ := store.GetRun(ctx, "missing"); ok {
		t.Fatal("expected missing run")
	}
}

func TestDecodeRunRejectsForeignVersion(t *testing.T) {
	if _, err := DecodeRun([]byte(`{"schema_version": 99, "id": "x"}`)); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestRunEncodingKeepsNonFiniteValues(t *testing.T) {
	run := Run{ID: "nan", Train: Snapshot{Values: map[string][]float64{"loss": {1, math.NaN(), math.Inf(1)}}}}
	payload, err := EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRun(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	loss := decoded.Train.Values["loss"]
	if len(loss) != 3 || loss[0] != 1 || !math.IsNaN(loss[1]) || !math.IsInf(loss[2], 1) {
		t.Fatalf("unexpected decoded history: %v", loss)
	}
}
