//go:build sqlite

package results

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	run := Run{ID: "r1", Model: "linear_regression", Epoch: 1, Train: Snapshot{Values: map[string][]float64{"mse": {1, 0.5}}}}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	run.Epoch = 2
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("overwrite run: %v", err)
	}
	loaded, ok, err := store.GetRun(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if loaded.Epoch != 2 || len(loaded.Train.Values["mse"]) != 2 {
		t.Fatalf("unexpected run: %+v", loaded)
	}
	ids, err := store.ListRuns(ctx)
	if err != nil || len(ids) != 1 {
		t.Fatalf("list runs: %v %v", ids, err)
	}
}
