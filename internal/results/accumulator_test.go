package results

import (
	"math"
	"reflect"
	"testing"
)

func TestAccumulatorMergesGroupsAcrossSteps(t *testing.T) {
	acc := NewAccumulator()
	acc.UpdateGroup("losses", map[string]float64{"enc": 0.5})
	acc.UpdateGroup("losses", map[string]float64{"enc": 0.3})
	if got := acc.Group("losses"); !reflect.DeepEqual(got, map[string][]float64{"enc": {0.5, 0.3}}) {
		t.Fatalf("unexpected losses: %v", got)
	}
	acc.Clear()
	if got := acc.Group("losses"); len(got) != 0 {
		t.Fatalf("expected empty group after clear, got %v", got)
	}
	if snap := acc.Snapshot(); len(snap.Values) != 0 || len(snap.Groups) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestAccumulatorUpdateHandlesScalarsAndNestedMaps(t *testing.T) {
	acc := NewAccumulator()
	if err := acc.Update(map[string]any{
		"accuracy": 0.9,
		"count":    3,
		"time":     map[string]any{"classify": float32(0.25)},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := acc.Update(map[string]any{"accuracy": math.NaN()}); err != nil {
		t.Fatalf("update: %v", err)
	}
	history := acc.History("accuracy")
	if len(history) != 2 || history[0] != 0.9 || !math.IsNaN(history[1]) {
		t.Fatalf("unexpected accuracy history: %v", history)
	}
	if got := acc.Group("time")["classify"]; len(got) != 1 || got[0] != 0.25 {
		t.Fatalf("unexpected time group: %v", got)
	}
	if !reflect.DeepEqual(acc.Keys(), []string{"accuracy", "count"}) {
		t.Fatalf("unexpected keys: %v", acc.Keys())
	}
	if err := acc.Update(map[string]any{"bad": "text"}); err == nil {
		t.Fatal("expected error for non-numeric value")
	}
}

func TestAccumulatorSnapshotIsACopy(t *testing.T) {
	acc := NewAccumulator()
	acc.Append("loss", 1)
	snap := acc.Snapshot()
	acc.Append("loss", 2)
	if len(snap.Values["loss"]) != 1 {
		t.Fatalf("snapshot should not observe later appends: %v", snap.Values)
	}
	if last, ok := acc.Last("loss"); !ok || last != 2 {
		t.Fatalf("unexpected last value %v %v", last, ok)
	}
}
