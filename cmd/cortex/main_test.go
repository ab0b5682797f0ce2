package main

import "testing"

func TestKeyValueFlagDecodesValues(t *testing.T) {
	kv := keyValueFlag{}
	for _, raw := range []string{"target_scale=0.5", "dim_in=3", "name=demo"} {
		if err := kv.Set(raw); err != nil {
			t.Fatalf("set %q: %v", raw, err)
		}
	}
	if kv["target_scale"] != 0.5 || kv["dim_in"] != 3 || kv["name"] != "demo" {
		t.Fatalf("unexpected overrides %v", kv)
	}
	if got := kv.String(); got != "dim_in=3, name=demo, target_scale=0.5" {
		t.Fatalf("unexpected string %q", got)
	}
	if err := kv.Set("missing"); err == nil {
		t.Fatal("expected error without '='")
	}
}

func TestDeferredExitQuitsBeforeExiting(t *testing.T) {
	quits := 0
	exit := &deferredExit{quit: func() { quits++ }}
	if exit.Code() != 0 {
		t.Fatalf("expected no exit requested, got %d", exit.Code())
	}
	exit.request(1)
	exit.request(2)
	if exit.Code() != 1 {
		t.Fatalf("expected the first exit code to stick, got %d", exit.Code())
	}
	if quits != 2 {
		t.Fatalf("expected every request to quit the program, got %d", quits)
	}
}
