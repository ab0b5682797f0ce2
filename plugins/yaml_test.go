package plugins

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kingrea/cortex/internal/stage"
)

const sampleBlueprint = `name: two_heads
description: shared encoder with two heads
builds:
  - plugin: encoder
    aliases:
      net: shared
routines:
  - plugin: head
    name: head_a
    aliases:
      net: shared
    inputs:
      x: data.x
      pair: [data.x, data.y]
train:
  - name: main
    steps:
      - routine: head_a
        repeat: 2
defaults:
  data:
    batch_size: 16
`

func TestParseBlueprintYAML(t *testing.T) {
	bp, err := ParseBlueprintYAML([]byte(sampleBlueprint))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if bp.Name != "two_heads" || bp.Routines[0].key() != "head_a" {
		t.Fatalf("unexpected blueprint: %+v", bp)
	}
	inputs := bp.Routines[0].Inputs
	if !reflect.DeepEqual(inputs["x"], stage.Key("data.x")) || !reflect.DeepEqual(inputs["pair"], stage.KeyList("data.x", "data.y")) {
		t.Fatalf("unexpected inputs: %+v", inputs)
	}
	if bp.Train[0].Steps[0].Repeat != 2 || bp.Defaults["data"]["batch_size"] != 16 {
		t.Fatalf("unexpected procedure or defaults: %+v", bp)
	}
}

func TestParseBlueprintYAMLErrors(t *testing.T) {
	if _, err := ParseBlueprintYAML([]byte("")); err == nil {
		t.Fatalf("expected empty payload to fail validation")
	}
	if _, err := ParseBlueprintYAML([]byte("name: x\nroutines:\n  - plugin: a\n")); err == nil {
		t.Fatalf("expected missing train procedure to fail validation")
	}
	dup := "name: x\nroutines:\n  - plugin: a\n  - plugin: a\ntrain:\n  - steps: [{routine: a}]\n"
	if _, err := ParseBlueprintYAML([]byte(dup)); err == nil {
		t.Fatalf("expected duplicate routine keys to fail validation")
	}
}

func TestLoadBlueprintDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "two_heads.yaml")
	if err := os.WriteFile(path, []byte(sampleBlueprint), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	files, err := LoadBlueprintDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 blueprint, got %d", len(files))
	}
	if files[0].Path != path {
		t.Fatalf("expected path %s, got %s", path, files[0].Path)
	}
}

func TestLoadBlueprintDirMissing(t *testing.T) {
	files, err := LoadBlueprintDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if files != nil {
		t.Fatalf("expected nil slice for missing dir, got %v", files)
	}
}

func TestParseBlueprintStreamReadsEveryDocument(t *testing.T) {
	second := "name: solo\nroutines:\n  - plugin: head\ntrain:\n  - steps: [{routine: head}]\n"
	stream := sampleBlueprint + "---\n---\n" + second
	bps, err := ParseBlueprintStream([]byte(stream))
	if err != nil {
		t.Fatalf("parse stream: %v", err)
	}
	if len(bps) != 2 || bps[0].Name != "two_heads" || bps[1].Name != "solo" {
		t.Fatalf("unexpected blueprints: %+v", bps)
	}
	if _, err := ParseBlueprintYAML([]byte(stream)); err == nil {
		t.Fatalf("expected single-document parse to reject a stream")
	}

	root := t.TempDir()
	path := filepath.Join(root, "bundle.yml")
	if err := os.WriteFile(path, []byte(stream), 0644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	files, err := LoadBlueprintDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 || files[0].Path != path+"#1" || files[1].Path != path+"#2" {
		t.Fatalf("unexpected sources: %+v", files)
	}
}

func TestParseBlueprintStreamRejectsUnknownFields(t *testing.T) {
	typo := "name: x\nroutine:\n  - plugin: a\ntrain:\n  - steps: [{routine: a}]\n"
	if _, err := ParseBlueprintStream([]byte(typo)); err == nil {
		t.Fatalf("expected unknown field to fail decoding")
	}
	if _, err := ParseBlueprintStream([]byte("---\n---\n")); err == nil {
		t.Fatalf("expected stream without documents to fail")
	}
}
