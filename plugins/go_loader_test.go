package plugins

import (
	"os"
	"path/filepath"
	"testing"
)

const goBlueprintSource = `package main

func Blueprints() ([]map[string]any, error) {
	return []map[string]any{
		{
			"name": "scripted",
			"routines": []map[string]any{
				{"plugin": "head", "inputs": map[string]any{"x": "data.x"}},
			},
			"train": []map[string]any{
				{"name": "main", "steps": []map[string]any{{"routine": "head", "repeat": 1}}},
			},
		},
	}, nil
}`

func TestLoadGoBlueprintDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scripted.go"), []byte(goBlueprintSource), 0644); err != nil {
		t.Fatalf("write blueprint: %v", err)
	}
	files, err := LoadGoBlueprintDir(dir)
	if err != nil {
		t.Fatalf("load go blueprints: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 blueprint, got %d", len(files))
	}
	if files[0].Blueprint.Name != "scripted" || files[0].Blueprint.Routines[0].Inputs["x"].String() != "data.x" {
		t.Fatalf("unexpected blueprint: %+v", files[0].Blueprint)
	}
}

func TestLoadGoBlueprintDirMissingFunc(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("write broken blueprint: %v", err)
	}
	if _, err := LoadGoBlueprintDir(dir); err == nil {
		t.Fatalf("expected error for missing Blueprints function")
	}
}

const goStreamSource = `package main

func Blueprints() string {
	return "name: first\nroutines: [{plugin: head}]\ntrain: [{steps: [{routine: head}]}]\n" +
		"---\n" +
		"name: second\nroutines: [{plugin: head}]\ntrain: [{steps: [{routine: head}]}]\n"
}`

func TestLoadGoBlueprintDirYAMLStream(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.go")
	if err := os.WriteFile(path, []byte(goStreamSource), 0644); err != nil {
		t.Fatalf("write blueprint: %v", err)
	}
	files, err := LoadGoBlueprintDir(dir)
	if err != nil {
		t.Fatalf("load go blueprints: %v", err)
	}
	if len(files) != 2 || files[0].Blueprint.Name != "first" || files[1].Blueprint.Name != "second" {
		t.Fatalf("unexpected blueprints: %+v", files)
	}
	if files[1].Path != path+"#2" {
		t.Fatalf("expected numbered source, got %s", files[1].Path)
	}
}
