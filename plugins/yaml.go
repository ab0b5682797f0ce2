package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// BlueprintFile pairs a parsed blueprint with where it came from. Path is the
// file for single-document sources and "<file>#<n>" when a file or script
// yields several blueprints.
type BlueprintFile struct {
	Blueprint Blueprint
	Path      string
}

// ParseBlueprintYAML decodes exactly one blueprint. Use ParseBlueprintStream
// for payloads that hold several "---" separated documents.
func ParseBlueprintYAML(data []byte) (Blueprint, error) {
	bps, err := ParseBlueprintStream(data)
	if err != nil {
		return Blueprint{}, err
	}
	if len(bps) != 1 {
		return Blueprint{}, fmt.Errorf("blueprint: expected one document, found %d", len(bps))
	}
	return bps[0], nil
}

// ParseBlueprintStream decodes every document in data. Empty documents are
// skipped, unknown fields are rejected, and each blueprint is validated and
// normalized before it is returned.
func ParseBlueprintStream(data []byte) ([]Blueprint, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("blueprint: payload is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var out []Blueprint
	for doc := 1; ; doc++ {
		var bp Blueprint
		err := dec.Decode(&bp)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("blueprint: document %d: %w", doc, err)
		}
		if bp.empty() {
			continue
		}
		if err := bp.Validate(); err != nil {
			return nil, fmt.Errorf("blueprint: document %d: %w", doc, err)
		}
		out = append(out, bp.Normalized())
	}
	if len(out) == 0 {
		return nil, errors.New("blueprint: payload holds no documents")
	}
	return out, nil
}

func (b Blueprint) empty() bool {
	return b.Name == "" && b.Description == "" && len(b.Builds) == 0 && len(b.Routines) == 0 &&
		len(b.Train) == 0 && len(b.Eval) == 0 && len(b.Defaults) == 0
}

// LoadBlueprintFile reads every blueprint document in one YAML file.
func LoadBlueprintFile(path string) ([]BlueprintFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("blueprint: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("blueprint: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blueprint: read %s: %w", path, err)
	}
	bps, err := ParseBlueprintStream(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sourced(filepath.Clean(path), bps), nil
}

// sourced labels blueprints with their origin, numbering them when one
// source produced several.
func sourced(path string, bps []Blueprint) []BlueprintFile {
	files := make([]BlueprintFile, len(bps))
	for i, bp := range bps {
		label := path
		if len(bps) > 1 {
			label = fmt.Sprintf("%s#%d", path, i+1)
		}
		files[i] = BlueprintFile{Blueprint: bp, Path: label}
	}
	return files
}

// LoadBlueprintDir parses every *.yaml and *.yml file in dir, sorted by path.
// A missing directory holds no blueprints.
func LoadBlueprintDir(dir string) ([]BlueprintFile, error) {
	names, err := blueprintSources(dir, isYAMLFile)
	if err != nil {
		return nil, err
	}
	var files []BlueprintFile
	for _, path := range names {
		loaded, err := LoadBlueprintFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, loaded...)
	}
	return files, nil
}

// blueprintSources lists the regular files in dir accepted by keep, sorted.
func blueprintSources(dir string, keep func(name string) bool) ([]string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blueprint: read %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !keep(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func isYAMLFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
