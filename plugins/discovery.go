package plugins

import (
	"fmt"

	"github.com/kingrea/cortex/internal/plugin"
)

// RegisterBlueprints loads YAML and Go blueprints from dirs and registers
// each as a model plugin.
func RegisterBlueprints(reg *plugin.Registry, dirs ...string) error {
	if reg == nil {
		return nil
	}
	seen := make(map[string]string)
	for _, dir := range dirs {
		files, err := loadAllBlueprintFiles(dir)
		if err != nil {
			return err
		}
		for _, file := range files {
			bp := file.Blueprint
			if existing, ok := seen[bp.Name]; ok {
				return fmt.Errorf("blueprint: duplicate model %s (%s and %s)", bp.Name, existing, file.Path)
			}
			seen[bp.Name] = file.Path
			if err := reg.RegisterModel(bp.Descriptor()); err != nil {
				return fmt.Errorf("blueprint: register %s from %s: %w", bp.Name, file.Path, err)
			}
		}
	}
	return nil
}

func loadAllBlueprintFiles(dir string) ([]BlueprintFile, error) {
	yamlFiles, err := LoadBlueprintDir(dir)
	if err != nil {
		return nil, err
	}
	goFiles, err := LoadGoBlueprintDir(dir)
	if err != nil {
		return nil, err
	}
	return append(yamlFiles, goFiles...), nil
}
