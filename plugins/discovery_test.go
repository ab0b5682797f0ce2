package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kingrea/cortex/internal/composition"
	"github.com/kingrea/cortex/internal/plugin"
	"github.com/kingrea/cortex/internal/stage"
)

type headArgs struct {
	Scale float64 `help:"output scale"`
}

func testRegistry(t *testing.T) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry()
	reg.MustRegister(stage.KindBuild, plugin.Descriptor{
		Name: "encoder",
		Nets: []string{"net"},
		Build: func(b *stage.Build, kw stage.Kwargs) error {
			return b.SetNet("net", "weights")
		},
	})
	reg.MustRegister(stage.KindRoutine, plugin.Descriptor{
		Name:   "head",
		Args:   headArgs{Scale: 1},
		Inputs: []string{"x", "pair"},
		Nets:   []string{"net"},
		Run: func(r *stage.Routine, kw stage.Kwargs) (stage.Outputs, error) {
			return stage.Outputs{}, nil
		},
	})
	return reg
}

func TestRegisterBlueprintsComposesModels(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "two_heads.yaml"), []byte(sampleBlueprint), 0644); err != nil {
		t.Fatalf("write blueprint: %v", err)
	}
	broken := "name: broken\nroutines:\n  - plugin: encoder\ntrain:\n  - steps: [{routine: encoder}]\n"
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(broken), 0644); err != nil {
		t.Fatalf("write blueprint: %v", err)
	}
	reg := testRegistry(t)
	if err := RegisterBlueprints(reg, dir); err != nil {
		t.Fatalf("register blueprints: %v", err)
	}

	found := composition.Discover(reg, zerolog.Nop())
	c, ok := found["two_heads"]
	if !ok {
		t.Fatalf("expected two_heads to compose, found %v", found)
	}
	if _, ok := found["broken"]; ok {
		t.Fatal("a build plugin bound as a routine should fail the check")
	}
	c.CollectKwargs()
	if err := c.BuildResources(c.UnpackArgs(c.KwargsMap())); err != nil {
		t.Fatalf("build resources: %v", err)
	}
	if v, ok := c.Nets.Get("shared"); !ok || v != "weights" {
		t.Fatalf("expected shared net, got %v", v)
	}
	if c.Defaults("data")["batch_size"] != 16 {
		t.Fatalf("unexpected defaults %v", c.Defaults("data"))
	}
}

func TestRegisterBlueprintsRejectsDuplicates(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	for _, dir := range []string{first, second} {
		if err := os.WriteFile(filepath.Join(dir, "two_heads.yaml"), []byte(sampleBlueprint), 0644); err != nil {
			t.Fatalf("write blueprint: %v", err)
		}
	}
	if err := RegisterBlueprints(testRegistry(t), first, second); err == nil {
		t.Fatal("expected duplicate model error")
	}
}
