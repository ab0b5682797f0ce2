package composition

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kingrea/cortex/internal/plugin"
	"github.com/kingrea/cortex/internal/stage"
)

type widthArgs struct {
	Dim int     `help:"latent width"`
	LR  float64 `kwarg:"lr" help:"learning rate"`
}

func newRegistry(t *testing.T) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry()
	reg.MustRegister(stage.KindBuild, plugin.Descriptor{
		Name: "encoder",
		Args: widthArgs{Dim: 4, LR: 0.1},
		Nets: []string{"net"},
		Build: func(b *stage.Build, kw stage.Kwargs) error {
			dim, err := kw.Int("dim")
			if err != nil {
				return err
			}
			return b.SetNet("net", dim)
		},
	})
	reg.MustRegister(stage.KindRoutine, plugin.Descriptor{
		Name:   "classify",
		Args:   widthArgs{Dim: 8, LR: 0.2},
		Inputs: []string{"image"},
		Nets:   []string{"net"},
		Vars:   []string{"labels"},
		Run: func(r *stage.Routine, kw stage.Kwargs) (stage.Outputs, error) {
			return stage.Outputs{}, nil
		},
	})
	return reg
}

func lookup(t *testing.T, reg *plugin.Registry, kind stage.Kind, name string) *plugin.Descriptor {
	t.Helper()
	desc, err := reg.Lookup(kind, name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return desc
}

func TestAttachRejectsUnknownAliasTarget(t *testing.T) {
	reg := newRegistry(t)
	c := New("test")
	r := lookup(t, reg, stage.KindRoutine, "classify").NewRoutine("", map[string]string{"decoder": "dec"}, nil)
	if err := c.AttachRoutine("", r); !errors.Is(err, ErrUnknownAliasTarget) {
		t.Fatalf("expected ErrUnknownAliasTarget, got %v", err)
	}
	b := lookup(t, reg, stage.KindBuild, "encoder").NewBuild(map[string]string{"labels": "y"})
	if err := c.AttachBuild("enc", b); !errors.Is(err, ErrUnknownAliasTarget) {
		t.Fatalf("builds have no vars; expected ErrUnknownAliasTarget, got %v", err)
	}
}

func TestAttachRejectsDuplicateKeys(t *testing.T) {
	reg := newRegistry(t)
	c := New("test")
	desc := lookup(t, reg, stage.KindRoutine, "classify")
	if err := c.AttachRoutine("", desc.NewRoutine("", nil, nil)); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := c.AttachRoutine("classify", desc.NewRoutine("", nil, nil)); !errors.Is(err, ErrDuplicateStage) {
		t.Fatalf("expected ErrDuplicateStage, got %v", err)
	}
}

func TestCollectKwargsKeepsFirstDefault(t *testing.T) {
	reg := newRegistry(t)
	c := New("test")
	if err := c.AttachBuild("enc", lookup(t, reg, stage.KindBuild, "encoder").NewBuild(nil)); err != nil {
		t.Fatalf("attach build: %v", err)
	}
	r := lookup(t, reg, stage.KindRoutine, "classify").NewRoutine("", map[string]string{"dim": "classify_dim"}, nil)
	if err := c.AttachRoutine("", r); err != nil {
		t.Fatalf("attach routine: %v", err)
	}
	c.CollectKwargs()
	c.CollectHelp()

	want := map[string]any{"dim": 4, "lr": 0.1, "classify_dim": 8}
	if got := c.KwargsMap(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected kwargs %v", got)
	}
	if v, err := r.Kwargs.Get("dim"); err != nil || v != 8 {
		t.Fatalf("aliased kwarg should resolve to classify_dim: %v %v", v, err)
	}
	if help := c.HelpMap(); help["classify_dim"] != "latent width" || help["lr"] != "learning rate" {
		t.Fatalf("unexpected help %v", help)
	}
}

func TestUnpackArgsRoutesToEveryDeclaringStage(t *testing.T) {
	reg := newRegistry(t)
	c := New("test")
	_ = c.AttachBuild("enc", lookup(t, reg, stage.KindBuild, "encoder").NewBuild(nil))
	_ = c.AttachRoutine("", lookup(t, reg, stage.KindRoutine, "classify").NewRoutine("", map[string]string{"dim": "classify_dim"}, nil))

	args := c.UnpackArgs(map[string]any{"lr": 0.5, "dim": 16, "classify_dim": 2, "unused": true})
	if !reflect.DeepEqual(args.Builds["enc"], stage.Kwargs{"dim": 16, "lr": 0.5}) {
		t.Fatalf("unexpected build args %v", args.Builds["enc"])
	}
	if !reflect.DeepEqual(args.Routines["classify"], stage.Kwargs{"dim": 2, "lr": 0.5}) {
		t.Fatalf("unexpected routine args %v", args.Routines["classify"])
	}
}

func TestBuildResourcesStoresNets(t *testing.T) {
	reg := newRegistry(t)
	c := New("test")
	_ = c.AttachBuild("enc", lookup(t, reg, stage.KindBuild, "encoder").NewBuild(map[string]string{"net": "encoder"}))
	c.CollectKwargs()
	if err := c.BuildResources(c.UnpackArgs(map[string]any{"dim": 12})); err != nil {
		t.Fatalf("build resources: %v", err)
	}
	if v, ok := c.Nets.Get("encoder"); !ok || v != 12 {
		t.Fatalf("expected encoder net to be built, got %v %v", v, ok)
	}
}

func TestCheckFlagsWrongKindAndUnknownSteps(t *testing.T) {
	reg := newRegistry(t)
	c := New("test")
	misplaced := lookup(t, reg, stage.KindBuild, "encoder").NewRoutine("enc_as_routine", nil, nil)
	if err := c.AttachRoutine("", misplaced); err != nil {
		t.Fatalf("attach: %v", err)
	}
	c.AddTrainProcedure("main", stage.Step{Routine: "missing", Repeat: 1})
	err := c.Check()
	if !errors.Is(err, ErrCheckFailed) {
		t.Fatalf("expected ErrCheckFailed, got %v", err)
	}
}

func TestProceduresFallBackToTrainForEval(t *testing.T) {
	c := New("test")
	c.AddTrainProcedure("main", stage.Step{Routine: "a", Repeat: 3})
	proc, ok := c.Procedure(0, false)
	if !ok || proc.Name != "main" || proc.Steps[0].Repeat != 3 {
		t.Fatalf("unexpected eval fallback %+v %v", proc, ok)
	}
	c.AddEvalProcedure("eval", stage.Step{Routine: "a"})
	if proc, _ := c.Procedure(0, false); proc.Name != "eval" {
		t.Fatalf("expected eval procedure, got %s", proc.Name)
	}
	if _, ok := c.Procedure(1, true); ok {
		t.Fatal("expected out-of-range procedure")
	}
}

func TestDiscoverDropsFailingModels(t *testing.T) {
	reg := newRegistry(t)
	reg.MustRegister(stage.KindModel, plugin.Descriptor{
		Name: "good",
		Compose: func(reg *plugin.Registry, c plugin.Composer) error {
			desc, err := reg.Lookup(stage.KindRoutine, "classify")
			if err != nil {
				return err
			}
			if err := c.AttachRoutine("", desc.NewRoutine("", nil, nil)); err != nil {
				return err
			}
			c.AddTrainProcedure("main", stage.Step{Routine: "classify", Repeat: 1})
			return nil
		},
	})
	reg.MustRegister(stage.KindModel, plugin.Descriptor{
		Name: "bad",
		Compose: func(reg *plugin.Registry, c plugin.Composer) error {
			c.AddTrainProcedure("main", stage.Step{Routine: "nothing", Repeat: 1})
			return nil
		},
	})
	found := Discover(reg, zerolog.Nop())
	if _, ok := found["good"]; !ok {
		t.Fatal("expected good model to be discovered")
	}
	if _, ok := found["bad"]; ok {
		t.Fatal("expected bad model to be dropped")
	}
}

func TestResetClearsRoutinesAndResults(t *testing.T) {
	reg := newRegistry(t)
	c := New("test")
	r := lookup(t, reg, stage.KindRoutine, "classify").NewRoutine("", nil, nil)
	_ = c.AttachRoutine("", r)
	r.AddResult("acc", 1)
	c.Results.Append("acc", 1)
	c.RecordLoss("net", 0.2)
	c.Reset()
	if len(r.Results()) != 0 || len(c.Results.Keys()) != 0 || len(c.Losses()) != 0 {
		t.Fatal("expected reset to clear routine state, losses and results")
	}
}
