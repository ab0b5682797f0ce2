package stage

import (
	"errors"
	"reflect"
	"testing"

	"github.com/kingrea/cortex/internal/namespace"
)

type encoderArgs struct {
	DimIn        int     `help:"input width"`
	LearningRate float64 `kwarg:"lr" help:"step size"`
	Layers       []int
	Activation   string `kwarg:"activation,required"`
	internal     int
	Skipped      bool `kwarg:"-"`
}

func TestStructFieldsIntrospectsDefaultsAndHelp(t *testing.T) {
	fields, err := StructFields(encoderArgs{DimIn: 4, LearningRate: 0.1, Layers: []int{8}})
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	var names []string
	for _, f := range fields {
		names = append(names, f.Name)
	}
	if !reflect.DeepEqual(names, []string{"dim_in", "lr", "layers", "activation"}) {
		t.Fatalf("unexpected kwarg names: %v", names)
	}
	if fields[0].Default != 4 || fields[0].Help != "input width" {
		t.Fatalf("unexpected dim_in field: %+v", fields[0])
	}
	if !fields[3].Required || fields[3].Default != nil {
		t.Fatalf("activation should be required without default: %+v", fields[3])
	}
}

func TestStructFieldsRejectsNonStruct(t *testing.T) {
	if _, err := StructFields(42); err == nil {
		t.Fatal("expected error for non-struct prototype")
	}
}

func TestKwargsDecodeConvertsValues(t *testing.T) {
	kw := Kwargs{"dim_in": 3.0, "lr": "0.5", "layers": []any{1, 2}, "activation": "relu"}
	var args encoderArgs
	if err := kw.Decode(&args); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if args.DimIn != 3 || args.LearningRate != 0.5 || !reflect.DeepEqual(args.Layers, []int{1, 2}) || args.Activation != "relu" {
		t.Fatalf("unexpected decoded args: %+v", args)
	}
	if err := (Kwargs{}).Decode(&args); err == nil {
		t.Fatal("expected missing required kwarg error")
	}
	if err := (Kwargs{"activation": "relu", "dim_in": "wide"}).Decode(&args); err == nil {
		t.Fatal("expected unparsable dim_in to fail")
	}
	var skipped encoderArgs
	if err := (Kwargs{"activation": "tanh", "Skipped": true, "internal": 3}).Decode(&skipped); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if skipped.Skipped || skipped.internal != 0 || skipped.Activation != "tanh" {
		t.Fatalf("skipped and unexported fields should stay untouched: %+v", skipped)
	}
}

func TestInputsAbsentMarker(t *testing.T) {
	in := Inputs{"label": Absent, "image": nil}
	if _, ok := in.Get("label"); ok {
		t.Fatal("absent input should not be reported as present")
	}
	if _, ok := in.Get("image"); !ok {
		t.Fatal("nil upstream value is still a wired input")
	}
	if !IsAbsent(in["label"]) {
		t.Fatal("expected absent marker")
	}
}

func TestRoutineLossesAndTrainedSet(t *testing.T) {
	r := &Routine{Name: "gan", Roles: Roles{Nets: []string{"gen", "disc"}}}
	r.Reset()
	if err := r.AddLoss("gen", nil); err != nil {
		t.Fatalf("add nil loss: %v", err)
	}
	if err := r.AddLoss("critic", nil); err == nil {
		t.Fatal("expected error for undeclared net")
	}
	r.MarkTrained("gen")
	r.MarkTrained("gen")
	r.Reset()
	if got := r.Trained(); !reflect.DeepEqual(got, []string{"gen"}) {
		t.Fatalf("trained set should survive reset without duplicates: %v", got)
	}
	if len(r.Losses()) != 0 {
		t.Fatal("reset should drop losses")
	}
}

func TestRoutineCheckBindings(t *testing.T) {
	nets := namespace.NewMap()
	r := &Routine{Name: "enc", Roles: Roles{Nets: []string{"net"}}}
	r.Kwargs = namespace.NewAlias(namespace.NewMap())
	r.Nets = namespace.NewAlias(nets)
	r.Vars = namespace.NewAlias(namespace.NewMap())
	r.Nets.SetAlias("net", "encoder")
	if err := r.CheckBindings(); !errors.Is(err, namespace.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	nets.Set("encoder", struct{}{})
	if err := r.CheckBindings(); err != nil {
		t.Fatalf("check bindings: %v", err)
	}
}
