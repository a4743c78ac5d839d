package state

import (
	"context"
	"errors"
	"testing"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

func TestVariableTypePredicates(t *testing.T) {
	cases := []struct {
		name    string
		varType string
		value   any
		want    bool
	}{
		{"string ok", model.VarString, "hello", true},
		{"string vs number", model.VarString, float64(1), false},
		{"number ok", model.VarNumber, float64(3.5), true},
		{"number excludes bool", model.VarNumber, true, false},
		{"boolean ok", model.VarBoolean, false, true},
		{"array ok", model.VarArray, []any{1, 2}, true},
		{"object ok", model.VarObject, map[string]any{"a": 1}, true},
		{"vector2 ok", model.VarVector2, map[string]any{"x": float64(1), "y": float64(2)}, true},
		{"vector2 missing y", model.VarVector2, map[string]any{"x": float64(1)}, false},
		{"vector3 ok", model.VarVector3, map[string]any{"x": float64(1), "y": float64(2), "z": float64(3)}, true},
		{"vector3 missing z", model.VarVector3, map[string]any{"x": float64(1), "y": float64(2)}, false},
		{"color hex string", model.VarColor, "#ff00aa", true},
		{"color rgb object", model.VarColor, map[string]any{"r": float64(1), "g": float64(2), "b": float64(3)}, true},
		{"color bad", model.VarColor, true, false},
		{"range is numeric", model.VarRange, float64(0.5), true},
		{"enum accepts anything", model.VarEnum, map[string]any{"weird": true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := typeMatches(tc.varType, tc.value); got != tc.want {
				t.Errorf("typeMatches(%s, %v) = %v, want %v", tc.varType, tc.value, got, tc.want)
			}
		})
	}
}

func TestValidateStateReport(t *testing.T) {
	f := newFixture(t)
	ent := f.seedEntity(t, model.State{
		"level":   "not a number",
		"unknown": true,
	})
	ctx := context.Background()

	_, err := f.engine.PutVariables(ctx, ent.ID, model.Variables{
		Inputs: []model.VariableDef{
			{Name: "level", Type: model.VarNumber, Direction: "input"},
			{Name: "cue", Type: model.VarString, Direction: "input", Required: true},
		},
	})
	if err != nil {
		t.Fatalf("PutVariables: %v", err)
	}

	report, err := f.engine.ValidateState(ctx, ent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Error("report should not be valid")
	}
	if len(report.Warnings) != 1 {
		t.Errorf("warnings = %v, want 1 type mismatch", report.Warnings)
	}
	if len(report.MissingRequired) != 1 || report.MissingRequired[0] != "cue" {
		t.Errorf("missing_required = %v, want [cue]", report.MissingRequired)
	}
	if len(report.UndefinedKeys) != 1 || report.UndefinedKeys[0] != "unknown" {
		t.Errorf("undefined_keys = %v, want [unknown]", report.UndefinedKeys)
	}

	// Validation must not touch state.
	got, _ := f.store.GetEntity(ctx, ent.ID)
	if got.State["level"] != "not a number" {
		t.Error("validation mutated state")
	}
}

func TestPutVariablesRejectsDuplicateNames(t *testing.T) {
	f := newFixture(t)
	ent := f.seedEntity(t, nil)

	_, err := f.engine.PutVariables(context.Background(), ent.ID, model.Variables{
		Inputs:  []model.VariableDef{{Name: "level", Type: model.VarNumber, Direction: "input"}},
		Outputs: []model.VariableDef{{Name: "level", Type: model.VarNumber, Direction: "output"}},
	})
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("duplicate across lists: got %v", err)
	}
}

func TestUpsertVariableMovesBetweenLists(t *testing.T) {
	f := newFixture(t)
	ent := f.seedEntity(t, nil)
	ctx := context.Background()

	if _, err := f.engine.UpsertVariable(ctx, ent.ID, model.VariableDef{
		Name: "level", Type: model.VarNumber, Direction: "input",
	}); err != nil {
		t.Fatal(err)
	}
	vars, err := f.engine.UpsertVariable(ctx, ent.ID, model.VariableDef{
		Name: "level", Type: model.VarNumber, Direction: "output",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(vars.Inputs) != 0 || len(vars.Outputs) != 1 {
		t.Errorf("vars = inputs %d outputs %d, want 0/1", len(vars.Inputs), len(vars.Outputs))
	}
}

func TestDeleteVariable(t *testing.T) {
	f := newFixture(t)
	ent := f.seedEntity(t, nil)
	ctx := context.Background()

	if _, err := f.engine.UpsertVariable(ctx, ent.ID, model.VariableDef{
		Name: "level", Type: model.VarNumber, Direction: "input",
	}); err != nil {
		t.Fatal(err)
	}
	vars, err := f.engine.DeleteVariable(ctx, ent.ID, "level")
	if err != nil {
		t.Fatal(err)
	}
	if len(vars.Inputs) != 0 {
		t.Errorf("inputs = %d, want 0", len(vars.Inputs))
	}
	if _, err := f.engine.DeleteVariable(ctx, ent.ID, "level"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("second delete: got %v", err)
	}
}
