package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// GetVariables reads the variable definitions out of the entity's
// metadata. Entities without any return two empty lists.
func (e *Engine) GetVariables(ctx context.Context, id string) (*model.Variables, error) {
	ent, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeVariables(ent.Metadata), nil
}

// PutVariables replaces both definition lists. Names must be unique
// across inputs and outputs.
func (e *Engine) PutVariables(ctx context.Context, id string, vars model.Variables) (*model.Variables, error) {
	if err := checkVariableNames(vars); err != nil {
		return nil, err
	}
	if err := e.writeVariables(ctx, id, vars); err != nil {
		return nil, err
	}
	return &vars, nil
}

// UpsertVariable inserts or replaces one definition by name. A replace
// may move the variable between the input and output lists.
func (e *Engine) UpsertVariable(ctx context.Context, id string, def model.VariableDef) (*model.Variables, error) {
	if def.Name == "" {
		return nil, util.NewValidationError("variable name is required")
	}
	switch def.Direction {
	case "input", "output":
	default:
		return nil, util.NewValidationError("direction must be input or output")
	}

	ent, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	vars := decodeVariables(ent.Metadata)
	vars.Inputs = removeVariable(vars.Inputs, def.Name)
	vars.Outputs = removeVariable(vars.Outputs, def.Name)
	if def.Direction == "input" {
		vars.Inputs = append(vars.Inputs, def)
	} else {
		vars.Outputs = append(vars.Outputs, def)
	}

	if err := e.writeVariables(ctx, id, *vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// DeleteVariable removes one definition by name from whichever list
// holds it.
func (e *Engine) DeleteVariable(ctx context.Context, id, name string) (*model.Variables, error) {
	ent, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	vars := decodeVariables(ent.Metadata)
	before := len(vars.Inputs) + len(vars.Outputs)
	vars.Inputs = removeVariable(vars.Inputs, name)
	vars.Outputs = removeVariable(vars.Outputs, name)
	if len(vars.Inputs)+len(vars.Outputs) == before {
		return nil, util.NewNotFoundError("variable", name)
	}

	if err := e.writeVariables(ctx, id, *vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// ValidateState checks the entity's current state against its variable
// definitions. Every finding is advisory; state is never touched.
func (e *Engine) ValidateState(ctx context.Context, id string) (*model.ValidationReport, error) {
	ent, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	vars := decodeVariables(ent.Metadata)

	report := &model.ValidationReport{
		Warnings:        []string{},
		MissingRequired: []string{},
		UndefinedKeys:   []string{},
	}
	defined := map[string]model.VariableDef{}
	for _, def := range append(append([]model.VariableDef{}, vars.Inputs...), vars.Outputs...) {
		defined[def.Name] = def
		val, present := ent.State[def.Name]
		if !present {
			if def.Required {
				report.MissingRequired = append(report.MissingRequired, def.Name)
			}
			continue
		}
		if !typeMatches(def.Type, val) {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: value does not match type %s", def.Name, def.Type))
		}
	}
	for key := range ent.State {
		if _, ok := defined[key]; !ok {
			report.UndefinedKeys = append(report.UndefinedKeys, key)
		}
	}
	report.Valid = len(report.Warnings) == 0 && len(report.MissingRequired) == 0
	return report, nil
}

func (e *Engine) writeVariables(ctx context.Context, id string, vars model.Variables) error {
	ent, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	meta := map[string]any{}
	for k, v := range ent.Metadata {
		meta[k] = v
	}
	meta["variables"] = vars
	_, err = e.UpdateEntity(ctx, id, model.EntityUpdate{Metadata: &meta})
	return err
}

func checkVariableNames(vars model.Variables) error {
	seen := map[string]bool{}
	b := &util.ValidationBuilder{}
	for _, def := range append(append([]model.VariableDef{}, vars.Inputs...), vars.Outputs...) {
		if def.Name == "" {
			b.AddError("variable name is required")
			continue
		}
		if seen[def.Name] {
			b.AddErrorf("duplicate variable name: %s", def.Name)
		}
		seen[def.Name] = true
	}
	return b.Build()
}

func removeVariable(defs []model.VariableDef, name string) []model.VariableDef {
	out := defs[:0:0]
	for _, d := range defs {
		if d.Name != name {
			out = append(out, d)
		}
	}
	return out
}

// decodeVariables tolerates the metadata.variables shape arriving as
// raw JSON maps from the store; anything unparseable reads as empty.
func decodeVariables(meta map[string]any) *model.Variables {
	vars := &model.Variables{Inputs: []model.VariableDef{}, Outputs: []model.VariableDef{}}
	raw, ok := meta["variables"]
	if !ok {
		return vars
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return vars
	}
	var decoded model.Variables
	if err := json.Unmarshal(data, &decoded); err != nil {
		return vars
	}
	if decoded.Inputs != nil {
		vars.Inputs = decoded.Inputs
	}
	if decoded.Outputs != nil {
		vars.Outputs = decoded.Outputs
	}
	return vars
}

// typeMatches is the advisory type predicate. Numbers exclude booleans;
// vectors want x,y (and z for vector3); enum accepts anything.
func typeMatches(varType string, val any) bool {
	switch varType {
	case model.VarString:
		_, ok := val.(string)
		return ok
	case model.VarNumber, model.VarRange:
		return isNumber(val)
	case model.VarBoolean:
		_, ok := val.(bool)
		return ok
	case model.VarArray:
		_, ok := val.([]any)
		return ok
	case model.VarObject:
		_, ok := val.(map[string]any)
		return ok
	case model.VarColor:
		switch v := val.(type) {
		case string:
			return true
		case map[string]any:
			return hasNumberKeys(v, "r", "g", "b")
		case []any:
			return len(v) == 3 || len(v) == 4
		default:
			return false
		}
	case model.VarVector2:
		m, ok := val.(map[string]any)
		return ok && hasNumberKeys(m, "x", "y")
	case model.VarVector3:
		m, ok := val.(map[string]any)
		return ok && hasNumberKeys(m, "x", "y", "z")
	case model.VarEnum:
		return true
	default:
		// Unknown declared types never warn.
		return true
	}
}

func isNumber(val any) bool {
	switch val.(type) {
	case float64, float32, int, int64, json.Number:
		return true
	default:
		return false
	}
}

func hasNumberKeys(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || !isNumber(v) {
			return false
		}
	}
	return true
}
