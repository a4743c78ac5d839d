package statejson

import (
	"encoding/json"
	"testing"
)

func mustJSON(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad fixture %q: %v", s, err)
	}
	return m
}

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		patch string
		want  string
	}{
		{
			"nested objects merge",
			`{"color":{"r":1,"g":2},"on":true}`,
			`{"color":{"g":5,"b":7}}`,
			`{"color":{"r":1,"g":5,"b":7},"on":true}`,
		},
		{
			"scalar replaces object",
			`{"color":{"r":1}}`,
			`{"color":"red"}`,
			`{"color":"red"}`,
		},
		{
			"object replaces scalar",
			`{"color":"red"}`,
			`{"color":{"r":1}}`,
			`{"color":{"r":1}}`,
		},
		{
			"null is a value not a delete",
			`{"a":1,"b":2}`,
			`{"a":null}`,
			`{"a":null,"b":2}`,
		},
		{
			"array replaces wholesale",
			`{"xs":[1,2,3]}`,
			`{"xs":[9]}`,
			`{"xs":[9]}`,
		},
		{
			"empty patch is identity",
			`{"a":{"b":1}}`,
			`{}`,
			`{"a":{"b":1}}`,
		},
		{
			"empty base takes patch",
			`{}`,
			`{"a":1}`,
			`{"a":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := mustJSON(t, tt.base)
			got := DeepMerge(base, mustJSON(t, tt.patch))
			if !DeepEqual(got, any(mustJSON(t, tt.want))) {
				t.Errorf("DeepMerge = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeepMergeDoesNotMutateInputs(t *testing.T) {
	base := mustJSON(t, `{"color":{"r":1}}`)
	patch := mustJSON(t, `{"color":{"g":2}}`)
	DeepMerge(base, patch)
	if !DeepEqual(any(base), any(mustJSON(t, `{"color":{"r":1}}`))) {
		t.Errorf("base mutated: %v", base)
	}
	if !DeepEqual(any(patch), any(mustJSON(t, `{"color":{"g":2}}`))) {
		t.Errorf("patch mutated: %v", patch)
	}
}

func TestChangedKeys(t *testing.T) {
	tests := []struct {
		name string
		prev string
		next string
		want []string
	}{
		{"no change", `{"a":1,"b":{"c":2}}`, `{"a":1,"b":{"c":2}}`, []string{}},
		{"nested change surfaces top-level key", `{"b":{"c":2}}`, `{"b":{"c":3}}`, []string{"b"}},
		{"added key", `{"a":1}`, `{"a":1,"z":9}`, []string{"z"}},
		{"removed key", `{"a":1,"z":9}`, `{"a":1}`, []string{"z"}},
		{"sorted output", `{}`, `{"b":1,"a":2}`, []string{"a", "b"}},
		{"type change", `{"a":1}`, `{"a":"1"}`, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChangedKeys(mustJSON(t, tt.prev), mustJSON(t, tt.next))
			if len(got) != len(tt.want) {
				t.Fatalf("ChangedKeys = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("ChangedKeys = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestMergeThenChangedKeysScenario(t *testing.T) {
	// PATCH {"color":{"g":5,"b":7}} over {"color":{"r":1,"g":2},"on":true}
	stored := mustJSON(t, `{"color":{"r":1,"g":2},"on":true}`)
	patch := mustJSON(t, `{"color":{"g":5,"b":7}}`)
	merged := DeepMerge(stored, patch)
	want := mustJSON(t, `{"color":{"r":1,"g":5,"b":7},"on":true}`)
	if !DeepEqual(any(merged), any(want)) {
		t.Fatalf("merged = %v, want %v", merged, want)
	}
	keys := ChangedKeys(stored, merged)
	if len(keys) != 1 || keys[0] != "color" {
		t.Errorf("changed keys = %v, want [color]", keys)
	}
}

func TestProjectPaths(t *testing.T) {
	state := mustJSON(t, `{"a":{"b":{"c":42}},"x":1,"n":null}`)
	got := ProjectPaths(state, []string{"a.b.c", "x", "missing", "a.b.c.d", "n"})

	if v, ok := got["a.b.c"]; !ok || v != float64(42) {
		t.Errorf("a.b.c = %v, %v", v, ok)
	}
	if v, ok := got["x"]; !ok || v != float64(1) {
		t.Errorf("x = %v, %v", v, ok)
	}
	if _, ok := got["missing"]; ok {
		t.Error("missing path should be omitted")
	}
	if _, ok := got["a.b.c.d"]; ok {
		t.Error("path through scalar should be omitted")
	}
	if v, ok := got["n"]; !ok || v != nil {
		t.Errorf("null value should resolve, got %v, %v", v, ok)
	}
}
