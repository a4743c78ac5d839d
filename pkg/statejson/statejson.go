// Package statejson implements the value operations behind reactive
// entity state: recursive deep merge, changed-key computation, and
// dotted-path projection over free-form JSON objects.
package statejson

import (
	"sort"
	"strings"
)

// DeepMerge merges patch into base and returns a new map. When both
// sides hold an object at the same key the merge recurses; in every
// other case the patch value wins. null is a value, not a delete.
// Neither input is mutated.
func DeepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		bm, baseIsMap := out[k].(map[string]any)
		pm, patchIsMap := pv.(map[string]any)
		if baseIsMap && patchIsMap {
			out[k] = DeepMerge(bm, pm)
		} else {
			out[k] = pv
		}
	}
	return out
}

// ChangedKeys returns the sorted top-level keys whose values differ
// between prev and next under deep equality.
func ChangedKeys(prev, next map[string]any) []string {
	changed := make([]string, 0)
	for k, nv := range next {
		pv, ok := prev[k]
		if !ok || !DeepEqual(pv, nv) {
			changed = append(changed, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// DeepEqual compares two JSON-shaped values. Numbers compare by value
// within float64, which is what encoding/json decodes into.
func DeepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !DeepEqual(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// ProjectPaths resolves dotted paths against state and returns a map
// keyed by each path that resolved. Unresolved paths are omitted.
func ProjectPaths(state map[string]any, paths []string) map[string]any {
	out := make(map[string]any, len(paths))
	for _, p := range paths {
		if v, ok := resolve(state, p); ok {
			out[p] = v
		}
	}
	return out
}

func resolve(state map[string]any, path string) (any, bool) {
	var cur any = state
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
