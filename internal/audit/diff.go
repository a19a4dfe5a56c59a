package audit

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Change is one field whose string form differs between two snapshots.
type Change struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Diff compares two values field by field. Both are flattened through JSON to a map; fields
// present on only one side compare against an empty string.
func Diff(before, after any) ([]Change, error) {
	prev, err := fields(before)
	if err != nil {
		return nil, err
	}
	next, err := fields(after)
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(prev)+len(next))
	for k := range prev {
		names[k] = struct{}{}
	}
	for k := range next {
		names[k] = struct{}{}
	}
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Change
	for _, k := range keys {
		b, a := prev[k], next[k]
		if b != a {
			out = append(out, Change{Field: k, Before: b, After: a})
		}
	}
	return out, nil
}

func fields(v any) (map[string]string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("diff needs an object, got %s", data)
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if val == nil {
			out[k] = ""
			continue
		}
		out[k] = fmt.Sprint(val)
	}
	return out, nil
}
