package audit

import (
	"encoding/json"
	"reflect"
)

// DiffPayloads compares two field maps and returns the changed fields as
// {field: {old, new}}. Values are compared through a JSON round trip so
// typed structs and their decoded map forms compare equal. Returns nil when
// nothing changed.
func DiffPayloads(before, after map[string]any) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	for k, oldV := range before {
		newV, ok := after[k]
		if !ok {
			changes[k] = FieldChange{Old: normalize(oldV), New: nil}
			continue
		}
		o, n := normalize(oldV), normalize(newV)
		if !reflect.DeepEqual(o, n) {
			changes[k] = FieldChange{Old: o, New: n}
		}
	}
	for k, newV := range after {
		if _, ok := before[k]; !ok {
			changes[k] = FieldChange{Old: nil, New: normalize(newV)}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
