package audit

import (
	"testing"
)

func TestDiffPayloadsChangedField(t *testing.T) {
	before := map[string]any{"notes": "stable", "nkda": true}
	after := map[string]any{"notes": "improving", "nkda": true}

	changes := DiffPayloads(before, after)
	if len(changes) != 1 {
		t.Fatalf("changes = %v, want one entry", changes)
	}
	c, ok := changes["notes"]
	if !ok || c.Old != "stable" || c.New != "improving" {
		t.Errorf("notes change = %+v", c)
	}
}

func TestDiffPayloadsAddedAndRemoved(t *testing.T) {
	before := map[string]any{"a": 1}
	after := map[string]any{"b": 2}

	changes := DiffPayloads(before, after)
	if len(changes) != 2 {
		t.Fatalf("changes = %v", changes)
	}
	if changes["a"].New != nil {
		t.Errorf("removed field new = %v, want nil", changes["a"].New)
	}
	if changes["b"].Old != nil {
		t.Errorf("added field old = %v, want nil", changes["b"].Old)
	}
}

func TestDiffPayloadsNoChange(t *testing.T) {
	payload := map[string]any{"rows": []any{map[string]any{"t": "07:30"}}}
	if changes := DiffPayloads(payload, payload); changes != nil {
		t.Errorf("changes = %v, want nil", changes)
	}
}

func TestDiffPayloadsTypedVersusDecoded(t *testing.T) {
	type row struct {
		Time  string `json:"time"`
		Notes string `json:"notes"`
	}
	// A typed slice and its JSON-decoded form must compare equal.
	before := map[string]any{"rows": []row{{Time: "07:30", Notes: "arrived"}}}
	after := map[string]any{"rows": []any{map[string]any{"time": "07:30", "notes": "arrived"}}}

	if changes := DiffPayloads(before, after); changes != nil {
		t.Errorf("changes = %v, want nil", changes)
	}
}
