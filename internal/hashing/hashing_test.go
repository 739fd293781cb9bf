// Package hashing tests for structural hashing and diffing.
package hashing

import (
	"encoding/json"
	"testing"
)

// TestHash_KeyOrderIndependent verifies that object key order does not
// affect the hash.
func TestHash_KeyOrderIndependent(t *testing.T) {
	a := json.RawMessage(`{"name":"Ada","dose":"10mg","times":["08:00","20:00"]}`)
	b := json.RawMessage(`{"times":["08:00","20:00"],"dose":"10mg","name":"Ada"}`)

	if Hash(a) != Hash(b) {
		t.Error("hashes differ for structurally equal objects")
	}
}

// TestHash_NestedKeyOrder verifies key-order independence recurses.
func TestHash_NestedKeyOrder(t *testing.T) {
	a := map[string]interface{}{
		"outer": map[string]interface{}{"x": 1, "y": 2},
	}
	b := json.RawMessage(`{"outer":{"y":2,"x":1}}`)

	if Hash(a) != Hash(b) {
		t.Error("hashes differ for structurally equal nested objects")
	}
}

// TestHash_ArrayOrderSignificant verifies that array order is preserved
// and affects the hash.
func TestHash_ArrayOrderSignificant(t *testing.T) {
	a := json.RawMessage(`[1,2,3]`)
	b := json.RawMessage(`[3,2,1]`)

	if Hash(a) == Hash(b) {
		t.Error("hashes equal for arrays with different order")
	}
}

// TestHash_ValueChange verifies that a scalar change changes the hash.
func TestHash_ValueChange(t *testing.T) {
	a := map[string]interface{}{"dose": "10mg"}
	b := map[string]interface{}{"dose": "20mg"}

	if Hash(a) == Hash(b) {
		t.Error("hashes equal for different values")
	}
}

// TestHash_Deterministic verifies repeated hashing is stable.
func TestHash_Deterministic(t *testing.T) {
	v := map[string]interface{}{"a": 1, "b": []interface{}{"x", "y"}, "c": nil}

	first := Hash(v)
	for i := 0; i < 10; i++ {
		if Hash(v) != first {
			t.Fatal("hash is not deterministic")
		}
	}
}

// TestCanonical_SortsKeys verifies the canonical form itself.
func TestCanonical_SortsKeys(t *testing.T) {
	data, err := Canonical(json.RawMessage(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}

	want := `{"a":1,"b":2}`
	if string(data) != want {
		t.Errorf("Canonical = %s, want %s", data, want)
	}
}

// TestDiff verifies top-level change detection.
func TestDiff(t *testing.T) {
	oldValue := map[string]interface{}{
		"name":  "Ada",
		"dose":  "10mg",
		"notes": map[string]interface{}{"a": 1},
		"gone":  true,
	}
	newValue := map[string]interface{}{
		"name":  "Ada",
		"dose":  "20mg",
		"notes": map[string]interface{}{"a": 2},
		"added": "x",
	}

	diff := Diff(oldValue, newValue)

	if _, ok := diff["name"]; ok {
		t.Error("unchanged key reported in diff")
	}
	if diff["dose"] != "20mg" {
		t.Errorf("changed key missing or wrong: %v", diff["dose"])
	}
	if _, ok := diff["notes"]; !ok {
		t.Error("changed nested object not included")
	}
	if diff["added"] != "x" {
		t.Error("added key missing from diff")
	}
	if _, ok := diff["gone"]; ok {
		t.Error("removed key should be omitted from diff")
	}
}

// TestDiff_Empty verifies identical inputs produce an empty diff.
func TestDiff_Empty(t *testing.T) {
	v := map[string]interface{}{"a": 1, "b": "x"}

	if diff := Diff(v, v); len(diff) != 0 {
		t.Errorf("expected empty diff, got %v", diff)
	}
}
