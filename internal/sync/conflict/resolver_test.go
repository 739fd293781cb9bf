package conflict

import (
	"encoding/json"
	"reflect"
	"testing"

	apperrors "github.com/carebridge/syncengine/internal/errors"
	"github.com/carebridge/syncengine/internal/models"
)

func action(payload string) *models.Action {
	return &models.Action{
		ID:         "act-1",
		EntityType: "care_plan",
		EntityID:   "cp-1",
		Operation:  models.OperationUpdate,
		Payload:    json.RawMessage(payload),
		EnqueuedAt: 1000,
	}
}

// decode normalizes JSON for structural comparison, since merged object
// key order is not significant.
func decode(t *testing.T, raw json.RawMessage) interface{} {
	t.Helper()
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("invalid JSON %q: %v", raw, err)
	}
	return v
}

func TestNeedsResolution(t *testing.T) {
	r := NewResolver()
	a := action(`{}`)

	tests := []struct {
		name             string
		remoteModifiedAt int64
		want             bool
	}{
		{"remote older", 999, false},
		{"remote equal", 1000, false},
		{"remote newer", 1001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.NeedsResolution(a, tt.remoteModifiedAt); got != tt.want {
				t.Errorf("NeedsResolution(%d) = %v, want %v",
					tt.remoteModifiedAt, got, tt.want)
			}
		})
	}
}

func TestResolveClientWins(t *testing.T) {
	r := NewResolver()
	a := action(`{"notes":"local"}`)
	remote := json.RawMessage(`{"notes":"remote"}`)

	out, err := r.Resolve(a, remote, StrategyClientWins)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if out.Manual {
		t.Error("client_wins must not be manual")
	}
	if string(out.Resolved) != `{"notes":"local"}` {
		t.Errorf("resolved = %s, want local payload", out.Resolved)
	}
}

func TestResolveServerWins(t *testing.T) {
	r := NewResolver()
	a := action(`{"notes":"local"}`)
	remote := json.RawMessage(`{"notes":"remote"}`)

	out, err := r.Resolve(a, remote, StrategyServerWins)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if string(out.Resolved) != `{"notes":"remote"}` {
		t.Errorf("resolved = %s, want remote payload", out.Resolved)
	}
}

func TestResolveManual(t *testing.T) {
	r := NewResolver()
	a := action(`{"notes":"local"}`)
	remote := json.RawMessage(`{"notes":"remote"}`)

	out, err := r.Resolve(a, remote, StrategyManual)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !out.Manual {
		t.Error("expected a manual outcome")
	}
	if out.Resolved != nil {
		t.Errorf("manual outcome carries resolved payload: %s", out.Resolved)
	}
	if string(out.Local) != `{"notes":"local"}` || string(out.Remote) != `{"notes":"remote"}` {
		t.Error("manual outcome must carry both sides")
	}
}

func TestResolveUnknownStrategy(t *testing.T) {
	r := NewResolver()

	_, err := r.Resolve(action(`{}`), json.RawMessage(`{}`), Strategy("coin_flip"))
	if !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestMergeObjectsRecursive(t *testing.T) {
	r := NewResolver()
	a := action(`{"vitals":{"pulse":70,"temp":36.5},"localOnly":true}`)
	remote := json.RawMessage(`{"vitals":{"pulse":75,"spo2":98},"remoteOnly":true}`)

	out, err := r.Resolve(a, remote, StrategyMerge)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := decode(t, json.RawMessage(`{
		"vitals":{"pulse":75,"temp":36.5,"spo2":98},
		"localOnly":true,
		"remoteOnly":true
	}`))
	if got := decode(t, out.Resolved); !reflect.DeepEqual(got, want) {
		t.Errorf("merged = %s", out.Resolved)
	}
}

func TestMergeDeterministic(t *testing.T) {
	r := NewResolver()
	a := action(`{"vitals":{"pulse":70},"tags":["a","b"]}`)
	remote := json.RawMessage(`{"vitals":{"pulse":75},"tags":["b","c"]}`)

	first, err := r.Resolve(a, remote, StrategyMerge)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := r.Resolve(a, remote, StrategyMerge)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}

	if !reflect.DeepEqual(decode(t, first.Resolved), decode(t, second.Resolved)) {
		t.Errorf("merge not deterministic: %s vs %s", first.Resolved, second.Resolved)
	}
}

func TestMergeRemoteScalarWins(t *testing.T) {
	r := NewResolver()
	a := action(`{"dose":"10mg"}`)
	remote := json.RawMessage(`{"dose":"20mg"}`)

	out, err := r.Resolve(a, remote, StrategyMerge)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := decode(t, out.Resolved); !reflect.DeepEqual(got, decode(t, remote)) {
		t.Errorf("merged = %s, want remote scalar", out.Resolved)
	}
}

func TestMergeArrayUnion(t *testing.T) {
	r := NewResolver()
	a := action(`{"tags":["diabetic","fall-risk"]}`)
	remote := json.RawMessage(`{"tags":["fall-risk","allergy-penicillin"]}`)

	out, err := r.Resolve(a, remote, StrategyMerge)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	var merged struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(out.Resolved, &merged); err != nil {
		t.Fatalf("invalid merged payload: %v", err)
	}

	// Remote elements first, then local ones not already present.
	want := []string{"fall-risk", "allergy-penicillin", "diabetic"}
	if !reflect.DeepEqual(merged.Tags, want) {
		t.Errorf("tags = %v, want %v", merged.Tags, want)
	}
}

func TestMergeArrayUnionByStructure(t *testing.T) {
	r := NewResolver()

	// The shared element has different key order on each side; structural
	// hashing must still recognize it as a duplicate.
	a := action(`{"meds":[{"name":"aspirin","dose":"75mg"}]}`)
	remote := json.RawMessage(`{"meds":[{"dose":"75mg","name":"aspirin"},{"name":"statin","dose":"20mg"}]}`)

	out, err := r.Resolve(a, remote, StrategyMerge)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	var merged struct {
		Meds []map[string]string `json:"meds"`
	}
	if err := json.Unmarshal(out.Resolved, &merged); err != nil {
		t.Fatalf("invalid merged payload: %v", err)
	}
	if len(merged.Meds) != 2 {
		t.Errorf("meds has %d elements, want 2 (structural dedupe): %s",
			len(merged.Meds), out.Resolved)
	}
}

func TestMergeObjectArrayMismatch(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		name   string
		local  string
		remote string
	}{
		{"object vs array", `{"items":{"a":1}}`, `{"items":[1,2]}`},
		{"array vs object", `{"items":[1,2]}`, `{"items":{"a":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(action(tt.local), json.RawMessage(tt.remote), StrategyMerge)
			if !apperrors.Is(err, apperrors.ErrInvalidMerge) {
				t.Errorf("expected INVALID_MERGE, got %v", err)
			}
		})
	}
}

func TestMergeScalarContainerMismatch(t *testing.T) {
	r := NewResolver()

	// Scalar against a container is not a structural clash; the remote
	// side wins.
	a := action(`{"notes":"plain text"}`)
	remote := json.RawMessage(`{"notes":{"text":"structured","author":"nurse"}}`)

	out, err := r.Resolve(a, remote, StrategyMerge)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := decode(t, json.RawMessage(`{"notes":{"text":"structured","author":"nurse"}}`))
	if got := decode(t, out.Resolved); !reflect.DeepEqual(got, want) {
		t.Errorf("merged = %s", out.Resolved)
	}
}

func TestMergeInvalidJSON(t *testing.T) {
	r := NewResolver()

	_, err := r.Resolve(action(`not json`), json.RawMessage(`{}`), StrategyMerge)
	if !apperrors.Is(err, apperrors.ErrInvalidMerge) {
		t.Errorf("expected INVALID_MERGE for unparseable local payload, got %v", err)
	}
}
