// Package hashing provides deterministic structural hashing and diffing
// for the JSON-like values the engine moves around. The hash is the basis
// of change detection and of deduplicating merged array elements.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Hash returns the SHA-256 hex digest of the canonical serialization of
// v. Two structurally equal values hash identically regardless of object
// key order.
func Hash(v interface{}) string {
	data, err := Canonical(v)
	if err != nil {
		// Unserializable values still need a stable identity.
		data = []byte(fmt.Sprintf("%#v", v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Canonical returns the canonical JSON serialization of v: object keys
// sorted lexicographically, array order preserved, values normalized
// through encoding/json.
func Canonical(v interface{}) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeCanonical(&buf, norm)
	return buf.Bytes(), nil
}

// normalize round-trips v through encoding/json so that structurally
// equal inputs (structs, maps, RawMessage) collapse to the same shape.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}

	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return out, nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			writeCanonical(buf, val[k])
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, elem)
		}
		buf.WriteByte(']')
	default:
		// Scalars and null; normalize already reduced everything else.
		eb, _ := json.Marshal(val)
		buf.Write(eb)
	}
}

// Diff returns the top-level keys of newValue whose canonical
// serialization differs from oldValue, including keys that are new.
// Nested objects that changed are included whole; this is not a deep
// patch format. Keys removed in newValue are omitted.
func Diff(oldValue, newValue map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})

	for k, nv := range newValue {
		ov, ok := oldValue[k]
		if !ok || Hash(ov) != Hash(nv) {
			out[k] = nv
		}
	}

	return out
}
