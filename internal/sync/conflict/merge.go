package conflict

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/carebridge/syncengine/internal/errors"
	"github.com/carebridge/syncengine/internal/hashing"
)

// mergePayloads structurally merges two JSON payloads:
//   - objects merge recursively, key by key
//   - arrays union by content hash, remote elements first
//   - when a scalar meets anything, the remote value wins
//   - an object meeting an array is unmergeable and rejected
func mergePayloads(local, remote json.RawMessage) (json.RawMessage, error) {
	var lv, rv interface{}
	if err := json.Unmarshal(local, &lv); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidMerge,
			"local payload is not valid JSON", err)
	}
	if err := json.Unmarshal(remote, &rv); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidMerge,
			"remote payload is not valid JSON", err)
	}

	merged, err := mergeValues(lv, rv)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidMerge,
			"failed to encode merged payload", err)
	}
	return out, nil
}

func mergeValues(local, remote interface{}) (interface{}, error) {
	switch rv := remote.(type) {
	case map[string]interface{}:
		lv, ok := local.(map[string]interface{})
		if !ok {
			if _, isArray := local.([]interface{}); isArray {
				return nil, apperrors.New(apperrors.ErrInvalidMerge,
					"cannot merge an array with an object")
			}
			return remote, nil
		}
		return mergeObjects(lv, rv)

	case []interface{}:
		lv, ok := local.([]interface{})
		if !ok {
			if _, isObject := local.(map[string]interface{}); isObject {
				return nil, apperrors.New(apperrors.ErrInvalidMerge,
					"cannot merge an object with an array")
			}
			return remote, nil
		}
		return mergeArrays(lv, rv), nil

	default:
		// Scalar on the remote side always takes precedence.
		return remote, nil
	}
}

func mergeObjects(local, remote map[string]interface{}) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(local)+len(remote))
	for k, v := range local {
		merged[k] = v
	}
	for k, rv := range remote {
		lv, present := merged[k]
		if !present {
			merged[k] = rv
			continue
		}
		mv, err := mergeValues(lv, rv)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalidMerge,
				fmt.Sprintf("failed to merge key %q", k), err)
		}
		merged[k] = mv
	}
	return merged, nil
}

// mergeArrays unions two arrays by element content hash. Remote
// elements come first; local elements whose hash is already present
// are dropped as duplicates.
func mergeArrays(local, remote []interface{}) []interface{} {
	merged := make([]interface{}, 0, len(local)+len(remote))
	seen := make(map[string]struct{}, len(remote))

	for _, v := range remote {
		h := hashing.Hash(v)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		merged = append(merged, v)
	}
	for _, v := range local {
		h := hashing.Hash(v)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		merged = append(merged, v)
	}
	return merged
}
