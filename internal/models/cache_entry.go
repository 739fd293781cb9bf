// Package models provides data model definitions for the sync engine.
package models

import "time"

// CacheEntry is a locally held, time-bounded copy of a remote-origin
// record. Data is codec-encoded at rest; Hash is computed over the
// decoded value so equality checks never need to decode.
type CacheEntry struct {
	Data        []byte `json:"data"`
	Version     int64  `json:"version"`
	Hash        string `json:"hash"`
	LastUpdated int64  `json:"last_updated"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Stale reports whether the entry has expired at the given unix time.
// Stale entries are never served as cache hits.
func (e *CacheEntry) Stale(now int64) bool {
	return now > e.ExpiresAt
}

// LastUpdatedTime returns LastUpdated as time.Time.
func (e *CacheEntry) LastUpdatedTime() time.Time {
	return time.Unix(e.LastUpdated, 0)
}
