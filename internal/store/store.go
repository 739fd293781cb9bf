// Package store provides the durable key-value medium backing the sync
// engine's state across process restarts.
package store

// Store is the persistence contract. A Set that returns nil must be
// durable across process restart. Get of a missing key returns
// (nil, nil), never an error. Values round-trip byte for byte.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	GetAll() (map[string][]byte, error)
}
