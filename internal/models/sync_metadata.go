// Package models provides data model definitions for the sync engine.
package models

// MaxSyncErrors bounds the per-device error history ring buffer.
const MaxSyncErrors = 10

// SyncError is one entry in the bounded sync error history.
type SyncError struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// NetworkInfo is a snapshot of the connectivity signal at the time it
// was last consulted.
type NetworkInfo struct {
	Online    bool  `json:"online"`
	CheckedAt int64 `json:"checked_at"`
}

// SyncMetadata holds per-device sync state. One record exists per local
// installation; it is created on first use and updated in place.
type SyncMetadata struct {
	DeviceID           string      `json:"device_id"`
	LastSuccessfulSync int64       `json:"last_successful_sync"`
	LastAttemptedSync  int64       `json:"last_attempted_sync"`
	SyncErrors         []SyncError `json:"sync_errors,omitempty"`
	NetworkInfo        NetworkInfo `json:"network_info"`
}

// RecordError appends to the error history, keeping only the
// MaxSyncErrors most recent entries.
func (m *SyncMetadata) RecordError(timestamp int64, message string) {
	m.SyncErrors = append(m.SyncErrors, SyncError{Timestamp: timestamp, Message: message})
	if len(m.SyncErrors) > MaxSyncErrors {
		m.SyncErrors = m.SyncErrors[len(m.SyncErrors)-MaxSyncErrors:]
	}
}
