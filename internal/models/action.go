// Package models provides data model definitions for the sync engine.
package models

import (
	"encoding/json"
	"time"
)

// Operation identifies the kind of mutation an action applies.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// ActionStatus represents the lifecycle state of a queued action.
// Transitions move only forward: PENDING -> PROCESSING -> {COMPLETED,
// FAILED, CONFLICT}, with CONFLICT -> PENDING allowed once a manual
// resolution is supplied.
type ActionStatus string

const (
	ActionStatusPending    ActionStatus = "PENDING"
	ActionStatusProcessing ActionStatus = "PROCESSING"
	ActionStatusCompleted  ActionStatus = "COMPLETED"
	ActionStatusFailed     ActionStatus = "FAILED"
	ActionStatusConflict   ActionStatus = "CONFLICT"
)

// ConflictDetails captures both sides of a detected conflict and, once
// supplied, the chosen resolution.
type ConflictDetails struct {
	LocalPayload    json.RawMessage `json:"local_payload,omitempty"`
	RemotePayload   json.RawMessage `json:"remote_payload,omitempty"`
	Resolution      string          `json:"resolution,omitempty"`
	ResolvedPayload json.RawMessage `json:"resolved_payload,omitempty"`
}

// Action represents one queued local mutation awaiting application
// against the remote system. The payload is opaque to the engine.
type Action struct {
	ID              string           `json:"id"`
	EntityType      string           `json:"entity_type"`
	EntityID        string           `json:"entity_id"`
	Operation       Operation        `json:"operation"`
	Payload         json.RawMessage  `json:"payload,omitempty"`
	Priority        int              `json:"priority"`
	EnqueuedAt      int64            `json:"enqueued_at"`
	RetryCount      int              `json:"retry_count"`
	NextRetryAt     int64            `json:"next_retry_at"`
	Status          ActionStatus     `json:"status"`
	LastError       string           `json:"last_error,omitempty"`
	ConflictDetails *ConflictDetails `json:"conflict_details,omitempty"`
}

// EnqueuedAtTime returns EnqueuedAt as time.Time.
func (a *Action) EnqueuedAtTime() time.Time {
	return time.Unix(a.EnqueuedAt, 0)
}

// Terminal reports whether the action has reached a final state.
// CONFLICT is not terminal: a manual resolution re-enters it as PENDING.
func (a *Action) Terminal() bool {
	return a.Status == ActionStatusCompleted || a.Status == ActionStatusFailed
}

// Clone returns a deep copy of the action so callers cannot mutate
// queue-internal state.
func (a *Action) Clone() *Action {
	out := *a
	if a.ConflictDetails != nil {
		details := *a.ConflictDetails
		out.ConflictDetails = &details
	}
	return &out
}
