// Package queue implements the durable, priority-ordered action queue
// for offline operations.
package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/carebridge/syncengine/internal/clock"
	apperrors "github.com/carebridge/syncengine/internal/errors"
	"github.com/carebridge/syncengine/internal/logging"
	"github.com/carebridge/syncengine/internal/models"
	"github.com/carebridge/syncengine/internal/store"
	"github.com/carebridge/syncengine/internal/telemetry"
)

// ErrManualConflict is returned by a drain processor to signal that the
// action is waiting on a manual conflict resolution. The queue leaves
// the action in CONFLICT status without consuming a retry.
var ErrManualConflict = stderrors.New("manual conflict resolution required")

// ActionInput describes a mutation to enqueue. ID, timestamps, and
// retry state are assigned by the queue.
type ActionInput struct {
	EntityType string
	EntityID   string
	Operation  models.Operation
	Payload    json.RawMessage
	Priority   int
}

// Processor applies one action against the remote system. An error
// marks the attempt failed and schedules a retry.
type Processor func(ctx context.Context, action *models.Action) error

// Stats summarizes queue contents by status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Conflict   int `json:"conflict"`
}

// ActionQueue holds pending actions and drains them in priority order.
// The whole action list is persisted as one snapshot to the durable
// store on every mutation; a snapshot write failure is logged and the
// queue continues in memory.
type ActionQueue struct {
	mu      sync.Mutex
	store   store.Store
	clock   clock.Clock
	sink    telemetry.Sink
	cfg     *Config
	actions []*models.Action // enqueue order, preserved for stable sorting
}

// New creates an ActionQueue and restores any snapshot a prior instance
// left in the store.
func New(st store.Store, clk clock.Clock, sink telemetry.Sink, cfg *Config) *ActionQueue {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	if sink == nil {
		sink = telemetry.Noop{}
	}

	q := &ActionQueue{
		store: st,
		clock: clk,
		sink:  sink,
		cfg:   cfg,
	}
	q.restore()
	return q
}

// restore loads the persisted snapshot. Actions that were mid-flight
// when the process died go back to pending.
func (q *ActionQueue) restore() {
	data, err := q.store.Get(q.cfg.StorageKey)
	if err != nil {
		logging.Warn("failed to read queue snapshot, starting empty",
			map[string]interface{}{"error": err.Error()})
		return
	}
	if data == nil {
		return
	}

	var actions []*models.Action
	if err := json.Unmarshal(data, &actions); err != nil {
		logging.Warn("failed to decode queue snapshot, starting empty",
			map[string]interface{}{"error": err.Error()})
		return
	}

	for _, a := range actions {
		if a.Status == models.ActionStatusProcessing {
			a.Status = models.ActionStatusPending
		}
	}
	q.actions = actions

	logging.Info("queue snapshot restored",
		map[string]interface{}{"actions": len(actions)})
}

// persistLocked writes the whole queue snapshot. Failures are logged
// and swallowed; the unflushed change may be lost on crash.
func (q *ActionQueue) persistLocked() {
	data, err := json.Marshal(q.actions)
	if err != nil {
		logging.Error("failed to encode queue snapshot", err, nil)
		return
	}
	if err := q.store.Set(q.cfg.StorageKey, data); err != nil {
		logging.ErrorWithCode("failed to persist queue snapshot",
			string(apperrors.ErrStorageWrite), err,
			map[string]interface{}{"actions": len(q.actions)})
	}
}

// Enqueue adds an action to the queue. It rejects with QUEUE_FULL once
// the configured capacity is reached.
func (q *ActionQueue) Enqueue(input ActionInput) (*models.Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.actions) >= q.cfg.MaxSize {
		return nil, apperrors.Newf(apperrors.ErrQueueFull,
			"queue is full (max size %d)", q.cfg.MaxSize)
	}

	now := q.clock.Now().Unix()
	action := &models.Action{
		ID:          uuid.New().String(),
		EntityType:  input.EntityType,
		EntityID:    input.EntityID,
		Operation:   input.Operation,
		Payload:     input.Payload,
		Priority:    input.Priority,
		EnqueuedAt:  now,
		RetryCount:  0,
		NextRetryAt: now,
		Status:      models.ActionStatusPending,
	}

	q.actions = append(q.actions, action)
	q.persistLocked()

	q.sink.Count(telemetry.EventActionAdded, map[string]interface{}{
		"action_id":   action.ID,
		"entity_type": action.EntityType,
		"operation":   string(action.Operation),
		"priority":    action.Priority,
	})
	logging.Debug("action enqueued", map[string]interface{}{
		"action_id":   action.ID,
		"entity_type": action.EntityType,
		"entity_id":   action.EntityID,
		"priority":    action.Priority,
	})

	return action.Clone(), nil
}

// Drain processes every ready pending action in priority order. Within
// one priority tier processing order equals enqueue order. A single
// action's failure never aborts the pass.
func (q *ActionQueue) Drain(ctx context.Context, process Processor) (int, error) {
	return q.DrainN(ctx, 0, process)
}

// DrainN processes at most n ready pending actions (n <= 0 means all).
// Returns the number of actions attempted.
func (q *ActionQueue) DrainN(ctx context.Context, n int, process Processor) (int, error) {
	ready := q.takeReady(n)
	if len(ready) == 0 {
		return 0, nil
	}

	processed := 0
	for _, action := range ready {
		if err := ctx.Err(); err != nil {
			q.requeue(action.ID)
			q.pruneCompleted()
			return processed, err
		}

		q.setProcessing(action.ID)
		err := process(ctx, action.Clone())
		q.settle(action.ID, err)
		processed++
	}

	q.pruneCompleted()
	return processed, nil
}

// takeReady selects pending actions whose retry time has passed,
// stable-sorted by priority descending so same-priority actions keep
// their enqueue order.
func (q *ActionQueue) takeReady(n int) []*models.Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now().Unix()
	ready := make([]*models.Action, 0)
	for _, a := range q.actions {
		if a.Status == models.ActionStatusPending && a.NextRetryAt <= now {
			ready = append(ready, a)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority > ready[j].Priority
	})

	if n > 0 && len(ready) > n {
		ready = ready[:n]
	}
	return ready
}

// setProcessing marks an action in flight and persists before the
// remote call starts.
func (q *ActionQueue) setProcessing(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a := q.findLocked(id)
	if a == nil {
		return
	}
	a.Status = models.ActionStatusProcessing
	q.persistLocked()
}

// requeue returns an in-flight action to pending without counting an
// attempt; used when a drain pass is cancelled.
func (q *ActionQueue) requeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a := q.findLocked(id)
	if a == nil || a.Status != models.ActionStatusProcessing {
		return
	}
	a.Status = models.ActionStatusPending
	q.persistLocked()
}

// settle records the outcome of one processing attempt.
func (q *ActionQueue) settle(id string, procErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a := q.findLocked(id)
	if a == nil {
		return
	}

	switch {
	case procErr == nil:
		a.Status = models.ActionStatusCompleted
		a.LastError = ""
		q.sink.Count(telemetry.EventActionProcessed, map[string]interface{}{
			"action_id":   a.ID,
			"entity_type": a.EntityType,
			"retry_count": a.RetryCount,
		})

	case stderrors.Is(procErr, ErrManualConflict):
		a.Status = models.ActionStatusConflict
		a.LastError = procErr.Error()
		logging.Info("action held for manual conflict resolution",
			map[string]interface{}{"action_id": a.ID, "entity_id": a.EntityID})

	default:
		a.RetryCount++
		a.LastError = procErr.Error()

		// An unmergeable payload fails deterministically; retrying
		// would just repeat the same remote round trip.
		if a.RetryCount >= q.cfg.MaxRetries ||
			apperrors.Is(procErr, apperrors.ErrInvalidMerge) {
			a.Status = models.ActionStatusFailed
			q.sink.Count(telemetry.EventActionFailed, map[string]interface{}{
				"action_id":   a.ID,
				"entity_type": a.EntityType,
				"retry_count": a.RetryCount,
			})
			logging.ErrorWithCode("action failed permanently",
				string(apperrors.Code(procErr)), procErr,
				map[string]interface{}{
					"action_id": a.ID,
					"entity_id": a.EntityID,
					"retries":   a.RetryCount,
				})
		} else {
			a.Status = models.ActionStatusPending
			delay := q.backoff(a.RetryCount)
			a.NextRetryAt = q.clock.Now().Add(delay).Unix()
			logging.Debug("action scheduled for retry", map[string]interface{}{
				"action_id":     a.ID,
				"retry_count":   a.RetryCount,
				"next_retry_at": a.NextRetryAt,
			})
		}
	}

	q.persistLocked()
}

// pruneCompleted drops COMPLETED actions after a drain pass; they are
// not retained as history.
func (q *ActionQueue) pruneCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.actions[:0]
	pruned := 0
	for _, a := range q.actions {
		if a.Status == models.ActionStatusCompleted {
			pruned++
			continue
		}
		kept = append(kept, a)
	}
	if pruned == 0 {
		return
	}

	q.actions = kept
	q.persistLocked()
}

// MarkConflict attaches conflict details to an action. The drain pass
// moves the action to CONFLICT status when the processor returns
// ErrManualConflict.
func (q *ActionQueue) MarkConflict(id string, details *models.ConflictDetails) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	a := q.findLocked(id)
	if a == nil {
		return apperrors.Newf(apperrors.ErrNotFound, "action %s not found", id)
	}

	a.ConflictDetails = details
	q.persistLocked()
	return nil
}

// ResolveConflict supplies the manual resolution for a CONFLICT action.
// The action re-enters PENDING with the resolved payload and is applied
// on the next drain.
func (q *ActionQueue) ResolveConflict(id, resolution string, payload json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	a := q.findLocked(id)
	if a == nil {
		return apperrors.Newf(apperrors.ErrNotFound, "action %s not found", id)
	}
	if a.Status != models.ActionStatusConflict {
		return apperrors.Newf(apperrors.ErrInvalid,
			"action %s is %s, not %s", id, a.Status, models.ActionStatusConflict)
	}

	if a.ConflictDetails == nil {
		a.ConflictDetails = &models.ConflictDetails{}
	}
	a.ConflictDetails.Resolution = resolution
	a.ConflictDetails.ResolvedPayload = payload
	a.Payload = payload
	a.Status = models.ActionStatusPending
	a.NextRetryAt = q.clock.Now().Unix()
	q.persistLocked()

	logging.Info("manual conflict resolved", map[string]interface{}{
		"action_id":  a.ID,
		"resolution": resolution,
	})
	return nil
}

// RetryFailed resets all FAILED actions to PENDING for another round of
// attempts. Returns the number of actions reset.
func (q *ActionQueue) RetryFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now().Unix()
	count := 0
	for _, a := range q.actions {
		if a.Status == models.ActionStatusFailed {
			a.Status = models.ActionStatusPending
			a.RetryCount = 0
			a.NextRetryAt = now
			a.LastError = ""
			count++
		}
	}

	if count > 0 {
		q.persistLocked()
		logging.Info("failed actions reset for retry",
			map[string]interface{}{"count": count})
	}
	return count
}

// Discard removes a FAILED or CONFLICT action the caller has decided to
// abandon.
func (q *ActionQueue) Discard(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, a := range q.actions {
		if a.ID != id {
			continue
		}
		if a.Status != models.ActionStatusFailed && a.Status != models.ActionStatusConflict {
			return apperrors.Newf(apperrors.ErrInvalid,
				"action %s is %s and cannot be discarded", id, a.Status)
		}
		q.actions = append(q.actions[:i], q.actions[i+1:]...)
		q.persistLocked()
		return nil
	}
	return apperrors.Newf(apperrors.ErrNotFound, "action %s not found", id)
}

// Get returns a copy of one action.
func (q *ActionQueue) Get(id string) (*models.Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a := q.findLocked(id)
	if a == nil {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "action %s not found", id)
	}
	return a.Clone(), nil
}

// List returns copies of all actions in enqueue order.
func (q *ActionQueue) List() []*models.Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*models.Action, 0, len(q.actions))
	for _, a := range q.actions {
		out = append(out, a.Clone())
	}
	return out
}

// Failed returns copies of all permanently failed actions so callers
// can surface them for manual retry or discard.
func (q *ActionQueue) Failed() []*models.Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.Action
	for _, a := range q.actions {
		if a.Status == models.ActionStatusFailed {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Stats returns queue statistics by status.
func (q *ActionQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Total: len(q.actions)}
	for _, a := range q.actions {
		switch a.Status {
		case models.ActionStatusPending:
			stats.Pending++
		case models.ActionStatusProcessing:
			stats.Processing++
		case models.ActionStatusFailed:
			stats.Failed++
		case models.ActionStatusConflict:
			stats.Conflict++
		}
	}
	return stats
}

// Size returns the number of actions currently held.
func (q *ActionQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Clear removes all actions.
func (q *ActionQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.actions = nil
	q.persistLocked()
	logging.Info("queue cleared", nil)
}

// findLocked locates an action by id; callers hold q.mu.
func (q *ActionQueue) findLocked(id string) *models.Action {
	for _, a := range q.actions {
		if a.ID == id {
			return a
		}
	}
	return nil
}
