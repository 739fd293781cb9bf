// Package sync orchestrates the offline sync engine: cache reads and
// writes, change queueing, and queue drains against the remote.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/syncengine/internal/clock"
	"github.com/carebridge/syncengine/internal/codec"
	apperrors "github.com/carebridge/syncengine/internal/errors"
	"github.com/carebridge/syncengine/internal/hashing"
	"github.com/carebridge/syncengine/internal/logging"
	"github.com/carebridge/syncengine/internal/models"
	"github.com/carebridge/syncengine/internal/store"
	"github.com/carebridge/syncengine/internal/sync/conflict"
	"github.com/carebridge/syncengine/internal/sync/queue"
	"github.com/carebridge/syncengine/internal/telemetry"
)

// Change describes one local mutation to queue for synchronization.
type Change struct {
	EntityType string
	EntityID   string
	Operation  models.Operation
	Payload    json.RawMessage
	Priority   int
}

// Config holds manager tuning knobs.
type Config struct {
	DeviceID    string
	CacheTTL    time.Duration
	BatchSize   int
	Strategy    conflict.Strategy
	CacheKey    string
	MetadataKey string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		CacheTTL:    24 * time.Hour,
		BatchSize:   50,
		Strategy:    conflict.StrategyMerge,
		CacheKey:    "sync/cache",
		MetadataKey: "sync/metadata",
	}
}

func (c *Config) applyDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Strategy == "" {
		c.Strategy = conflict.StrategyMerge
	}
	if c.CacheKey == "" {
		c.CacheKey = "sync/cache"
	}
	if c.MetadataKey == "" {
		c.MetadataKey = "sync/metadata"
	}
}

// Deps are the manager's collaborators. Store and Queue are required;
// nil optional collaborators get working defaults.
type Deps struct {
	Store    store.Store
	Queue    *queue.ActionQueue
	Resolver *conflict.Resolver
	Remote   RemoteEndpoint
	Codec    codec.Codec
	Clock    clock.Clock
	Sink     telemetry.Sink
}

// Manager is the engine facade. All methods are safe for concurrent
// use; ProcessSyncQueue additionally short-circuits when a drain is
// already running.
type Manager struct {
	mu       stdsync.Mutex
	store    store.Store
	queue    *queue.ActionQueue
	resolver *conflict.Resolver
	remote   RemoteEndpoint
	codec    codec.Codec
	clock    clock.Clock
	sink     telemetry.Sink
	cfg      *Config

	cache   map[string]*models.CacheEntry
	meta    *models.SyncMetadata
	online  bool
	syncing bool
}

// NewManager creates a Manager and restores cache and metadata
// snapshots left by a prior instance. A missing device ID is generated
// and persisted on first use.
func NewManager(deps Deps, cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()

	if deps.Resolver == nil {
		deps.Resolver = conflict.NewResolver()
	}
	if deps.Codec == nil {
		deps.Codec = codec.Gzip{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.Noop{}
	}

	m := &Manager{
		store:    deps.Store,
		queue:    deps.Queue,
		resolver: deps.Resolver,
		remote:   deps.Remote,
		codec:    deps.Codec,
		clock:    deps.Clock,
		sink:     deps.Sink,
		cfg:      cfg,
		cache:    make(map[string]*models.CacheEntry),
	}
	m.restore()
	return m
}

func cacheKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}

// restore loads the persisted cache map and metadata record.
func (m *Manager) restore() {
	if data, err := m.store.Get(m.cfg.CacheKey); err != nil {
		logging.Warn("failed to read cache snapshot, starting empty",
			map[string]interface{}{"error": err.Error()})
	} else if data != nil {
		if err := json.Unmarshal(data, &m.cache); err != nil {
			logging.Warn("failed to decode cache snapshot, starting empty",
				map[string]interface{}{"error": err.Error()})
			m.cache = make(map[string]*models.CacheEntry)
		}
	}

	if data, err := m.store.Get(m.cfg.MetadataKey); err != nil {
		logging.Warn("failed to read sync metadata",
			map[string]interface{}{"error": err.Error()})
	} else if data != nil {
		var meta models.SyncMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			logging.Warn("failed to decode sync metadata",
				map[string]interface{}{"error": err.Error()})
		} else {
			m.meta = &meta
		}
	}

	if m.meta == nil {
		m.meta = &models.SyncMetadata{}
	}
	if m.cfg.DeviceID != "" {
		m.meta.DeviceID = m.cfg.DeviceID
	}
	if m.meta.DeviceID == "" {
		m.meta.DeviceID = uuid.New().String()
		logging.Info("generated device id",
			map[string]interface{}{"device_id": m.meta.DeviceID})
	}
	m.persistMetaLocked()
}

// persistCacheLocked writes the cache snapshot; callers hold m.mu.
// Failures are logged and swallowed, state continues in memory.
func (m *Manager) persistCacheLocked() {
	data, err := json.Marshal(m.cache)
	if err != nil {
		logging.Error("failed to encode cache snapshot", err, nil)
		return
	}
	if err := m.store.Set(m.cfg.CacheKey, data); err != nil {
		logging.ErrorWithCode("failed to persist cache snapshot",
			string(apperrors.ErrStorageWrite), err,
			map[string]interface{}{"entries": len(m.cache)})
	}
}

// persistMetaLocked writes the metadata record; callers hold m.mu.
func (m *Manager) persistMetaLocked() {
	data, err := json.Marshal(m.meta)
	if err != nil {
		logging.Error("failed to encode sync metadata", err, nil)
		return
	}
	if err := m.store.Set(m.cfg.MetadataKey, data); err != nil {
		logging.ErrorWithCode("failed to persist sync metadata",
			string(apperrors.ErrStorageWrite), err, nil)
	}
}

// StoreEntity caches a copy of a record. Version is taken from the
// caller when positive (remote-supplied), otherwise incremented from
// the existing entry. The content hash is computed before encoding.
func (m *Manager) StoreEntity(entityType, entityID string, data json.RawMessage, version int64) error {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid,
			"entity payload is not valid JSON", err)
	}

	encoded, err := m.codec.Encode(data)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal,
			"failed to encode entity payload", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := cacheKey(entityType, entityID)
	if version <= 0 {
		version = 1
		if existing, ok := m.cache[key]; ok {
			version = existing.Version + 1
		}
	}

	now := m.clock.Now().Unix()
	m.cache[key] = &models.CacheEntry{
		Data:        encoded,
		Version:     version,
		Hash:        hashing.Hash(value),
		LastUpdated: now,
		ExpiresAt:   now + int64(m.cfg.CacheTTL.Seconds()),
	}
	m.persistCacheLocked()
	return nil
}

// GetEntity returns the cached copy of a record, or nil when the entry
// is missing or expired. Expired entries are never served.
func (m *Manager) GetEntity(entityType, entityID string) (json.RawMessage, error) {
	m.mu.Lock()
	entry, ok := m.cache[cacheKey(entityType, entityID)]
	now := m.clock.Now().Unix()
	m.mu.Unlock()

	if !ok || entry.Stale(now) {
		return nil, nil
	}

	decoded, err := m.codec.Decode(entry.Data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal,
			"failed to decode cached payload", err)
	}
	return decoded, nil
}

// RemoveEntity drops a record from the cache.
func (m *Manager) RemoveEntity(entityType, entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cacheKey(entityType, entityID)
	if _, ok := m.cache[key]; !ok {
		return
	}
	delete(m.cache, key)
	m.persistCacheLocked()
}

// ClearExpiredCache removes all expired entries and returns how many
// were dropped.
func (m *Manager) ClearExpiredCache() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().Unix()
	removed := 0
	for key, entry := range m.cache {
		if entry.Stale(now) {
			delete(m.cache, key)
			removed++
		}
	}
	if removed > 0 {
		m.persistCacheLocked()
		logging.Debug("expired cache entries removed",
			map[string]interface{}{"count": removed})
	}
	return removed
}

// QueueChange enqueues a local mutation for synchronization.
func (m *Manager) QueueChange(c Change) (*models.Action, error) {
	return m.queue.Enqueue(queue.ActionInput{
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Operation:  c.Operation,
		Payload:    c.Payload,
		Priority:   c.Priority,
	})
}

// SetOnline records the connectivity signal. The scheduler calls this
// on every probe transition.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.online = online
	m.meta.NetworkInfo = models.NetworkInfo{
		Online:    online,
		CheckedAt: m.clock.Now().Unix(),
	}
	m.persistMetaLocked()
}

// Online reports the last recorded connectivity state.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// ProcessSyncQueue drains the action queue against the remote in
// batches. It is a no-op while offline and short-circuits when a drain
// is already in progress.
func (m *Manager) ProcessSyncQueue(ctx context.Context) error {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		logging.Debug("sync already in progress, skipping", nil)
		return nil
	}
	if !m.online {
		m.mu.Unlock()
		logging.Debug("offline, skipping sync", nil)
		return nil
	}
	m.syncing = true
	m.meta.LastAttemptedSync = m.clock.Now().Unix()
	m.persistMetaLocked()
	deviceID := m.meta.DeviceID
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	}()

	m.sink.Count(telemetry.EventSyncStart, map[string]interface{}{
		"device_id": deviceID,
		"pending":   m.queue.Stats().Pending,
	})
	logging.Info("sync started", map[string]interface{}{"device_id": deviceID})

	total := 0
	for {
		processed, err := m.queue.DrainN(ctx, m.cfg.BatchSize, m.processAction)
		total += processed
		if err != nil {
			m.recordSyncError(err)
			m.sink.Count(telemetry.EventSyncError, map[string]interface{}{
				"device_id": deviceID,
				"error":     err.Error(),
			})
			return apperrors.Wrap(apperrors.ErrSyncFailed, "sync interrupted", err)
		}
		if processed == 0 {
			break
		}
	}

	m.mu.Lock()
	m.meta.LastSuccessfulSync = m.clock.Now().Unix()
	m.persistMetaLocked()
	m.mu.Unlock()

	m.sink.Count(telemetry.EventSyncSuccess, map[string]interface{}{
		"device_id": deviceID,
		"processed": total,
	})
	logging.Info("sync finished", map[string]interface{}{
		"device_id": deviceID,
		"processed": total,
	})
	return nil
}

// recordSyncError appends to the bounded error history.
func (m *Manager) recordSyncError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.meta.RecordError(m.clock.Now().Unix(), err.Error())
	m.persistMetaLocked()
}

// processAction applies one queued action against the remote, handling
// any reported conflict.
func (m *Manager) processAction(ctx context.Context, action *models.Action) error {
	m.mu.Lock()
	deviceID := m.meta.DeviceID
	m.mu.Unlock()

	result, err := m.remote.Push(ctx, deviceID, action)
	if err != nil {
		return err
	}

	if result.Conflict {
		return m.handleConflict(ctx, deviceID, action, result)
	}

	m.applyOutcome(action, result.Data)
	return nil
}

// handleConflict resolves a server-reported conflict and re-sends the
// resolved payload once. A manual strategy or a second conflict on the
// re-send holds the action for operator resolution; an unmergeable
// payload propagates as a failure.
func (m *Manager) handleConflict(ctx context.Context, deviceID string, action *models.Action, result *PushResult) error {
	strategy := m.cfg.Strategy
	if !m.resolver.NeedsResolution(action, result.ServerModifiedAt) {
		// Server flagged a conflict but its copy predates this change;
		// the local payload stands.
		strategy = conflict.StrategyClientWins
	}

	outcome, err := m.resolver.Resolve(action, result.ServerData, strategy)
	if err != nil {
		return err
	}
	if outcome.Manual {
		return m.holdForManual(action, result, nil)
	}

	resolved := action.Clone()
	resolved.Payload = outcome.Resolved

	retry, err := m.remote.Push(ctx, deviceID, resolved)
	if err != nil {
		return err
	}
	if retry.Conflict {
		return m.holdForManual(action, retry,
			apperrors.New(apperrors.ErrConflictUnresolved,
				"conflict persisted after automatic resolution"))
	}

	data := retry.Data
	if data == nil {
		data = outcome.Resolved
	}
	m.applyOutcome(action, data)
	return nil
}

// holdForManual records both sides of the conflict and parks the action
// in CONFLICT status.
func (m *Manager) holdForManual(action *models.Action, result *PushResult, cause error) error {
	details := &models.ConflictDetails{
		LocalPayload:  action.Payload,
		RemotePayload: result.ServerData,
	}
	if err := m.queue.MarkConflict(action.ID, details); err != nil {
		return err
	}
	if cause != nil {
		return fmt.Errorf("%w: %v", queue.ErrManualConflict, cause)
	}
	return queue.ErrManualConflict
}

// applyOutcome refreshes the cache after a successful push. Deletes
// drop the entry; other operations store the server's canonical copy,
// falling back to the sent payload.
func (m *Manager) applyOutcome(action *models.Action, data json.RawMessage) {
	if action.Operation == models.OperationDelete {
		m.RemoveEntity(action.EntityType, action.EntityID)
		return
	}

	if data == nil {
		data = action.Payload
	}
	if data == nil {
		return
	}
	if err := m.StoreEntity(action.EntityType, action.EntityID, data, 0); err != nil {
		logging.Warn("failed to refresh cache after sync", map[string]interface{}{
			"entity_type": action.EntityType,
			"entity_id":   action.EntityID,
			"error":       err.Error(),
		})
	}
}

// ResolveManualConflict supplies an operator resolution for a held
// action; it re-enters the queue as pending.
func (m *Manager) ResolveManualConflict(actionID, resolution string, payload json.RawMessage) error {
	return m.queue.ResolveConflict(actionID, resolution, payload)
}

// FailedActions returns all permanently failed actions for manual
// retry or discard.
func (m *Manager) FailedActions() []*models.Action {
	return m.queue.Failed()
}

// RetryFailed resets all failed actions for another round of attempts.
func (m *Manager) RetryFailed() int {
	return m.queue.RetryFailed()
}

// DiscardAction abandons a failed or conflicted action.
func (m *Manager) DiscardAction(actionID string) error {
	return m.queue.Discard(actionID)
}

// QueueStats returns the queue breakdown by status.
func (m *Manager) QueueStats() queue.Stats {
	return m.queue.Stats()
}

// Metadata returns a copy of the per-device sync metadata.
func (m *Manager) Metadata() models.SyncMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta := *m.meta
	meta.SyncErrors = append([]models.SyncError(nil), m.meta.SyncErrors...)
	return meta
}
