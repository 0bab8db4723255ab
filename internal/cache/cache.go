// Package cache mirrors the last server snapshot and the pending write ledger
// into the local key-value namespace. Every method fails soft: storage faults
// are logged and reported as a miss or an empty result.
package cache

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/store"
)

const (
	DefaultMaxAge = 5 * time.Minute
	MaxPendingOps = 100
)

// KV is the slice of the local store the cache needs.
type KV interface {
	GetJSON(key string, v any) (bool, error)
	SetJSON(key string, v any) error
	Delete(key string) error
}

type Cache struct {
	kv  KV
	log zerolog.Logger
	now func() time.Time
}

func New(kv KV, logger zerolog.Logger, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		kv:  kv,
		log: logger.With().Str("component", "cache").Logger(),
		now: now,
	}
}

func put[T any](c *Cache, key, owner string, records T) bool {
	env := model.Envelope[T]{Owner: owner, Records: records, Timestamp: c.now()}
	if err := c.kv.SetJSON(key, env); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		return false
	}
	return true
}

// get reads the envelope under key. A snapshot taken for another owner is a
// miss.
func get[T any](c *Cache, key, owner string) (model.Envelope[T], bool) {
	var env model.Envelope[T]
	ok, err := c.kv.GetJSON(key, &env)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		return model.Envelope[T]{}, false
	}
	if !ok || env.Owner != owner {
		return model.Envelope[T]{}, false
	}
	return env, true
}

// CacheBlocks replaces the cached block snapshot for owner. It reports false
// when the snapshot could not be stored.
func (c *Cache) CacheBlocks(owner string, blocks []model.TimeBlock) bool {
	if blocks == nil {
		blocks = []model.TimeBlock{}
	}
	return put(c, store.KeyOfflineBlocks, owner, blocks)
}

func (c *Cache) CachedBlocks(owner string) (model.Envelope[[]model.TimeBlock], bool) {
	return get[[]model.TimeBlock](c, store.KeyOfflineBlocks, owner)
}

// IsCacheStale reports whether owner's block snapshot is missing or older
// than maxAge. A non-positive maxAge means DefaultMaxAge.
func (c *Cache) IsCacheStale(owner string, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	env, ok := c.CachedBlocks(owner)
	if !ok {
		return true
	}
	return env.Stale(c.now(), maxAge)
}

// CacheAge is how old owner's block snapshot is.
func (c *Cache) CacheAge(owner string) (time.Duration, bool) {
	env, ok := c.CachedBlocks(owner)
	if !ok {
		return 0, false
	}
	return c.now().Sub(env.Timestamp), true
}

func (c *Cache) CacheStats(owner string, stats []model.PomodoroStat) bool {
	if stats == nil {
		stats = []model.PomodoroStat{}
	}
	return put(c, store.KeyOfflineStats, owner, stats)
}

func (c *Cache) CachedStats(owner string) (model.Envelope[[]model.PomodoroStat], bool) {
	return get[[]model.PomodoroStat](c, store.KeyOfflineStats, owner)
}

func (c *Cache) CachePreferences(owner string, p model.Preferences) bool {
	return put(c, store.KeyOfflinePreferences, owner, p)
}

func (c *Cache) CachedPreferences(owner string) (model.Envelope[model.Preferences], bool) {
	return get[model.Preferences](c, store.KeyOfflinePreferences, owner)
}

// ClearCache drops every cached snapshot. The pending ledger is kept.
func (c *Cache) ClearCache() {
	for _, key := range []string{store.KeyOfflineBlocks, store.KeyOfflineStats, store.KeyOfflinePreferences} {
		if err := c.kv.Delete(key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("cache clear failed")
		}
	}
}

// ============================================================
// Pending operation ledger
// ============================================================

// QueuePendingOperation appends op to the ledger, filling in its ID and
// enqueue time when empty. The oldest entries are dropped past MaxPendingOps.
func (c *Cache) QueuePendingOperation(op model.PendingOperation) (model.PendingOperation, bool) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = c.now()
	}

	ops := c.PendingOperations()
	ops = append(ops, op)
	if over := len(ops) - MaxPendingOps; over > 0 {
		c.log.Warn().Int("dropped", over).Msg("pending ledger full, dropping oldest operations")
		ops = ops[over:]
	}

	if err := c.kv.SetJSON(store.KeyPendingOps, ops); err != nil {
		c.log.Warn().Err(err).Str("op_id", op.ID).Msg("queue pending operation failed")
		return op, false
	}
	return op, true
}

// PendingOperations returns the ledger in enqueue order. Faults yield an
// empty ledger.
func (c *Cache) PendingOperations() []model.PendingOperation {
	var ops []model.PendingOperation
	if _, err := c.kv.GetJSON(store.KeyPendingOps, &ops); err != nil {
		c.log.Warn().Err(err).Msg("read pending ledger failed")
		return []model.PendingOperation{}
	}
	if ops == nil {
		ops = []model.PendingOperation{}
	}
	return ops
}

// PendingFor returns owner's entries in enqueue order. Entries queued by
// other accounts stay in the ledger but are never returned here.
func (c *Cache) PendingFor(owner string) []model.PendingOperation {
	ops := c.PendingOperations()
	mine := make([]model.PendingOperation, 0, len(ops))
	for _, op := range ops {
		if op.Owner == owner {
			mine = append(mine, op)
		}
	}
	return mine
}

// RemovePendingOperation drops the operation with id. Unknown ids are ignored.
func (c *Cache) RemovePendingOperation(id string) {
	ops := c.PendingOperations()
	kept := ops[:0]
	for _, op := range ops {
		if op.ID != id {
			kept = append(kept, op)
		}
	}
	if len(kept) == len(ops) {
		return
	}
	if err := c.kv.SetJSON(store.KeyPendingOps, kept); err != nil {
		c.log.Warn().Err(err).Str("op_id", id).Msg("remove pending operation failed")
	}
}

// RetargetPendingOperations points every operation on block oldID at newID,
// once the service has assigned a permanent id to a locally created block.
func (c *Cache) RetargetPendingOperations(oldID, newID string) {
	ops := c.PendingOperations()
	changed := false
	for i := range ops {
		if ops[i].BlockID == oldID {
			ops[i].BlockID = newID
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := c.kv.SetJSON(store.KeyPendingOps, ops); err != nil {
		c.log.Warn().Err(err).Str("block_id", oldID).Msg("retarget pending operations failed")
	}
}

func (c *Cache) ClearPendingOperations() {
	if err := c.kv.Delete(store.KeyPendingOps); err != nil {
		c.log.Warn().Err(err).Msg("clear pending ledger failed")
	}
}
