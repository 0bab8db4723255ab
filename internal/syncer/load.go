package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/retry"
)

// LoadResult describes where the current view came from.
type LoadResult struct {
	Status    DataStatus
	Blocks    int
	FromCache bool
	CacheAge  time.Duration
	// Err is the fetch failure a cached view stands in for.
	Err error
}

// Load refreshes every collection for the current owner. Authenticated
// owners fall back to the offline cache when the service is unreachable;
// only when no snapshot exists does Load fail with ErrDataUnavailable.
func (c *Coordinator) Load(ctx context.Context) (LoadResult, error) {
	s, err := c.requireOwner()
	if err != nil {
		return LoadResult{}, err
	}
	if s.mode == model.Guest {
		return c.loadGuest(s)
	}
	return c.loadRemote(ctx, s)
}

func (c *Coordinator) loadGuest(s session) (LoadResult, error) {
	blocks := c.deps.Guest.Blocks()
	stats := c.deps.Guest.Stats()
	prefs := c.deps.Guest.Preferences()

	c.mu.Lock()
	if !c.liveLocked(s) {
		c.mu.Unlock()
		return LoadResult{}, c.dropped()
	}
	c.blocks = indexBlocks(blocks)
	c.stats = indexStats(stats)
	c.prefs = prefs
	c.data = DataFresh
	c.mu.Unlock()

	c.notify()
	return LoadResult{Status: DataFresh, Blocks: len(blocks)}, nil
}

func (c *Coordinator) loadRemote(ctx context.Context, s session) (LoadResult, error) {
	var (
		blocks []model.TimeBlock
		stats  []model.PomodoroStat
		prefs  *model.Preferences
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		blocks, err = retry.Do(gctx, c.retryConfig("fetch time blocks"), func(ctx context.Context) ([]model.TimeBlock, error) {
			return c.deps.Remote.TimeBlocks(ctx, s.owner)
		})
		return wrapOp("fetch time blocks", err)
	})
	g.Go(func() error {
		var err error
		stats, err = c.fetchStats(gctx, s.owner)
		return err
	})
	g.Go(func() error {
		var err error
		prefs, err = retry.Do(gctx, c.retryConfig("fetch preferences"), func(ctx context.Context) (*model.Preferences, error) {
			return c.deps.Remote.Preferences(ctx, s.owner)
		})
		return wrapOp("fetch preferences", err)
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			return LoadResult{}, err
		}
		return c.loadCached(s, err)
	}

	ops := c.deps.Cache.PendingFor(s.owner)

	c.mu.Lock()
	if !c.liveLocked(s) {
		c.mu.Unlock()
		return LoadResult{}, c.dropped()
	}
	c.blocks = indexBlocks(blocks)
	c.stats = indexStats(stats)
	c.prefs = model.DefaultPreferences()
	if prefs != nil {
		c.prefs = *prefs
	}
	c.overlayLocked(ops, true)
	c.data = DataFresh
	c.online = true
	c.lastSync = c.now()
	c.snapshotCacheLocked()
	c.deps.Cache.CacheStats(s.owner, sortedStats(c.stats))
	c.deps.Cache.CachePreferences(s.owner, c.prefs)
	n := len(c.blocks)
	c.mu.Unlock()

	c.log.Debug().Int("blocks", n).Int("pending", len(ops)).Msg("loaded from service")
	c.notify()
	return LoadResult{Status: DataFresh, Blocks: n}, nil
}

// loadCached serves the last snapshot after a failed fetch. Cached stats
// already include optimistic increments, so only block and preference
// writes are replayed on top.
func (c *Coordinator) loadCached(s session, cause error) (LoadResult, error) {
	env, ok := c.deps.Cache.CachedBlocks(s.owner)
	if !ok {
		c.mu.Lock()
		if c.liveLocked(s) {
			c.data = DataUnavailable
			c.online = false
		}
		c.mu.Unlock()
		c.notify()
		c.log.Warn().Err(cause).Msg("service unreachable and nothing cached")
		return LoadResult{Status: DataUnavailable, Err: cause}, fmt.Errorf("%w: %w", ErrDataUnavailable, cause)
	}
	statsEnv, _ := c.deps.Cache.CachedStats(s.owner)
	prefsEnv, hasPrefs := c.deps.Cache.CachedPreferences(s.owner)
	ops := c.deps.Cache.PendingFor(s.owner)
	age := c.now().Sub(env.Timestamp)

	c.mu.Lock()
	if !c.liveLocked(s) {
		c.mu.Unlock()
		return LoadResult{}, c.dropped()
	}
	c.blocks = indexBlocks(env.Records)
	c.stats = indexStats(statsEnv.Records)
	c.prefs = model.DefaultPreferences()
	if hasPrefs {
		c.prefs = prefsEnv.Records
	}
	c.overlayLocked(ops, false)
	c.data = DataStale
	c.online = false
	n := len(c.blocks)
	c.mu.Unlock()

	c.log.Warn().Err(cause).Dur("cache_age", age).Msg("serving cached data")
	c.notify()
	return LoadResult{Status: DataStale, Blocks: n, FromCache: true, CacheAge: age, Err: cause}, nil
}

func (c *Coordinator) fetchStats(ctx context.Context, owner string) ([]model.PomodoroStat, error) {
	stats, err := retry.Do(ctx, c.retryConfig("fetch pomodoro stats"), func(ctx context.Context) ([]model.PomodoroStat, error) {
		return c.deps.Remote.PomodoroStats(ctx, owner)
	})
	return stats, wrapOp("fetch pomodoro stats", err)
}

// overlayLocked replays unconfirmed writes onto freshly replaced state so
// the view keeps showing them until they are flushed.
func (c *Coordinator) overlayLocked(ops []model.PendingOperation, withStats bool) {
	for _, op := range ops {
		switch op.Target() {
		case model.EntityBlock:
			c.overlayBlockLocked(op)
		case model.EntityStat:
			if !withStats {
				continue
			}
			var sess model.PomodoroSession
			if err := json.Unmarshal(op.Payload, &sess); err != nil {
				c.log.Warn().Err(err).Str("op_id", op.ID).Msg("skip unreadable pending stat")
				continue
			}
			c.incrementStatLocked(sess)
		case model.EntityPreferences:
			var p model.Preferences
			if err := json.Unmarshal(op.Payload, &p); err != nil {
				c.log.Warn().Err(err).Str("op_id", op.ID).Msg("skip unreadable pending preferences")
				continue
			}
			c.prefs = p
		}
	}
}

func (c *Coordinator) overlayBlockLocked(op model.PendingOperation) {
	switch op.Type {
	case model.OpCreate:
		var b model.TimeBlock
		if err := json.Unmarshal(op.Payload, &b); err != nil {
			c.log.Warn().Err(err).Str("op_id", op.ID).Msg("skip unreadable pending create")
			return
		}
		Apply(c.blocks, Event{Kind: Insert, Block: b})
	case model.OpUpdate:
		var patch model.BlockPatch
		if err := json.Unmarshal(op.Payload, &patch); err != nil {
			c.log.Warn().Err(err).Str("op_id", op.ID).Msg("skip unreadable pending update")
			return
		}
		if b, ok := c.blocks[op.BlockID]; ok {
			Apply(c.blocks, Event{Kind: Update, Block: patch.Apply(b)})
		}
	case model.OpDelete:
		Apply(c.blocks, Event{Kind: Delete, Block: model.TimeBlock{ID: op.BlockID}})
	}
}

func (c *Coordinator) incrementStatLocked(sess model.PomodoroSession) model.PomodoroStat {
	st, ok := c.stats[sess.Date]
	if !ok {
		st = model.PomodoroStat{UserID: c.owner, Date: sess.Date, CreatedAt: c.now()}
	}
	st.CategoryBreakdown = maps.Clone(st.CategoryBreakdown)
	if !st.Record(sess) {
		return st
	}
	st.UpdatedAt = c.now()
	c.stats[sess.Date] = st
	return st
}

func indexBlocks(blocks []model.TimeBlock) map[string]model.TimeBlock {
	m := make(map[string]model.TimeBlock, len(blocks))
	for _, b := range blocks {
		if b.ID != "" {
			m[b.ID] = b
		}
	}
	return m
}

func indexStats(stats []model.PomodoroStat) map[string]model.PomodoroStat {
	m := make(map[string]model.PomodoroStat, len(stats))
	for _, s := range stats {
		m[s.Date] = s
	}
	return m
}
