package syncer

import (
	"context"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/remote"
)

// subscribe opens the push channel for s. A failure leaves the coordinator
// working from fetches alone.
func (c *Coordinator) subscribe(s session) {
	if c.deps.Realtime == nil {
		return
	}

	wasDown := false
	h := remote.Handlers{
		OnInsert:      func(b model.TimeBlock) { c.applyRemote(s, Event{Kind: Insert, Block: b}) },
		OnUpdate:      func(b model.TimeBlock) { c.applyRemote(s, Event{Kind: Update, Block: b}) },
		OnDelete:      func(b model.TimeBlock) { c.applyRemote(s, Event{Kind: Delete, Block: b}) },
		OnStatsChange: func() { go c.refreshStats(s) },
		OnStatus: func(up bool) {
			c.setOnline(s, up)
			if !up {
				wasDown = true
				return
			}
			if wasDown && len(c.deps.Cache.PendingFor(s.owner)) > 0 {
				go func() {
					if _, err := c.FlushPending(context.Background()); err != nil {
						c.log.Warn().Err(err).Msg("flush after reconnect failed")
					}
				}()
			}
		},
	}

	stop, err := c.deps.Realtime(context.Background(), s.owner, h)
	if err != nil {
		c.log.Warn().Err(err).Msg("realtime unavailable")
		return
	}

	c.mu.Lock()
	if !c.liveLocked(s) {
		c.mu.Unlock()
		stop()
		return
	}
	c.stopRT = stop
	c.mu.Unlock()
}

// applyRemote merges a pushed change into state. Events for a previous owner
// or after Close are dropped.
func (c *Coordinator) applyRemote(s session, ev Event) {
	c.mu.Lock()
	if !c.liveLocked(s) {
		c.mu.Unlock()
		return
	}
	var changed bool
	if ev.Kind == Insert {
		changed = settle(c.blocks, ev.Block)
	} else {
		changed = Apply(c.blocks, ev)
	}
	if changed {
		c.snapshotCacheLocked()
	}
	c.mu.Unlock()

	if changed {
		c.log.Debug().Str("event", ev.Kind.String()).Str("block_id", ev.Block.ID).Msg("merged push event")
		c.notify()
	}
}

func (c *Coordinator) refreshStats(s session) {
	stats, err := c.fetchStats(context.Background(), s.owner)
	if err != nil {
		c.log.Warn().Err(err).Msg("refresh stats after push failed")
		return
	}

	ops := c.deps.Cache.PendingFor(s.owner)

	c.mu.Lock()
	if !c.liveLocked(s) {
		c.mu.Unlock()
		return
	}
	c.stats = indexStats(stats)
	c.overlayLocked(ops, true)
	c.deps.Cache.CacheStats(s.owner, sortedStats(c.stats))
	c.mu.Unlock()
	c.notify()
}
