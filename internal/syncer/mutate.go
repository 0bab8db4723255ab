package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sadopc/blockr/internal/guest"
	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/remote"
	"github.com/sadopc/blockr/internal/retry"
)

// CreateBlock validates b against the current schedule and stores it for the
// current owner. When the service stays unreachable the block is kept under a
// local id, queued, and returned together with ErrQueuedOffline.
func (c *Coordinator) CreateBlock(ctx context.Context, b model.TimeBlock) (model.TimeBlock, error) {
	s, err := c.requireOwner()
	if err != nil {
		return model.TimeBlock{}, err
	}

	b.ID = ""
	b.Title = model.SanitizeTitle(b.Title)
	if err := model.Validate(b); err != nil {
		return model.TimeBlock{}, err
	}
	if err := model.CheckConflict(c.AllBlocks(), b); err != nil {
		return model.TimeBlock{}, err
	}

	if s.mode == model.Guest {
		created, err := c.deps.Guest.AddBlock(b)
		if err != nil {
			return model.TimeBlock{}, fmt.Errorf("create time block: %w", err)
		}
		c.applyLocal(s, Event{Kind: Insert, Block: created})
		return created, nil
	}
	return c.createRemote(ctx, s, b)
}

func (c *Coordinator) createRemote(ctx context.Context, s session, b model.TimeBlock) (model.TimeBlock, error) {
	b.UserID = s.owner
	// The ref doubles as the optimistic id, so a create that reached the
	// service before timing out is matched up again on replay.
	b.ClientRef = guest.LocalIDPrefix + uuid.NewString()

	created, err := retry.Do(ctx, c.retryConfig("create time block"), func(ctx context.Context) (model.TimeBlock, error) {
		return c.deps.Remote.CreateTimeBlock(ctx, s.owner, b)
	})
	if err == nil {
		if created.ClientRef == "" {
			created.ClientRef = b.ClientRef
		}
		c.applyLocal(s, Event{Kind: Insert, Block: created})
		return created, nil
	}
	if !c.retryable(err) {
		return model.TimeBlock{}, fmt.Errorf("create time block: %w", err)
	}

	now := c.now()
	temp := b
	temp.ID = b.ClientRef
	temp.CreatedAt = now
	temp.UpdatedAt = now
	if qerr := c.queue(s, model.PendingOperation{Type: model.OpCreate, Entity: model.EntityBlock, BlockID: temp.ID}, temp); qerr != nil {
		return model.TimeBlock{}, fmt.Errorf("create time block: %w", err)
	}
	c.applyLocal(s, Event{Kind: Insert, Block: temp})
	return temp, fmt.Errorf("%w: %w", ErrQueuedOffline, err)
}

// UpdateBlock merges patch into the block with id. A patch that moves the
// block is checked against the rest of the schedule.
func (c *Coordinator) UpdateBlock(ctx context.Context, id string, patch model.BlockPatch) (model.TimeBlock, error) {
	s, err := c.requireOwner()
	if err != nil {
		return model.TimeBlock{}, err
	}
	cur, ok := c.Block(id)
	if !ok {
		return model.TimeBlock{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if patch.Title != nil {
		t := model.SanitizeTitle(*patch.Title)
		patch.Title = &t
	}
	next := patch.Apply(cur)
	if err := model.Validate(next); err != nil {
		return model.TimeBlock{}, err
	}
	if patch.MovesSlot() {
		if err := model.CheckConflict(c.AllBlocks(), next); err != nil {
			return model.TimeBlock{}, err
		}
	}

	if s.mode == model.Guest {
		updated, err := c.deps.Guest.UpdateBlock(id, patch)
		if err != nil {
			return model.TimeBlock{}, fmt.Errorf("update time block: %w", err)
		}
		if updated == nil {
			return model.TimeBlock{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		c.applyLocal(s, Event{Kind: Update, Block: *updated})
		return *updated, nil
	}

	next.UpdatedAt = c.now()
	if guest.IsLocalID(id) {
		// Not on the service yet; the pending create goes first on replay.
		if err := c.queue(s, model.PendingOperation{Type: model.OpUpdate, Entity: model.EntityBlock, BlockID: id}, patch); err != nil {
			return model.TimeBlock{}, fmt.Errorf("update time block: %w", err)
		}
		c.applyLocal(s, Event{Kind: Update, Block: next})
		return next, ErrQueuedOffline
	}

	updated, err := retry.Do(ctx, c.retryConfig("update time block"), func(ctx context.Context) (model.TimeBlock, error) {
		return c.deps.Remote.UpdateTimeBlock(ctx, id, patch)
	})
	switch {
	case err == nil:
		c.applyLocal(s, Event{Kind: Update, Block: updated})
		return updated, nil
	case errors.Is(err, remote.ErrNotFound):
		c.applyLocal(s, Event{Kind: Delete, Block: cur})
		return model.TimeBlock{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case !c.retryable(err):
		return model.TimeBlock{}, fmt.Errorf("update time block: %w", err)
	}

	if qerr := c.queue(s, model.PendingOperation{Type: model.OpUpdate, Entity: model.EntityBlock, BlockID: id}, patch); qerr != nil {
		return model.TimeBlock{}, fmt.Errorf("update time block: %w", err)
	}
	c.applyLocal(s, Event{Kind: Update, Block: next})
	return next, fmt.Errorf("%w: %w", ErrQueuedOffline, err)
}

// ToggleComplete flips the completed flag of the block with id.
func (c *Coordinator) ToggleComplete(ctx context.Context, id string) (model.TimeBlock, error) {
	cur, ok := c.Block(id)
	if !ok {
		return model.TimeBlock{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	done := !cur.Completed
	return c.UpdateBlock(ctx, id, model.BlockPatch{Completed: &done})
}

// DeleteBlock removes the block with id and remembers it for UndoDelete.
func (c *Coordinator) DeleteBlock(ctx context.Context, id string) error {
	s, err := c.requireOwner()
	if err != nil {
		return err
	}
	cur, ok := c.Block(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if s.mode == model.Guest {
		if err := c.deps.Guest.DeleteBlock(id); err != nil {
			return fmt.Errorf("delete time block: %w", err)
		}
		c.rememberDeleted(s, cur)
		c.applyLocal(s, Event{Kind: Delete, Block: cur})
		return nil
	}

	if guest.IsLocalID(id) {
		c.cancelPending(s, id)
		c.rememberDeleted(s, cur)
		c.applyLocal(s, Event{Kind: Delete, Block: cur})
		return nil
	}

	err = retry.Run(ctx, c.retryConfig("delete time block"), func(ctx context.Context) error {
		return c.deps.Remote.DeleteTimeBlock(ctx, id)
	})
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		if !c.retryable(err) {
			return fmt.Errorf("delete time block: %w", err)
		}
		if qerr := c.queue(s, model.PendingOperation{Type: model.OpDelete, Entity: model.EntityBlock, BlockID: id}, nil); qerr != nil {
			return fmt.Errorf("delete time block: %w", err)
		}
		c.rememberDeleted(s, cur)
		c.applyLocal(s, Event{Kind: Delete, Block: cur})
		return fmt.Errorf("%w: %w", ErrQueuedOffline, err)
	}

	c.rememberDeleted(s, cur)
	c.applyLocal(s, Event{Kind: Delete, Block: cur})
	return nil
}

// CompletePomodoro records a finished focus phase in the day's statistics.
func (c *Coordinator) CompletePomodoro(ctx context.Context, sess model.PomodoroSession) (model.PomodoroStat, error) {
	s, err := c.requireOwner()
	if err != nil {
		return model.PomodoroStat{}, err
	}
	if sess.Date == "" {
		sess.Date = c.today()
	}
	if sess.Count <= 0 {
		sess.Count = 1
	}
	if !sess.Category.Valid() {
		sess.Category = model.CategoryWork
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}

	if s.mode == model.Guest {
		st, err := c.deps.Guest.UpdateDailyStats(sess.Count, sess.Minutes, sess.Category)
		if err != nil {
			return model.PomodoroStat{}, fmt.Errorf("record pomodoro: %w", err)
		}
		c.setStat(s, st)
		return st, nil
	}

	st, err := retry.Do(ctx, c.retryConfig("record pomodoro"), func(ctx context.Context) (model.PomodoroStat, error) {
		return c.deps.Remote.SavePomodoroStat(ctx, s.owner, sess)
	})
	if err == nil {
		c.setStat(s, st)
		return st, nil
	}
	if !c.retryable(err) {
		return model.PomodoroStat{}, fmt.Errorf("record pomodoro: %w", err)
	}
	if qerr := c.queue(s, model.PendingOperation{Type: model.OpCreate, Entity: model.EntityStat}, sess); qerr != nil {
		return model.PomodoroStat{}, fmt.Errorf("record pomodoro: %w", err)
	}

	c.mu.Lock()
	if !c.liveLocked(s) {
		c.mu.Unlock()
		return model.PomodoroStat{}, c.dropped()
	}
	st = c.incrementStatLocked(sess)
	c.deps.Cache.CacheStats(s.owner, sortedStats(c.stats))
	c.mu.Unlock()
	c.notify()
	return st, fmt.Errorf("%w: %w", ErrQueuedOffline, err)
}

// SavePreferences validates and stores p for the current owner.
func (c *Coordinator) SavePreferences(ctx context.Context, p model.Preferences) (model.Preferences, error) {
	s, err := c.requireOwner()
	if err != nil {
		return model.Preferences{}, err
	}
	if err := p.Validate(); err != nil {
		return model.Preferences{}, err
	}

	if s.mode == model.Guest {
		if err := c.deps.Guest.SavePreferences(p); err != nil {
			return model.Preferences{}, fmt.Errorf("save preferences: %w", err)
		}
		c.setPreferences(s, p)
		return p, nil
	}

	p.UserID = s.owner
	saved, err := retry.Do(ctx, c.retryConfig("save preferences"), func(ctx context.Context) (model.Preferences, error) {
		return c.deps.Remote.UpsertPreferences(ctx, s.owner, p)
	})
	if err == nil {
		c.setPreferences(s, saved)
		return saved, nil
	}
	if !c.retryable(err) {
		return model.Preferences{}, fmt.Errorf("save preferences: %w", err)
	}
	if qerr := c.queue(s, model.PendingOperation{Type: model.OpUpdate, Entity: model.EntityPreferences}, p); qerr != nil {
		return model.Preferences{}, fmt.Errorf("save preferences: %w", err)
	}
	c.setPreferences(s, p)
	return p, fmt.Errorf("%w: %w", ErrQueuedOffline, err)
}

// applyLocal folds a confirmed or optimistic change into state.
func (c *Coordinator) applyLocal(s session, ev Event) {
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
		c.notify()
	}
}

func (c *Coordinator) setStat(s session, st model.PomodoroStat) {
	c.mu.Lock()
	if !c.liveLocked(s) {
		c.mu.Unlock()
		return
	}
	c.stats[st.Date] = st
	if c.mode == model.Authenticated {
		c.deps.Cache.CacheStats(s.owner, sortedStats(c.stats))
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) setPreferences(s session, p model.Preferences) {
	c.mu.Lock()
	if !c.liveLocked(s) {
		c.mu.Unlock()
		return
	}
	c.prefs = p
	if c.mode == model.Authenticated {
		c.deps.Cache.CachePreferences(s.owner, p)
	}
	c.mu.Unlock()
	c.notify()
}

// queue records op in the pending ledger with payload encoded as its body.
func (c *Coordinator) queue(s session, op model.PendingOperation, payload any) error {
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode pending operation: %w", err)
		}
		op.Payload = raw
	}
	op.Owner = s.owner
	queued, ok := c.deps.Cache.QueuePendingOperation(op)
	if !ok {
		return errors.New("pending ledger unavailable")
	}
	c.log.Info().
		Str("op_id", queued.ID).
		Str("type", string(queued.Type)).
		Str("entity", string(queued.Target())).
		Str("block_id", queued.BlockID).
		Msg("queued offline write")
	c.setOnline(s, false)
	return nil
}

// cancelPending drops every ledger entry owned by s for a block that never
// reached the service.
func (c *Coordinator) cancelPending(s session, blockID string) {
	for _, op := range c.deps.Cache.PendingFor(s.owner) {
		if op.Target() == model.EntityBlock && op.BlockID == blockID {
			c.deps.Cache.RemovePendingOperation(op.ID)
		}
	}
}
