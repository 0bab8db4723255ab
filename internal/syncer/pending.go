package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sadopc/blockr/internal/guest"
	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/retry"
)

var ErrFlushInProgress = errors.New("flush already in progress")

// errDeferred marks an operation on a block whose create has not gone
// through yet. It stays in the ledger for the next flush.
var errDeferred = errors.New("waiting on pending create")

// errCreateRejected marks an operation on a block whose create the service
// refused during this flush.
var errCreateRejected = errors.New("pending create was rejected")

// FlushReport summarizes one replay of the pending ledger.
type FlushReport struct {
	Flushed   int
	Failed    int
	Dropped   int
	Deferred  int
	Remaining int
}

// FlushPending replays the pending ledger in order through a retry queue.
// Confirmed operations leave the ledger, rejected ones are dropped, and ones
// that keep failing stay for the next attempt.
func (c *Coordinator) FlushPending(ctx context.Context) (FlushReport, error) {
	s, err := c.requireOwner()
	if err != nil {
		return FlushReport{}, err
	}
	if s.mode != model.Authenticated {
		return FlushReport{}, nil
	}
	if !c.flushMu.TryLock() {
		return FlushReport{}, ErrFlushInProgress
	}
	defer c.flushMu.Unlock()

	ops := c.deps.Cache.PendingFor(s.owner)
	if len(ops) == 0 {
		return FlushReport{}, nil
	}

	var (
		mu     sync.Mutex
		report FlushReport
		ids    = make(map[string]string)
	)

	cfg := c.retryConfig("flush pending")
	cfg.RetryIf = func(err error) bool {
		return !errors.Is(err, errDeferred) && !errors.Is(err, errCreateRejected) && c.retryable(err)
	}
	q := retry.NewQueue(retry.QueueConfig{
		Retry:   cfg,
		Context: ctx,
		OnProgress: func(p retry.Progress) {
			mu.Lock()
			defer mu.Unlock()
			if p.Event == retry.EventSuccess {
				report.Flushed++
				return
			}
			if p.Event != retry.EventFailed {
				return
			}
			switch {
			case errors.Is(p.Err, errDeferred):
				report.Deferred++
			case errors.Is(p.Err, errCreateRejected):
				report.Dropped++
				c.deps.Cache.RemovePendingOperation(p.Meta.ID)
			case ctx.Err() != nil, cfg.RetryIf(p.Err):
				report.Failed++
			default:
				report.Dropped++
				c.dropPending(s, p.Meta.ID, ops, ids)
				c.log.Warn().Err(p.Err).Str("op_id", p.Meta.ID).Str("kind", p.Meta.Kind).Msg("service rejected pending operation")
			}
		},
	})
	defer q.Close()

	for _, op := range ops {
		run := func(ctx context.Context) error {
			return c.replay(ctx, s, op, ids, &mu)
		}
		if err := q.Add(run, retry.Metadata{ID: op.ID, Kind: string(op.Type) + " " + string(op.Target())}); err != nil {
			return report, fmt.Errorf("flush pending: %w", err)
		}
	}

	if err := q.Wait(ctx); err != nil {
		q.Clear()
		// The running replay sees ctx as well. It has to settle before the
		// ledger is handed to the next flush.
		_ = q.Wait(context.Background())
		mu.Lock()
		out := report
		mu.Unlock()
		out.Remaining = len(c.deps.Cache.PendingFor(s.owner))
		c.log.Info().Err(err).Int("flushed", out.Flushed).Int("remaining", out.Remaining).Msg("flush interrupted")
		return out, err
	}

	mu.Lock()
	out := report
	mu.Unlock()
	out.Remaining = len(c.deps.Cache.PendingFor(s.owner))

	if out.Flushed > 0 {
		c.mu.Lock()
		if c.liveLocked(s) {
			c.lastSync = c.now()
			c.online = true
		}
		c.mu.Unlock()
		c.notify()
	}
	c.log.Info().
		Int("flushed", out.Flushed).
		Int("failed", out.Failed).
		Int("dropped", out.Dropped).
		Int("deferred", out.Deferred).
		Int("remaining", out.Remaining).
		Msg("flushed pending operations")
	return out, nil
}

// replay sends one ledger entry to the service and, once confirmed, removes
// it from the ledger and settles state.
func (c *Coordinator) replay(ctx context.Context, s session, op model.PendingOperation, ids map[string]string, mu *sync.Mutex) error {
	resolve := func(id string) (string, error) {
		if !guest.IsLocalID(id) {
			return id, nil
		}
		mu.Lock()
		defer mu.Unlock()
		if real, ok := ids[id]; ok {
			if real == "" {
				return "", errCreateRejected
			}
			return real, nil
		}
		return "", errDeferred
	}

	switch op.Target() {
	case model.EntityStat:
		var sess model.PomodoroSession
		if err := json.Unmarshal(op.Payload, &sess); err != nil {
			return fmt.Errorf("decode pending stat: %w", err)
		}
		if _, err := c.deps.Remote.SavePomodoroStat(ctx, s.owner, sess); err != nil {
			return err
		}
		c.deps.Cache.RemovePendingOperation(op.ID)
		return nil

	case model.EntityPreferences:
		var p model.Preferences
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("decode pending preferences: %w", err)
		}
		if _, err := c.deps.Remote.UpsertPreferences(ctx, s.owner, p); err != nil {
			return err
		}
		c.deps.Cache.RemovePendingOperation(op.ID)
		return nil
	}

	switch op.Type {
	case model.OpCreate:
		var temp model.TimeBlock
		if err := json.Unmarshal(op.Payload, &temp); err != nil {
			return fmt.Errorf("decode pending create: %w", err)
		}
		b := temp
		b.ID = ""
		if b.ClientRef == "" {
			b.ClientRef = temp.ID
		}
		created, err := c.deps.Remote.CreateTimeBlock(ctx, s.owner, b)
		if err != nil {
			return err
		}
		if created.ClientRef == "" {
			created.ClientRef = temp.ID
		}
		mu.Lock()
		ids[temp.ID] = created.ID
		mu.Unlock()
		c.deps.Cache.RemovePendingOperation(op.ID)
		c.deps.Cache.RetargetPendingOperations(temp.ID, created.ID)
		c.applyLocal(s, Event{Kind: Insert, Block: created})
		return nil

	case model.OpUpdate:
		id, err := resolve(op.BlockID)
		if err != nil {
			return err
		}
		var patch model.BlockPatch
		if err := json.Unmarshal(op.Payload, &patch); err != nil {
			return fmt.Errorf("decode pending update: %w", err)
		}
		updated, err := c.deps.Remote.UpdateTimeBlock(ctx, id, patch)
		if err != nil {
			return err
		}
		c.deps.Cache.RemovePendingOperation(op.ID)
		c.applyLocal(s, Event{Kind: Update, Block: updated})
		return nil

	case model.OpDelete:
		id, err := resolve(op.BlockID)
		if err != nil {
			return err
		}
		if err := c.deps.Remote.DeleteTimeBlock(ctx, id); err != nil {
			return err
		}
		c.deps.Cache.RemovePendingOperation(op.ID)
		c.applyLocal(s, Event{Kind: Delete, Block: model.TimeBlock{ID: id}})
		return nil
	}
	return fmt.Errorf("unknown pending operation %q", op.Type)
}

// dropPending removes a rejected operation. A rejected create also takes its
// optimistic record out of the view and cancels every later write on that
// block, which could never be resolved. Callers hold the lock guarding ids.
func (c *Coordinator) dropPending(s session, id string, ops []model.PendingOperation, ids map[string]string) {
	c.deps.Cache.RemovePendingOperation(id)
	for _, op := range ops {
		if op.ID == id && op.Type == model.OpCreate && op.Target() == model.EntityBlock {
			ids[op.BlockID] = ""
			c.cancelPending(s, op.BlockID)
			c.applyLocal(s, Event{Kind: Delete, Block: model.TimeBlock{ID: op.BlockID}})
		}
	}
}
