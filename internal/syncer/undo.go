package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/store"
)

// MaxUndo is how many deleted blocks are remembered.
const MaxUndo = 10

type deletedEntry struct {
	Owner     string          `json:"owner"`
	Block     model.TimeBlock `json:"block"`
	DeletedAt time.Time       `json:"deleted_at"`
}

func (c *Coordinator) deletedEntries() []deletedEntry {
	if c.deps.KV == nil {
		return nil
	}
	var entries []deletedEntry
	if _, err := c.deps.KV.GetJSON(store.KeyDeletedBlocks, &entries); err != nil {
		c.log.Warn().Err(err).Msg("read undo ledger failed")
		return nil
	}
	return entries
}

func (c *Coordinator) saveDeleted(entries []deletedEntry) {
	if c.deps.KV == nil {
		return
	}
	if err := c.deps.KV.SetJSON(store.KeyDeletedBlocks, entries); err != nil {
		c.log.Warn().Err(err).Msg("write undo ledger failed")
	}
}

// rememberDeleted pushes b onto the undo ledger, most recent first.
func (c *Coordinator) rememberDeleted(s session, b model.TimeBlock) {
	entries := append([]deletedEntry{{Owner: s.owner, Block: b, DeletedAt: c.now()}}, c.deletedEntries()...)
	if len(entries) > MaxUndo {
		entries = entries[:MaxUndo]
	}
	c.saveDeleted(entries)
}

// CanUndo reports whether the current owner has a deletion to take back.
func (c *Coordinator) CanUndo() bool {
	s := c.current()
	for _, e := range c.deletedEntries() {
		if e.Owner == s.owner {
			return true
		}
	}
	return false
}

// UndoDelete restores the most recently deleted block of the current owner.
// The entry stays on the ledger when the restore fails.
func (c *Coordinator) UndoDelete(ctx context.Context) (model.TimeBlock, error) {
	s, err := c.requireOwner()
	if err != nil {
		return model.TimeBlock{}, err
	}

	var entry *deletedEntry
	for _, e := range c.deletedEntries() {
		if e.Owner == s.owner {
			entry = &e
			break
		}
	}
	if entry == nil {
		return model.TimeBlock{}, ErrNothingToUndo
	}

	var restored model.TimeBlock
	if s.mode == model.Guest {
		b := entry.Block
		if err := model.CheckConflict(c.AllBlocks(), b); err != nil {
			return model.TimeBlock{}, err
		}
		restored, err = c.deps.Guest.RestoreBlock(b)
		if err != nil {
			return model.TimeBlock{}, fmt.Errorf("restore time block: %w", err)
		}
		c.applyLocal(s, Event{Kind: Insert, Block: restored})
	} else {
		b := entry.Block
		b.ClientRef = ""
		restored, err = c.CreateBlock(ctx, b)
		if err != nil && !errors.Is(err, ErrQueuedOffline) {
			return model.TimeBlock{}, err
		}
	}

	c.forgetDeleted(*entry)
	return restored, err
}

func (c *Coordinator) forgetDeleted(target deletedEntry) {
	entries := c.deletedEntries()
	for i, e := range entries {
		if e.Owner == target.Owner && e.Block.ID == target.Block.ID && e.DeletedAt.Equal(target.DeletedAt) {
			c.saveDeleted(append(entries[:i], entries[i+1:]...))
			return
		}
	}
}
