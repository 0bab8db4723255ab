package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/store"
)

// AutoRollover moves unfinished blocks from earlier days onto today. It runs
// at most once per day per owner. Blocks whose slot is already taken today
// stay where they are.
func (c *Coordinator) AutoRollover(ctx context.Context) (int, error) {
	s, err := c.requireOwner()
	if err != nil {
		return 0, err
	}
	today := c.today()
	key := store.KeyLastRollover(s.owner)

	if c.deps.KV != nil {
		var last string
		if _, err := c.deps.KV.GetJSON(key, &last); err != nil {
			c.log.Warn().Err(err).Msg("read last rollover failed")
		}
		if last == today {
			return 0, nil
		}
	}

	var candidates []model.TimeBlock
	for _, b := range c.AllBlocks() {
		if !b.Completed && b.RolloverEnabled && b.Date < today {
			candidates = append(candidates, b)
		}
	}

	moved := 0
	var errs []error
	for _, b := range candidates {
		original := b.Date
		if b.OriginalDate != nil && *b.OriginalDate != "" {
			original = *b.OriginalDate
		}
		rolled := true
		count := b.RolloverCount + 1
		patch := model.BlockPatch{
			Date:          &today,
			IsRolledOver:  &rolled,
			OriginalDate:  &original,
			RolloverCount: &count,
		}

		_, err := c.UpdateBlock(ctx, b.ID, patch)
		switch {
		case err == nil, errors.Is(err, ErrQueuedOffline):
			moved++
		case errors.Is(err, model.ErrSlotConflict):
			c.log.Debug().Str("block_id", b.ID).Msg("rollover skipped, slot taken")
		default:
			errs = append(errs, fmt.Errorf("roll over %s: %w", b.ID, err))
		}
	}

	if len(errs) > 0 {
		return moved, errors.Join(errs...)
	}
	if c.deps.KV != nil {
		if err := c.deps.KV.SetJSON(key, today); err != nil {
			c.log.Warn().Err(err).Msg("persist last rollover failed")
		}
	}
	if moved > 0 {
		c.log.Info().Int("moved", moved).Str("date", today).Msg("rolled over unfinished blocks")
	}
	return moved, nil
}
