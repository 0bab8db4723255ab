package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/retry"
	"github.com/sadopc/blockr/internal/store"
)

var ErrMigrationIncomplete = errors.New("guest data only partly migrated")

// MigrationReport counts what happened to each guest record.
type MigrationReport struct {
	Migrated int
	Skipped  int
	Failed   int
	Errors   []error
}

// MigrationState is the persisted progress of moving one guest's records to
// one account, so an interrupted upgrade can resume without duplicates.
type MigrationState struct {
	GuestID       string    `json:"guest_id"`
	Owner         string    `json:"owner"`
	Stats         []string  `json:"stats"`
	PrefsMigrated bool      `json:"prefs_migrated"`
	Completed     bool      `json:"completed"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
}

// AccountUpgraded moves every guest record to ownerID and switches to
// Authenticated. Blocks already on the service (matched by client ref) are
// skipped. Guest data is only cleared once everything made it across;
// otherwise it stays and the report says what failed.
func (c *Coordinator) AccountUpgraded(ctx context.Context, ownerID string) (MigrationReport, error) {
	var report MigrationReport
	if c.closed.Load() {
		return report, ErrClosed
	}
	if ownerID == "" {
		return report, ErrNoOwner
	}

	data := c.deps.Guest.AllData()
	state := c.migrationState(data.GuestID, ownerID)
	log := c.log.With().Str("guest_id", data.GuestID).Str("owner", ownerID).Logger()

	existing, err := retry.Do(ctx, c.retryConfig("fetch time blocks"), func(ctx context.Context) ([]model.TimeBlock, error) {
		return c.deps.Remote.TimeBlocks(ctx, ownerID)
	})
	if err != nil {
		return report, fmt.Errorf("migrate guest data: %w", err)
	}
	refs := make(map[string]bool, len(existing))
	for _, b := range existing {
		if b.ClientRef != "" {
			refs[b.ClientRef] = true
		}
	}

	fail := func(what string, err error) {
		report.Failed++
		report.Errors = append(report.Errors, fmt.Errorf("migrate %s: %w", what, err))
	}

	for _, b := range data.Blocks {
		if refs[b.ID] {
			report.Skipped++
			continue
		}
		nb := b
		nb.ID = ""
		nb.UserID = ownerID
		nb.ClientRef = b.ID
		_, err := retry.Do(ctx, c.retryConfig("migrate time block"), func(ctx context.Context) (model.TimeBlock, error) {
			return c.deps.Remote.CreateTimeBlock(ctx, ownerID, nb)
		})
		if err != nil {
			fail("time block "+b.ID, err)
			continue
		}
		report.Migrated++
	}

	for _, st := range data.Stats {
		statOK, statDone := true, true
		for _, sess := range splitSessions(st) {
			key := sess.Date + "|" + string(sess.Category)
			if slices.Contains(state.Stats, key) {
				continue
			}
			statDone = false
			sess.ID = "guest:" + data.GuestID + "|" + key
			_, err := retry.Do(ctx, c.retryConfig("migrate pomodoro stat"), func(ctx context.Context) (model.PomodoroStat, error) {
				return c.deps.Remote.SavePomodoroStat(ctx, ownerID, sess)
			})
			if err != nil {
				fail("pomodoro stat "+key, err)
				statOK = false
				break
			}
			state.Stats = append(state.Stats, key)
			c.saveMigrationState(state)
		}
		switch {
		case statDone:
			report.Skipped++
		case statOK:
			report.Migrated++
		}
	}

	if data.Preferences != nil {
		if state.PrefsMigrated {
			report.Skipped++
		} else {
			p := *data.Preferences
			p.UserID = ownerID
			_, err := retry.Do(ctx, c.retryConfig("migrate preferences"), func(ctx context.Context) (model.Preferences, error) {
				return c.deps.Remote.UpsertPreferences(ctx, ownerID, p)
			})
			if err != nil {
				fail("preferences", err)
			} else {
				state.PrefsMigrated = true
				report.Migrated++
			}
		}
	}

	if report.Failed > 0 {
		c.saveMigrationState(state)
		log.Warn().Int("migrated", report.Migrated).Int("failed", report.Failed).Msg("guest migration incomplete")
		return report, fmt.Errorf("%w: %w", ErrMigrationIncomplete, errors.Join(report.Errors...))
	}

	state.Completed = true
	state.CompletedAt = c.now()
	c.saveMigrationState(state)
	if err := c.deps.Guest.ClearAllData(); err != nil {
		log.Warn().Err(err).Msg("clear guest data after migration failed")
	}
	log.Info().Int("migrated", report.Migrated).Int("skipped", report.Skipped).Msg("guest data migrated")

	if err := c.SetMode(ctx, model.Authenticated, ownerID); err != nil {
		return report, err
	}
	return report, nil
}

// migrationState resumes the marker for this guest and owner, or starts a
// new one.
func (c *Coordinator) migrationState(guestID, owner string) MigrationState {
	fresh := MigrationState{GuestID: guestID, Owner: owner}
	if c.deps.KV == nil {
		return fresh
	}
	var st MigrationState
	ok, err := c.deps.KV.GetJSON(store.KeyMigrationMarker, &st)
	if err != nil {
		c.log.Warn().Err(err).Msg("read migration marker failed")
		return fresh
	}
	if !ok || st.GuestID != guestID || st.Owner != owner {
		return fresh
	}
	return st
}

func (c *Coordinator) saveMigrationState(st MigrationState) {
	if c.deps.KV == nil {
		return
	}
	if err := c.deps.KV.SetJSON(store.KeyMigrationMarker, st); err != nil {
		c.log.Warn().Err(err).Msg("write migration marker failed")
	}
}

// splitSessions turns a day's totals into one session per category so the
// service can rebuild the breakdown. Pomodoros missing from the breakdown,
// or filed under an unknown category, count as work. Focus minutes are
// shared out by count.
func splitSessions(st model.PomodoroStat) []model.PomodoroSession {
	counts := make(map[model.Category]int, len(st.CategoryBreakdown))
	sum := 0
	for cat, n := range st.CategoryBreakdown {
		if n <= 0 {
			continue
		}
		if !cat.Valid() {
			cat = model.CategoryWork
		}
		counts[cat] += n
		sum += n
	}
	if st.PomodorosCompleted > sum {
		counts[model.CategoryWork] += st.PomodorosCompleted - sum
		sum = st.PomodorosCompleted
	}
	if sum == 0 {
		return nil
	}

	cats := make([]model.Category, 0, len(counts))
	for _, cat := range model.Categories {
		if counts[cat] > 0 {
			cats = append(cats, cat)
		}
	}

	out := make([]model.PomodoroSession, 0, len(cats))
	left := st.FocusMinutes
	for i, cat := range cats {
		minutes := st.FocusMinutes * counts[cat] / sum
		if i == len(cats)-1 {
			minutes = left
		}
		left -= minutes
		out = append(out, model.PomodoroSession{Date: st.Date, Count: counts[cat], Minutes: minutes, Category: cat})
	}
	return out
}
