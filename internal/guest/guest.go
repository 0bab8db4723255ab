// Package guest keeps a complete record set on the local machine for owners
// without an account. Reads fail soft to empty collections; writes return
// their errors.
package guest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/store"
)

const LocalIDPrefix = "local_"

type KV interface {
	GetJSON(key string, v any) (bool, error)
	SetJSON(key string, v any) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

type Store struct {
	kv  KV
	log zerolog.Logger
	now func() time.Time
}

func New(kv KV, logger zerolog.Logger, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		kv:  kv,
		log: logger.With().Str("component", "guest").Logger(),
		now: now,
	}
}

// Data is everything a guest has stored, as handed to a migration.
type Data struct {
	GuestID     string
	Blocks      []model.TimeBlock
	Stats       []model.PomodoroStat
	Preferences *model.Preferences
}

func (s *Store) token(prefix string) string {
	r := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return prefix + strconv.FormatInt(s.now().UnixMilli(), 10) + "_" + r
}

// IsLocalID reports whether id was minted on this machine.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// GuestID returns the persisted guest identity, creating it on first use.
func (s *Store) GuestID() string {
	var id string
	ok, err := s.kv.GetJSON(store.KeyGuestID, &id)
	if err != nil {
		s.log.Warn().Err(err).Msg("read guest id failed")
	}
	if ok && id != "" {
		return id
	}

	id = s.token("guest_")
	if err := s.kv.SetJSON(store.KeyGuestID, id); err != nil {
		s.log.Warn().Err(err).Msg("persist guest id failed")
	}
	return id
}

// ============================================================
// Time blocks
// ============================================================

func (s *Store) Blocks() []model.TimeBlock {
	var blocks []model.TimeBlock
	if _, err := s.kv.GetJSON(store.KeyGuestBlocks, &blocks); err != nil {
		s.log.Warn().Err(err).Msg("read guest blocks failed")
		return []model.TimeBlock{}
	}
	if blocks == nil {
		blocks = []model.TimeBlock{}
	}
	return blocks
}

func (s *Store) saveBlocks(blocks []model.TimeBlock) error {
	if err := s.kv.SetJSON(store.KeyGuestBlocks, blocks); err != nil {
		return fmt.Errorf("save guest blocks: %w", err)
	}
	return nil
}

// AddBlock stores b under a freshly minted local id owned by the guest.
func (s *Store) AddBlock(b model.TimeBlock) (model.TimeBlock, error) {
	now := s.now()
	b.ID = s.token(LocalIDPrefix)
	b.UserID = s.GuestID()
	b.CreatedAt = now
	b.UpdatedAt = now

	blocks := append(s.Blocks(), b)
	if err := s.saveBlocks(blocks); err != nil {
		return model.TimeBlock{}, err
	}
	return b, nil
}

// RestoreBlock puts back a previously deleted block under its original id.
// It is a no-op when the id is already present.
func (s *Store) RestoreBlock(b model.TimeBlock) (model.TimeBlock, error) {
	blocks := s.Blocks()
	for _, existing := range blocks {
		if existing.ID == b.ID {
			return existing, nil
		}
	}
	b.UpdatedAt = s.now()
	if err := s.saveBlocks(append(blocks, b)); err != nil {
		return model.TimeBlock{}, err
	}
	return b, nil
}

// UpdateBlock merges patch into the block with id. It returns nil, nil when
// no such block exists.
func (s *Store) UpdateBlock(id string, patch model.BlockPatch) (*model.TimeBlock, error) {
	blocks := s.Blocks()
	for i := range blocks {
		if blocks[i].ID != id {
			continue
		}
		updated := patch.Apply(blocks[i])
		updated.UpdatedAt = s.now()
		blocks[i] = updated
		if err := s.saveBlocks(blocks); err != nil {
			return nil, err
		}
		return &updated, nil
	}
	return nil, nil
}

// DeleteBlock removes the block with id. Missing ids are not an error.
func (s *Store) DeleteBlock(id string) error {
	blocks := s.Blocks()
	kept := blocks[:0]
	for _, b := range blocks {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(blocks) {
		return nil
	}
	return s.saveBlocks(kept)
}

// ============================================================
// Stats and preferences
// ============================================================

func (s *Store) Stats() []model.PomodoroStat {
	var stats []model.PomodoroStat
	if _, err := s.kv.GetJSON(store.KeyGuestStats, &stats); err != nil {
		s.log.Warn().Err(err).Msg("read guest stats failed")
		return []model.PomodoroStat{}
	}
	if stats == nil {
		stats = []model.PomodoroStat{}
	}
	return stats
}

// UpdateDailyStats adds count pomodoros of category to today's record,
// creating it when needed.
func (s *Store) UpdateDailyStats(count, minutes int, category model.Category) (model.PomodoroStat, error) {
	now := s.now()
	today := now.Format(model.DateLayout)
	stats := s.Stats()

	idx := -1
	for i := range stats {
		if stats[i].Date == today {
			idx = i
			break
		}
	}
	if idx < 0 {
		stats = append(stats, model.PomodoroStat{
			UserID:            s.GuestID(),
			Date:              today,
			CategoryBreakdown: map[model.Category]int{},
			CreatedAt:         now,
		})
		idx = len(stats) - 1
	}

	stats[idx].Increment(count, minutes, category)
	stats[idx].UpdatedAt = now

	if err := s.kv.SetJSON(store.KeyGuestStats, stats); err != nil {
		return model.PomodoroStat{}, fmt.Errorf("save guest stats: %w", err)
	}
	return stats[idx], nil
}

// Preferences returns the saved preferences or the defaults.
func (s *Store) Preferences() model.Preferences {
	p, ok := s.savedPreferences()
	if !ok {
		return model.DefaultPreferences()
	}
	return p
}

func (s *Store) savedPreferences() (model.Preferences, bool) {
	var p model.Preferences
	ok, err := s.kv.GetJSON(store.KeyGuestPreferences, &p)
	if err != nil {
		s.log.Warn().Err(err).Msg("read guest preferences failed")
		return model.Preferences{}, false
	}
	return p, ok
}

func (s *Store) SavePreferences(p model.Preferences) error {
	p.UpdatedAt = s.now()
	if err := s.kv.SetJSON(store.KeyGuestPreferences, p); err != nil {
		return fmt.Errorf("save guest preferences: %w", err)
	}
	return nil
}

// ============================================================
// Timer state
// ============================================================

func (s *Store) TimerState() (model.TimerState, bool) {
	var ts model.TimerState
	ok, err := s.kv.GetJSON(store.KeyGuestTimerState, &ts)
	if err != nil {
		s.log.Warn().Err(err).Msg("read timer state failed")
		return model.TimerState{}, false
	}
	return ts, ok
}

func (s *Store) SaveTimerState(ts model.TimerState) error {
	ts.SavedAt = s.now()
	if err := s.kv.SetJSON(store.KeyGuestTimerState, ts); err != nil {
		return fmt.Errorf("save timer state: %w", err)
	}
	return nil
}

func (s *Store) ClearTimerState() {
	if err := s.kv.Delete(store.KeyGuestTimerState); err != nil {
		s.log.Warn().Err(err).Msg("clear timer state failed")
	}
}

// ============================================================
// Migration support
// ============================================================

// AllData snapshots every guest collection without minting a guest id.
func (s *Store) AllData() Data {
	var id string
	if _, err := s.kv.GetJSON(store.KeyGuestID, &id); err != nil {
		s.log.Warn().Err(err).Msg("read guest id failed")
	}
	d := Data{
		GuestID: id,
		Blocks:  s.Blocks(),
		Stats:   s.Stats(),
	}
	if p, ok := s.savedPreferences(); ok {
		d.Preferences = &p
	}
	return d
}

// HasData reports whether any guest record would need migrating.
func (s *Store) HasData() bool {
	d := s.AllData()
	return len(d.Blocks) > 0 || len(d.Stats) > 0 || d.Preferences != nil
}

// ClearAllData removes every guest key. It keeps going past failures and
// returns them joined.
func (s *Store) ClearAllData() error {
	keys := append([]string(nil), store.GuestKeys...)
	found, err := s.kv.Keys(store.GuestPrefix)
	if err != nil {
		s.log.Warn().Err(err).Msg("list guest keys failed")
	}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	for _, k := range found {
		if !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}

	var errs []error
	for _, k := range keys {
		if err := s.kv.Delete(k); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
