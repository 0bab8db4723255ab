package guest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/store"
)

func newTestGuest(t *testing.T, now func() time.Time) (*Store, *store.Store) {
	t.Helper()
	kv, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return New(kv, zerolog.Nop(), now), kv
}

func payload() model.TimeBlock {
	return model.TimeBlock{
		Title:           "Write report",
		Category:        model.CategoryWork,
		Date:            "2024-01-15",
		Hour:            10,
		DurationMinutes: 45,
	}
}

// ============================================================
// Identity
// ============================================================

func TestGuestIDCreatedOnceAndReused(t *testing.T) {
	g, kv := newTestGuest(t, nil)

	id := g.GuestID()
	assert.True(t, strings.HasPrefix(id, "guest_"))
	assert.Len(t, strings.Split(id, "_"), 3)
	assert.Equal(t, id, g.GuestID())

	again := New(kv, zerolog.Nop(), nil)
	assert.Equal(t, id, again.GuestID())
}

// ============================================================
// Blocks
// ============================================================

func TestAddBlockMintsDistinctLocalIDs(t *testing.T) {
	g, _ := newTestGuest(t, nil)

	a, err := g.AddBlock(payload())
	require.NoError(t, err)
	b, err := g.AddBlock(payload())
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, IsLocalID(a.ID))
	assert.True(t, IsLocalID(b.ID))
	assert.Equal(t, g.GuestID(), a.UserID)
	assert.False(t, a.CreatedAt.IsZero())
	assert.Len(t, g.Blocks(), 2)
}

func TestUpdateBlock(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	now := start
	g, _ := newTestGuest(t, func() time.Time { return now })

	b, err := g.AddBlock(payload())
	require.NoError(t, err)

	now = start.Add(time.Minute)
	done := true
	updated, err := g.UpdateBlock(b.ID, model.BlockPatch{Completed: &done})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.True(t, updated.Completed)
	assert.Equal(t, now, updated.UpdatedAt)
	assert.Equal(t, start, updated.CreatedAt)

	assert.True(t, g.Blocks()[0].Completed)
}

func TestUpdateBlockAbsentReturnsNil(t *testing.T) {
	g, _ := newTestGuest(t, nil)
	got, err := g.UpdateBlock("local_missing", model.BlockPatch{})
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteBlockIdempotent(t *testing.T) {
	g, _ := newTestGuest(t, nil)
	a, _ := g.AddBlock(payload())
	b, _ := g.AddBlock(payload())

	require.NoError(t, g.DeleteBlock(a.ID))
	require.NoError(t, g.DeleteBlock(a.ID))

	blocks := g.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, b.ID, blocks[0].ID)
}

func TestRestoreBlock(t *testing.T) {
	g, _ := newTestGuest(t, nil)
	a, _ := g.AddBlock(payload())
	require.NoError(t, g.DeleteBlock(a.ID))

	restored, err := g.RestoreBlock(a)
	require.NoError(t, err)
	assert.Equal(t, a.ID, restored.ID)

	_, err = g.RestoreBlock(a)
	require.NoError(t, err)
	assert.Len(t, g.Blocks(), 1)
}

// ============================================================
// Stats, preferences, timer
// ============================================================

func TestUpdateDailyStats(t *testing.T) {
	day := time.Date(2024, 1, 15, 9, 0, 0, 0, time.Local)
	now := day
	g, _ := newTestGuest(t, func() time.Time { return now })

	_, err := g.UpdateDailyStats(1, 25, model.CategoryWork)
	require.NoError(t, err)
	s, err := g.UpdateDailyStats(1, 25, model.CategoryLearning)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", s.Date)
	assert.Equal(t, 2, s.PomodorosCompleted)
	assert.Equal(t, 50, s.FocusMinutes)
	assert.Equal(t, 1, s.CategoryBreakdown[model.CategoryLearning])

	now = day.Add(24 * time.Hour)
	_, err = g.UpdateDailyStats(1, 25, model.CategoryWork)
	require.NoError(t, err)

	stats := g.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "2024-01-16", stats[1].Date)
	assert.Equal(t, 1, stats[1].PomodorosCompleted)
}

func TestPreferencesDefaultAndSave(t *testing.T) {
	g, _ := newTestGuest(t, nil)
	assert.Equal(t, model.DefaultPreferences(), g.Preferences())

	p := model.DefaultPreferences()
	p.DailyGoal = 12
	require.NoError(t, g.SavePreferences(p))
	assert.Equal(t, 12, g.Preferences().DailyGoal)
}

func TestTimerState(t *testing.T) {
	g, _ := newTestGuest(t, nil)
	_, ok := g.TimerState()
	assert.False(t, ok)

	require.NoError(t, g.SaveTimerState(model.TimerState{Phase: "work", Remaining: 600, Total: 1500, Running: true}))
	ts, ok := g.TimerState()
	require.True(t, ok)
	assert.Equal(t, 600, ts.Remaining)
	assert.False(t, ts.SavedAt.IsZero())

	g.ClearTimerState()
	_, ok = g.TimerState()
	assert.False(t, ok)
}

// ============================================================
// Migration support
// ============================================================

func TestAllDataAndClear(t *testing.T) {
	g, kv := newTestGuest(t, nil)
	assert.False(t, g.HasData())

	g.AddBlock(payload())
	g.UpdateDailyStats(1, 25, model.CategoryWork)
	g.SavePreferences(model.DefaultPreferences())
	require.NoError(t, kv.Set(store.GuestPrefix+"legacy", "1"))
	require.NoError(t, kv.Set(store.KeyOfflineBlocks, "{}"))

	d := g.AllData()
	assert.NotEmpty(t, d.GuestID)
	assert.Len(t, d.Blocks, 1)
	assert.Len(t, d.Stats, 1)
	assert.NotNil(t, d.Preferences)
	assert.True(t, g.HasData())

	require.NoError(t, g.ClearAllData())
	assert.False(t, g.HasData())

	keys, err := kv.Keys(store.GuestPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, ok, _ := kv.Get(store.KeyOfflineBlocks)
	assert.True(t, ok, "non-guest keys survive")
}

// flakyKV fails deletes for one key and records the rest.
type flakyKV struct {
	*store.Store
	failKey string
	deleted []string
}

func (f *flakyKV) Delete(key string) error {
	if key == f.failKey {
		return errors.New("locked")
	}
	f.deleted = append(f.deleted, key)
	return f.Store.Delete(key)
}

func TestClearAllDataKeepsGoingPastFailures(t *testing.T) {
	kv, err := store.NewMemory()
	require.NoError(t, err)
	defer kv.Close()

	f := &flakyKV{Store: kv, failKey: store.KeyGuestBlocks}
	g := New(f, zerolog.Nop(), nil)
	g.AddBlock(payload())

	err = g.ClearAllData()
	require.Error(t, err)
	assert.Contains(t, err.Error(), store.KeyGuestBlocks)
	assert.Contains(t, f.deleted, store.KeyGuestTimerState)
	assert.Contains(t, f.deleted, store.KeyGuestID)
}

func TestReadFaultsDegradeToEmpty(t *testing.T) {
	g, kv := newTestGuest(t, nil)
	require.NoError(t, kv.Set(store.KeyGuestBlocks, "not json"))
	require.NoError(t, kv.Set(store.KeyGuestStats, "["))
	require.NoError(t, kv.Set(store.KeyGuestPreferences, "?"))

	assert.Empty(t, g.Blocks())
	assert.Empty(t, g.Stats())
	assert.Equal(t, model.DefaultPreferences(), g.Preferences())
}
