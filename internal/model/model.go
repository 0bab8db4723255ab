package model

import (
	"encoding/json"
	"slices"
	"time"
)

// Category labels what a block of time is spent on.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryMeeting  Category = "meeting"
	CategoryBreak    Category = "break"
	CategoryPersonal Category = "personal"
	CategoryLearning Category = "learning"
	CategoryExercise Category = "exercise"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryWork,
	CategoryMeeting,
	CategoryBreak,
	CategoryPersonal,
	CategoryLearning,
	CategoryExercise,
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// DateLayout is the calendar date format used by every record.
const DateLayout = "2006-01-02"

type TimeBlock struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Title           string    `json:"title"`
	Category        Category  `json:"category"`
	Date            string    `json:"date"`
	Hour            int       `json:"hour"`
	StartMinute     int       `json:"start_minute"`
	DurationMinutes int       `json:"duration_minutes"`
	TimerDuration   *int      `json:"timer_duration,omitempty"`
	Completed       bool      `json:"completed"`
	RolloverEnabled bool      `json:"rollover_enabled"`
	IsRolledOver    bool      `json:"is_rolled_over"`
	OriginalDate    *string   `json:"original_date,omitempty"`
	RolloverCount   int       `json:"rollover_count"`
	ClientRef       string    `json:"client_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EndMinute is the exclusive end of the block's minute range within its hour.
func (b TimeBlock) EndMinute() int {
	return b.StartMinute + b.DurationMinutes
}

// Start returns the local wall-clock time the block begins.
func (b TimeBlock) Start(loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, b.Date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(time.Duration(b.Hour)*time.Hour + time.Duration(b.StartMinute)*time.Minute), nil
}

// TimerMinutes is the countdown length for this block: the override when set,
// otherwise the block's own duration.
func (b TimeBlock) TimerMinutes() int {
	if b.TimerDuration != nil && *b.TimerDuration > 0 {
		return *b.TimerDuration
	}
	return b.DurationMinutes
}

// BlockPatch carries the fields an update changes. Nil fields are left alone.
type BlockPatch struct {
	Title           *string   `json:"title,omitempty"`
	Category        *Category `json:"category,omitempty"`
	Date            *string   `json:"date,omitempty"`
	Hour            *int      `json:"hour,omitempty"`
	StartMinute     *int      `json:"start_minute,omitempty"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
	TimerDuration   *int      `json:"timer_duration,omitempty"`
	Completed       *bool     `json:"completed,omitempty"`
	RolloverEnabled *bool     `json:"rollover_enabled,omitempty"`
	IsRolledOver    *bool     `json:"is_rolled_over,omitempty"`
	OriginalDate    *string   `json:"original_date,omitempty"`
	RolloverCount   *int      `json:"rollover_count,omitempty"`
}

// Apply returns a copy of b with the patch merged in.
func (p BlockPatch) Apply(b TimeBlock) TimeBlock {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Category != nil {
		b.Category = *p.Category
	}
	if p.Date != nil {
		b.Date = *p.Date
	}
	if p.Hour != nil {
		b.Hour = *p.Hour
	}
	if p.StartMinute != nil {
		b.StartMinute = *p.StartMinute
	}
	if p.DurationMinutes != nil {
		b.DurationMinutes = *p.DurationMinutes
	}
	if p.TimerDuration != nil {
		v := *p.TimerDuration
		b.TimerDuration = &v
	}
	if p.Completed != nil {
		b.Completed = *p.Completed
	}
	if p.RolloverEnabled != nil {
		b.RolloverEnabled = *p.RolloverEnabled
	}
	if p.IsRolledOver != nil {
		b.IsRolledOver = *p.IsRolledOver
	}
	if p.OriginalDate != nil {
		v := *p.OriginalDate
		b.OriginalDate = &v
	}
	if p.RolloverCount != nil {
		b.RolloverCount = *p.RolloverCount
	}
	return b
}

// MovesSlot reports whether the patch changes where the block sits.
func (p BlockPatch) MovesSlot() bool {
	return p.Date != nil || p.Hour != nil || p.StartMinute != nil || p.DurationMinutes != nil
}

type PomodoroStat struct {
	ID                 string           `json:"id,omitempty"`
	UserID             string           `json:"user_id"`
	Date               string           `json:"date"`
	PomodorosCompleted int              `json:"pomodoros_completed"`
	FocusMinutes       int              `json:"focus_minutes"`
	CategoryBreakdown  map[Category]int `json:"category_breakdown"`
	SessionIDs         []string         `json:"session_ids,omitempty"` // sessions already counted
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Counted reports whether the session with id is already part of s.
func (s PomodoroStat) Counted(id string) bool {
	return id != "" && slices.Contains(s.SessionIDs, id)
}

// Record folds sess into s once. It reports false when sess was already
// counted.
func (s *PomodoroStat) Record(sess PomodoroSession) bool {
	if s.Counted(sess.ID) {
		return false
	}
	s.Increment(sess.Count, sess.Minutes, sess.Category)
	if sess.ID != "" {
		s.SessionIDs = append(slices.Clone(s.SessionIDs), sess.ID)
	}
	return true
}

// Increment adds count completed pomodoros of the given category.
func (s *PomodoroStat) Increment(count, minutes int, category Category) {
	s.PomodorosCompleted += count
	s.FocusMinutes += minutes
	if s.CategoryBreakdown == nil {
		s.CategoryBreakdown = make(map[Category]int)
	}
	s.CategoryBreakdown[category] += count
}

// PomodoroSession is one completed focus phase reported to a stats store.
// ID stays the same across retries so a store can tell a resend apart from
// a new session.
type PomodoroSession struct {
	ID       string   `json:"id,omitempty"`
	Date     string   `json:"date"`
	Count    int      `json:"count"`
	Minutes  int      `json:"minutes"`
	Category Category `json:"category"`
}

type Preferences struct {
	UserID                  string    `json:"user_id,omitempty"`
	FocusMinutes            int       `json:"focus_minutes"`
	ShortBreakMinutes       int       `json:"short_break_minutes"`
	LongBreakMinutes        int       `json:"long_break_minutes"`
	PomodorosUntilLongBreak int       `json:"pomodoros_until_long_break"`
	DailyGoal               int       `json:"daily_goal"`
	Theme                   string    `json:"theme"`
	SoundEnabled            bool      `json:"sound_enabled"`
	NotificationsEnabled    bool      `json:"notifications_enabled"`
	UpdatedAt               time.Time `json:"updated_at,omitempty"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		FocusMinutes:            25,
		ShortBreakMinutes:       5,
		LongBreakMinutes:        15,
		PomodorosUntilLongBreak: 4,
		DailyGoal:               8,
		Theme:                   "default",
		SoundEnabled:            true,
		NotificationsEnabled:    true,
	}
}

type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Entity names the record collection a pending operation targets.
type Entity string

const (
	EntityBlock       Entity = "time_block"
	EntityStat        Entity = "pomodoro_stat"
	EntityPreferences Entity = "preferences"
)

// PendingOperation is a write that has not been confirmed by the remote service.
type PendingOperation struct {
	ID         string          `json:"id"`
	Owner      string          `json:"owner,omitempty"`
	Type       OperationType   `json:"type"`
	Entity     Entity          `json:"entity,omitempty"`
	BlockID    string          `json:"block_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Target returns the entity, defaulting to time blocks.
func (op PendingOperation) Target() Entity {
	if op.Entity == "" {
		return EntityBlock
	}
	return op.Entity
}

// Envelope wraps a cached collection with the owner it belongs to and the
// time it was captured.
type Envelope[T any] struct {
	Owner     string    `json:"owner,omitempty"`
	Records   T         `json:"records"`
	Timestamp time.Time `json:"timestamp"`
}

// Stale reports whether the envelope is older than maxAge at now.
func (e Envelope[T]) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(e.Timestamp) > maxAge
}

// TimerState is a snapshot of the countdown so it survives a restart.
type TimerState struct {
	Phase         string    `json:"phase"`
	Remaining     int       `json:"remaining_seconds"`
	Total         int       `json:"total_seconds"`
	Running       bool      `json:"running"`
	CompletedWork int       `json:"completed_work"`
	BlockID       string    `json:"block_id,omitempty"`
	Category      Category  `json:"category"`
	SavedAt       time.Time `json:"saved_at"`
}

// OwnerMode says who, if anyone, owns the records being shown.
type OwnerMode int

const (
	Unauthenticated OwnerMode = iota
	Guest
	Authenticated
)

func (m OwnerMode) String() string {
	switch m {
	case Guest:
		return "guest"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}
