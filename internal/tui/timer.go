package tui

import (
	"time"

	"github.com/sadopc/blockr/internal/model"
)

type phase string

const (
	phaseIdle       phase = "idle"
	phaseFocus      phase = "focus"
	phaseShortBreak phase = "short_break"
	phaseLongBreak  phase = "long_break"
)

var phaseNames = map[phase]string{
	phaseIdle:       "READY",
	phaseFocus:      "FOCUS",
	phaseShortBreak: "SHORT BREAK",
	phaseLongBreak:  "LONG BREAK",
}

func (p phase) isBreak() bool {
	return p == phaseShortBreak || p == phaseLongBreak
}

// countdown is the pomodoro clock, kept apart from display so it can be
// snapshotted and restored.
type countdown struct {
	phase     phase
	total     time.Duration
	remaining time.Duration
	running   bool
	lastTick  time.Time

	completedWork int
	blockID       string
	category      model.Category
}

func newCountdown() countdown {
	return countdown{phase: phaseIdle, category: model.CategoryWork}
}

// start begins p with a full clock and leaves it running.
func (c *countdown) start(p phase, d time.Duration, now time.Time) {
	c.prepare(p, d)
	c.running = true
	c.lastTick = now
}

// prepare loads p with a full clock but does not start it.
func (c *countdown) prepare(p phase, d time.Duration) {
	c.phase = p
	c.total = d
	c.remaining = d
	c.running = false
}

func (c *countdown) pause(now time.Time) {
	if !c.running {
		return
	}
	c.advance(now)
	c.running = false
}

func (c *countdown) resume(now time.Time) {
	if c.running || c.phase == phaseIdle {
		return
	}
	c.running = true
	c.lastTick = now
}

func (c *countdown) toggle(now time.Time) {
	if c.running {
		c.pause(now)
	} else {
		c.resume(now)
	}
}

// reset drops back to idle, keeping the chosen category.
func (c *countdown) reset() {
	cat := c.category
	*c = newCountdown()
	c.category = cat
}

// tick moves the clock to now and reports whether the phase just ran out.
func (c *countdown) tick(now time.Time) bool {
	if !c.running {
		return false
	}
	c.advance(now)
	if c.remaining > 0 {
		return false
	}
	c.remaining = 0
	c.running = false
	return true
}

func (c *countdown) advance(now time.Time) {
	if d := now.Sub(c.lastTick); d > 0 {
		c.remaining -= d
	}
	c.lastTick = now
}

func (c countdown) active() bool { return c.phase != phaseIdle }

func (c countdown) snapshot() model.TimerState {
	return model.TimerState{
		Phase:         string(c.phase),
		Remaining:     int(c.remaining.Round(time.Second) / time.Second),
		Total:         int(c.total / time.Second),
		Running:       c.running,
		CompletedWork: c.completedWork,
		BlockID:       c.blockID,
		Category:      c.category,
	}
}

// restoreCountdown rebuilds a saved clock. A clock that was running keeps
// counting through the time the program was closed.
func restoreCountdown(ts model.TimerState, now time.Time) countdown {
	c := newCountdown()
	switch p := phase(ts.Phase); p {
	case phaseFocus, phaseShortBreak, phaseLongBreak:
		c.phase = p
	default:
		return c
	}
	c.total = time.Duration(ts.Total) * time.Second
	c.remaining = time.Duration(ts.Remaining) * time.Second
	c.completedWork = ts.CompletedWork
	c.blockID = ts.BlockID
	if ts.Category.Valid() {
		c.category = ts.Category
	}
	if ts.Running {
		c.running = true
		c.lastTick = now
		if !ts.SavedAt.IsZero() && now.After(ts.SavedAt) {
			c.remaining -= now.Sub(ts.SavedAt)
		}
	}
	return c
}
