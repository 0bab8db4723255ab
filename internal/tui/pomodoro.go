package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/syncer"
)

// saveEvery throttles timer-state writes while the clock runs.
const saveEvery = 10 * time.Second

type pomodoroModel struct {
	sync   *syncer.Coordinator
	timers TimerStore
	log    zerolog.Logger
	now    func() time.Time
	width  int
	height int

	clock     countdown
	prefs     model.Preferences
	lastSaved time.Time
}

func newPomodoroModel(c *syncer.Coordinator, timers TimerStore, logger zerolog.Logger, now func() time.Time) pomodoroModel {
	return pomodoroModel{
		sync:   c,
		timers: timers,
		log:    logger,
		now:    now,
		clock:  newCountdown(),
		prefs:  c.Preferences(),
	}
}

func (p *pomodoroModel) setSize(w, h int) {
	p.width = w
	p.height = h
}

// restore picks up a countdown saved by an earlier run.
func (p *pomodoroModel) restore() {
	if p.timers == nil {
		return
	}
	if ts, ok := p.timers.TimerState(); ok {
		p.clock = restoreCountdown(ts, p.now())
	}
}

func (p *pomodoroModel) reload() {
	p.prefs = p.sync.Preferences()
}

func (p pomodoroModel) duration(ph phase) time.Duration {
	switch ph {
	case phaseShortBreak:
		return time.Duration(p.prefs.ShortBreakMinutes) * time.Minute
	case phaseLongBreak:
		return time.Duration(p.prefs.LongBreakMinutes) * time.Minute
	default:
		return time.Duration(p.prefs.FocusMinutes) * time.Minute
	}
}

func (p pomodoroModel) update(msg tea.Msg) (pomodoroModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		now := time.Time(msg)
		if p.clock.tick(now) {
			return p.finishPhase(now)
		}
		if p.clock.running && now.Sub(p.lastSaved) >= saveEvery {
			p.persist(now)
		}
		return p, nil

	case focusBlockMsg:
		return p.focusOn(msg.block)

	case tea.KeyMsg:
		now := p.now()
		switch {
		case key.Matches(msg, keys.Start):
			if !p.clock.active() {
				p.clock.start(phaseFocus, p.duration(phaseFocus), now)
				p.persist(now)
				return p, nil
			}
			if !p.clock.running {
				p.clock.resume(now)
				p.persist(now)
			}
		case key.Matches(msg, keys.Pause):
			if p.clock.phase.isBreak() {
				p.clock.prepare(phaseFocus, p.duration(phaseFocus))
				p.clock.resume(now)
				p.persist(now)
				return p, nil
			}
			p.clock.toggle(now)
			p.persist(now)
		case key.Matches(msg, keys.Stop):
			if p.clock.active() {
				p.clock.reset()
				p.clear()
				return p, func() tea.Msg { return statusMsg{text: "Pomodoro cancelled"} }
			}
		case key.Matches(msg, keys.Left), key.Matches(msg, keys.Right):
			if p.clock.phase != phaseFocus || p.clock.blockID == "" {
				step := 1
				if key.Matches(msg, keys.Left) {
					step = -1
				}
				p.clock.category = cycleCategory(p.clock.category, step)
			}
		}
	}
	return p, nil
}

// focusOn starts a focus phase sized to the block's timer.
func (p pomodoroModel) focusOn(b model.TimeBlock) (pomodoroModel, tea.Cmd) {
	now := p.now()
	p.clock.blockID = b.ID
	p.clock.category = b.Category
	if !p.clock.category.Valid() {
		p.clock.category = model.CategoryWork
	}
	p.clock.start(phaseFocus, time.Duration(b.TimerMinutes())*time.Minute, now)
	p.persist(now)
	return p, func() tea.Msg {
		return statusMsg{text: fmt.Sprintf("Focusing on %q", b.Title)}
	}
}

// finishPhase records a finished focus phase and moves to the next phase.
func (p pomodoroModel) finishPhase(now time.Time) (pomodoroModel, tea.Cmd) {
	bell := ""
	if p.prefs.SoundEnabled {
		bell = " \a"
	}

	if p.clock.phase.isBreak() {
		p.clock.blockID = ""
		p.clock.prepare(phaseFocus, p.duration(phaseFocus))
		p.persist(now)
		return p, func() tea.Msg { return statusMsg{text: "Break over, press s to focus" + bell} }
	}

	sess := model.PomodoroSession{
		Date:     now.Format(model.DateLayout),
		Count:    1,
		Minutes:  int(p.clock.total / time.Minute),
		Category: p.clock.category,
	}
	p.clock.completedWork++
	next := phaseShortBreak
	if every := p.prefs.PomodorosUntilLongBreak; every > 0 && p.clock.completedWork%every == 0 {
		next = phaseLongBreak
	}
	p.clock.start(next, p.duration(next), now)
	p.persist(now)

	c := p.sync
	return p, tea.Batch(
		func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			st, err := c.CompletePomodoro(ctx, sess)
			return pomodoroSavedMsg{stat: st, err: err}
		},
		func() tea.Msg { return statusMsg{text: "Focus done, take a break" + bell} },
	)
}

func (p *pomodoroModel) persist(now time.Time) {
	p.lastSaved = now
	if p.timers == nil {
		return
	}
	if err := p.timers.SaveTimerState(p.clock.snapshot()); err != nil {
		p.log.Warn().Err(err).Msg("save timer state failed")
	}
}

func (p *pomodoroModel) clear() {
	if p.timers != nil {
		p.timers.ClearTimerState()
	}
}

func cycleCategory(c model.Category, step int) model.Category {
	n := len(model.Categories)
	for i, v := range model.Categories {
		if v == c {
			return model.Categories[((i+step)%n+n)%n]
		}
	}
	return model.CategoryWork
}

// todayCount is the number of pomodoros finished today.
func (p pomodoroModel) todayCount() int {
	today := p.now().Format(model.DateLayout)
	for _, st := range p.sync.Stats() {
		if st.Date == today {
			return st.PomodorosCompleted
		}
	}
	return 0
}

func (p pomodoroModel) view() string {
	w := p.width - 4

	title := titleStyle.Render("Pomodoro Timer")

	var timeDisplay, phaseLabel string
	clock := formatPomodoroTime(p.clock.remaining)
	switch p.clock.phase {
	case phaseIdle:
		timeDisplay = timerStyle.Width(w - 6).Render(formatPomodoroTime(p.duration(phaseFocus)))
		phaseLabel = mutedStyle.Render("Ready to start")
	case phaseFocus:
		style := accentStyle.Bold(true)
		if !p.clock.running {
			style = timerPausedStyle
		}
		timeDisplay = style.Width(w - 6).Align(lipgloss.Center).Render(clock)
		phaseLabel = style.Render(phaseNames[phaseFocus])
	case phaseShortBreak:
		timeDisplay = successStyle.Bold(true).Width(w - 6).Align(lipgloss.Center).Render(clock)
		phaseLabel = successStyle.Bold(true).Render(phaseNames[phaseShortBreak])
	case phaseLongBreak:
		timeDisplay = highlightStyle.Bold(true).Width(w - 6).Align(lipgloss.Center).Render(clock)
		phaseLabel = highlightStyle.Bold(true).Render(phaseNames[phaseLongBreak])
	}
	if p.clock.active() && !p.clock.running {
		phaseLabel += warningStyle.Render("  ⏸ PAUSED")
	}

	subject := categoryStyle(p.clock.category).Render("● " + string(p.clock.category))
	if p.clock.blockID != "" {
		if b, ok := p.sync.Block(p.clock.blockID); ok {
			subject = categoryStyle(b.Category).Render("● ") + highlightStyle.Render(b.Title)
		}
	}

	goal := mutedStyle.Render(fmt.Sprintf("Today %d/%d", p.todayCount(), p.prefs.DailyGoal))

	content := lipgloss.JoinVertical(lipgloss.Center,
		title,
		"",
		timeDisplay,
		phaseLabel,
		subject,
		"",
		p.renderProgress(),
		goal,
	)

	var controls string
	switch {
	case !p.clock.active():
		controls = mutedStyle.Render("s: start  ←/→: category")
	case p.clock.phase == phaseFocus && !p.clock.running:
		controls = mutedStyle.Render("s/space: resume  x: cancel")
	case p.clock.phase == phaseFocus:
		controls = mutedStyle.Render("space: pause  x: cancel")
	default:
		controls = mutedStyle.Render("space: skip break  x: cancel")
	}

	return panelStyle.Width(w).Render(
		lipgloss.JoinVertical(lipgloss.Center, content, "", controls),
	)
}

func (p pomodoroModel) renderProgress() string {
	every := max(p.prefs.PomodorosUntilLongBreak, 1)
	done := p.clock.completedWork % every
	if p.clock.phase == phaseLongBreak && p.clock.completedWork > 0 {
		done = every
	}
	var parts []string
	for i := 0; i < every; i++ {
		switch {
		case i < done:
			parts = append(parts, successStyle.Render("●"))
		case i == done && p.clock.phase == phaseFocus:
			parts = append(parts, accentStyle.Render("◐"))
		default:
			parts = append(parts, mutedStyle.Render("○"))
		}
	}
	counter := mutedStyle.Render(fmt.Sprintf("  %d/%d", done, every))
	return strings.Join(parts, " ") + counter
}

func formatPomodoroTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}

// pomodoroStatus words the result of recording a session.
func pomodoroStatus(msg pomodoroSavedMsg) statusMsg {
	switch {
	case msg.err == nil:
		return statusMsg{text: fmt.Sprintf("%d pomodoros today", msg.stat.PomodorosCompleted)}
	case errors.Is(msg.err, syncer.ErrQueuedOffline):
		return statusMsg{text: "Pomodoro saved offline, will sync later"}
	default:
		return describeErr("Record pomodoro", msg.err)
	}
}
