package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/syncer"
)

var themes = []string{"default", "light", "dark"}

type settingsModel struct {
	sync   *syncer.Coordinator
	width  int
	height int

	prefs      model.Preferences
	formActive bool
	form       *huh.Form

	// Form values as pointers (survive value copies)
	focus         *string
	shortBreak    *string
	longBreak     *string
	untilLong     *string
	dailyGoal     *string
	theme         *string
	sound         *bool
	notifications *bool
}

func newSettingsModel(c *syncer.Coordinator) settingsModel {
	f, sb, lb, ul, dg, th := "", "", "", "", "", ""
	var snd, ntf bool
	return settingsModel{
		sync:          c,
		prefs:         c.Preferences(),
		focus:         &f,
		shortBreak:    &sb,
		longBreak:     &lb,
		untilLong:     &ul,
		dailyGoal:     &dg,
		theme:         &th,
		sound:         &snd,
		notifications: &ntf,
	}
}

func (s *settingsModel) setSize(w, h int) {
	s.width = w
	s.height = h
}

func (s *settingsModel) reload() {
	s.prefs = s.sync.Preferences()
}

func (s settingsModel) update(msg tea.Msg) (settingsModel, tea.Cmd) {
	if s.formActive && s.form != nil {
		return s.updateForm(msg)
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Enter), key.Matches(msg, keys.Edit):
			return s.showForm()
		}
	}
	return s, nil
}

func (s settingsModel) showForm() (settingsModel, tea.Cmd) {
	*s.focus = strconv.Itoa(s.prefs.FocusMinutes)
	*s.shortBreak = strconv.Itoa(s.prefs.ShortBreakMinutes)
	*s.longBreak = strconv.Itoa(s.prefs.LongBreakMinutes)
	*s.untilLong = strconv.Itoa(s.prefs.PomodorosUntilLongBreak)
	*s.dailyGoal = strconv.Itoa(s.prefs.DailyGoal)
	*s.theme = s.prefs.Theme
	*s.sound = s.prefs.SoundEnabled
	*s.notifications = s.prefs.NotificationsEnabled

	themeOptions := make([]huh.Option[string], len(themes))
	for i, t := range themes {
		themeOptions[i] = huh.NewOption(t, t)
	}

	s.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Focus (min)").Value(s.focus).Validate(intRange(1, 120)),
			huh.NewInput().Title("Short break (min)").Value(s.shortBreak).Validate(intRange(1, 60)),
			huh.NewInput().Title("Long break (min)").Value(s.longBreak).Validate(intRange(1, 120)),
			huh.NewInput().Title("Pomodoros before long break").Value(s.untilLong).Validate(intRange(1, 12)),
		).Title("Pomodoro"),
		huh.NewGroup(
			huh.NewInput().Title("Daily goal (pomodoros)").Value(s.dailyGoal).Validate(intRange(0, 48)),
			huh.NewSelect[string]().Title("Theme").Options(themeOptions...).Value(s.theme),
			huh.NewConfirm().Title("Sound").Value(s.sound),
			huh.NewConfirm().Title("Notifications").Value(s.notifications),
		).Title("General"),
	).WithShowHelp(true).WithShowErrors(true)

	s.formActive = true
	return s, s.form.Init()
}

func (s settingsModel) updateForm(msg tea.Msg) (settingsModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if msg.String() == "esc" {
			s.formActive = false
			s.form = nil
			return s, nil
		}
	}

	form, cmd := s.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		s.form = f
	}

	if s.form.State == huh.StateCompleted {
		s.formActive = false
		return s, s.saveCmd(s.formPreferences())
	}

	return s, cmd
}

// formPreferences merges the form into the current preferences.
func (s settingsModel) formPreferences() model.Preferences {
	p := s.prefs
	atoi := func(v string, fallback int) int {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		return fallback
	}
	p.FocusMinutes = atoi(*s.focus, p.FocusMinutes)
	p.ShortBreakMinutes = atoi(*s.shortBreak, p.ShortBreakMinutes)
	p.LongBreakMinutes = atoi(*s.longBreak, p.LongBreakMinutes)
	p.PomodorosUntilLongBreak = atoi(*s.untilLong, p.PomodorosUntilLongBreak)
	p.DailyGoal = atoi(*s.dailyGoal, p.DailyGoal)
	p.Theme = *s.theme
	p.SoundEnabled = *s.sound
	p.NotificationsEnabled = *s.notifications
	return p
}

func (s settingsModel) saveCmd(p model.Preferences) tea.Cmd {
	c := s.sync
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		saved, err := c.SavePreferences(ctx, p)
		return prefsSavedMsg{prefs: saved, err: err}
	}
}

func prefsStatus(msg prefsSavedMsg) statusMsg {
	switch {
	case msg.err == nil:
		return statusMsg{text: "Settings saved"}
	case errors.Is(msg.err, syncer.ErrQueuedOffline):
		return statusMsg{text: "Settings saved offline, will sync later"}
	default:
		return describeErr("Save settings", msg.err)
	}
}

func (s settingsModel) view() string {
	w := s.width - 4
	title := titleStyle.Render("Settings")

	if s.formActive && s.form != nil {
		return panelStyle.Width(w).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, "", s.form.View()),
		)
	}

	onOff := func(v bool) string {
		if v {
			return "on"
		}
		return "off"
	}
	items := [][2]string{
		{"Focus", fmt.Sprintf("%d min", s.prefs.FocusMinutes)},
		{"Short break", fmt.Sprintf("%d min", s.prefs.ShortBreakMinutes)},
		{"Long break", fmt.Sprintf("%d min", s.prefs.LongBreakMinutes)},
		{"Long break every", fmt.Sprintf("%d pomodoros", s.prefs.PomodorosUntilLongBreak)},
		{"Daily goal", fmt.Sprintf("%d pomodoros", s.prefs.DailyGoal)},
		{"Theme", s.prefs.Theme},
		{"Sound", onOff(s.prefs.SoundEnabled)},
		{"Notifications", onOff(s.prefs.NotificationsEnabled)},
	}

	rows := []string{title, ""}
	for _, it := range items {
		label := lipgloss.NewStyle().Width(24).Render(it[0])
		rows = append(rows, fmt.Sprintf("  %s %s", label, highlightStyle.Render(it[1])))
	}
	rows = append(rows, "", mutedStyle.Render("Press enter to edit settings"))

	return panelStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
