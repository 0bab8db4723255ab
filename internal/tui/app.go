package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/sadopc/blockr/internal/export"
	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/syncer"
)

// opTimeout bounds every coordinator call made from the UI.
const opTimeout = 30 * time.Second

// Options configures the App beyond its coordinator.
type Options struct {
	Timers    TimerStore
	Logger    zerolog.Logger
	Now       func() time.Time
	ExportDir string
}

// App is the root Bubble Tea model.
type App struct {
	sync      *syncer.Coordinator
	log       zerolog.Logger
	now       func() time.Time
	exportDir string
	width     int
	height    int

	changes     <-chan struct{}
	unsubscribe func()

	activeView    viewState
	showHelp      bool
	exportPicking bool
	exportCursor  int

	schedule scheduleModel
	pomodoro pomodoroModel
	reports  reportsModel
	settings settingsModel

	help      help.Model
	status    string
	statusErr bool
}

func NewApp(c *syncer.Coordinator, opts Options) App {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ExportDir == "" {
		opts.ExportDir, _ = os.UserHomeDir()
	}
	h := help.New()
	h.ShowAll = false

	// One pending signal is enough; the views re-read everything on wake.
	changes := make(chan struct{}, 1)
	unsubscribe := c.Subscribe(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	a := App{
		sync:        c,
		log:         opts.Logger,
		now:         opts.Now,
		exportDir:   opts.ExportDir,
		changes:     changes,
		unsubscribe: unsubscribe,
		activeView:  viewSchedule,
		schedule:    newScheduleModel(c, opts.Now),
		pomodoro:    newPomodoroModel(c, opts.Timers, opts.Logger, opts.Now),
		reports:     newReportsModel(c, opts.Now),
		settings:    newSettingsModel(c),
		help:        h,
	}
	a.pomodoro.restore()
	a.reload()
	return a
}

// Close stops listening to the coordinator.
func (a App) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(
		a.rolloverCmd(),
		a.waitForChange(),
		tickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForChange blocks until the coordinator reports a change.
func (a App) waitForChange() tea.Cmd {
	ch := a.changes
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return syncChangedMsg{}
	}
}

func (a App) rolloverCmd() tea.Cmd {
	c := a.sync
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		n, err := c.AutoRollover(ctx)
		return rolloverMsg{moved: n, err: err}
	}
}

// syncCmd replays pending writes and then reloads from the service.
func (a App) syncCmd() tea.Cmd {
	c := a.sync
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		report, err := c.FlushPending(ctx)
		if err != nil {
			return flushedMsg{report: report, err: err}
		}
		res, err := c.Load(ctx)
		if err != nil {
			return loadedMsg{result: res, err: err}
		}
		return flushedMsg{report: report}
	}
}

func (a *App) reload() {
	a.schedule.reload()
	a.pomodoro.reload()
	a.reports.reload()
	a.settings.reload()
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		contentHeight := a.height - 4 // header + footer
		a.schedule.setSize(a.width, contentHeight)
		a.pomodoro.setSize(a.width, contentHeight)
		a.reports.setSize(a.width, contentHeight)
		a.settings.setSize(a.width, contentHeight)
		return a, nil

	case tea.KeyMsg:
		if a.exportPicking {
			return a.updateExportPicker(msg)
		}

		// If a child view is capturing input (e.g. form), delegate first.
		if a.isFormActive() {
			return a.updateActiveView(msg)
		}

		switch {
		case key.Matches(msg, keys.Export):
			a.exportPicking = true
			a.exportCursor = 0
			return a, nil
		case key.Matches(msg, keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, keys.Help):
			a.showHelp = !a.showHelp
			a.help.ShowAll = a.showHelp
			return a, nil
		case key.Matches(msg, keys.Sync):
			a.status, a.statusErr = "Syncing…", false
			return a, a.syncCmd()
		case key.Matches(msg, keys.Tab1):
			a.activeView = viewSchedule
			return a, nil
		case key.Matches(msg, keys.Tab2):
			a.activeView = viewPomodoro
			return a, nil
		case key.Matches(msg, keys.Tab3):
			a.activeView = viewReports
			a.reports.reload()
			return a, nil
		case key.Matches(msg, keys.Tab4):
			a.activeView = viewSettings
			return a, nil
		case key.Matches(msg, keys.Tab):
			a.activeView = (a.activeView + 1) % viewState(len(viewNames))
			return a, nil
		}

	case tickMsg:
		cmds = append(cmds, tickCmd())
		var cmd tea.Cmd
		a.pomodoro, cmd = a.pomodoro.update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		return a, tea.Batch(cmds...)

	case syncChangedMsg:
		a.reload()
		return a, a.waitForChange()

	case focusBlockMsg:
		a.activeView = viewPomodoro
		var cmd tea.Cmd
		a.pomodoro, cmd = a.pomodoro.update(msg)
		return a, cmd

	case statusMsg:
		a.status, a.statusErr = msg.text, msg.isError
		return a, nil

	case blockSavedMsg:
		return a.showStatus(saveStatus(msg))

	case blockDeletedMsg:
		return a.showStatus(deleteStatus(msg))

	case undoneMsg:
		return a.showStatus(undoStatus(msg))

	case pomodoroSavedMsg:
		return a.showStatus(pomodoroStatus(msg))

	case prefsSavedMsg:
		return a.showStatus(prefsStatus(msg))

	case rolloverMsg:
		switch {
		case msg.err != nil:
			a.log.Warn().Err(msg.err).Msg("auto rollover incomplete")
			return a.showStatus(describeErr("Rollover", msg.err))
		case msg.moved > 0:
			return a.showStatus(statusMsg{text: fmt.Sprintf("Rolled %d unfinished blocks over to today", msg.moved)})
		}
		return a, nil

	case flushedMsg:
		return a.showStatus(flushStatus(msg))

	case loadedMsg:
		if msg.err != nil {
			return a.showStatus(describeErr("Reload", msg.err))
		}
		return a, nil

	case exportDoneMsg:
		a.exportPicking = false
		return a.showStatus(statusMsg{text: "Exported to " + msg.path})
	}

	return a.updateActiveView(msg)
}

func (a App) showStatus(s statusMsg) (tea.Model, tea.Cmd) {
	a.status, a.statusErr = s.text, s.isError
	a.reload()
	return a, nil
}

func flushStatus(msg flushedMsg) statusMsg {
	r := msg.report
	switch {
	case msg.err != nil:
		return describeErr("Sync", msg.err)
	case r.Failed > 0 || r.Dropped > 0:
		return statusMsg{
			text:    fmt.Sprintf("Synced %d, %d failed, %d rejected, %d still pending", r.Flushed, r.Failed, r.Dropped, r.Remaining),
			isError: true,
		}
	case r.Flushed > 0:
		return statusMsg{text: fmt.Sprintf("Synced %d pending changes", r.Flushed)}
	default:
		return statusMsg{text: "Up to date"}
	}
}

func (a App) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch a.activeView {
	case viewSchedule:
		a.schedule, cmd = a.schedule.update(msg)
	case viewPomodoro:
		a.pomodoro, cmd = a.pomodoro.update(msg)
	case viewReports:
		a.reports, cmd = a.reports.update(msg)
	case viewSettings:
		a.settings, cmd = a.settings.update(msg)
	}
	return a, cmd
}

func (a App) isFormActive() bool {
	switch a.activeView {
	case viewSchedule:
		return a.schedule.formActive
	case viewSettings:
		return a.settings.formActive
	}
	return false
}

func (a App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	header := a.renderHeader()
	footer := a.renderFooter()

	var content string
	switch a.activeView {
	case viewSchedule:
		content = a.schedule.view()
	case viewPomodoro:
		content = a.pomodoro.view()
	case viewReports:
		content = a.reports.view()
	case viewSettings:
		content = a.settings.view()
	}

	headerHeight := lipgloss.Height(header)
	footerHeight := lipgloss.Height(footer)
	contentHeight := max(a.height-headerHeight-footerHeight, 1)

	if a.exportPicking {
		content = a.renderExportPicker()
	}

	content = lipgloss.NewStyle().
		Width(a.width).
		Height(contentHeight).
		Render(content)

	return lipgloss.JoinVertical(lipgloss.Left, header, content, footer)
}

func (a App) renderHeader() string {
	var tabs []string
	for i, name := range viewNames {
		if viewState(i) == a.activeView {
			tabs = append(tabs, activeTabStyle.Render(name))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(name))
		}
	}

	tabRow := lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...)

	title := lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Render("blockr")
	gap := max(a.width-lipgloss.Width(title)-lipgloss.Width(tabRow)-4, 1)
	spacer := lipgloss.NewStyle().Width(gap).Render("")

	return headerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Bottom, title, spacer, tabRow),
	)
}

// renderSyncStatus summarises where the shown records came from.
func (a App) renderSyncStatus() string {
	st := a.sync.Status()
	switch st.Mode {
	case model.Unauthenticated:
		return mutedStyle.Render("signed out")
	case model.Guest:
		return mutedStyle.Render("● local")
	}

	var s string
	switch {
	case st.Data == syncer.DataUnavailable:
		s = errorStyle.Render("○ unavailable")
	case !st.Online:
		s = warningStyle.Render("○ offline")
	case st.Data == syncer.DataStale:
		s = warningStyle.Render("◐ cached")
	default:
		s = successStyle.Render("● synced")
	}
	if st.Pending > 0 {
		s += warningStyle.Render(fmt.Sprintf(" · %d pending", st.Pending))
	}
	if !st.LastSync.IsZero() && st.Data != syncer.DataFresh {
		s += mutedStyle.Render(" · last sync " + st.LastSync.Local().Format("15:04"))
	}
	return s
}

func (a App) renderFooter() string {
	helpView := a.help.View(keys)

	status := ""
	if a.status != "" {
		style := mutedStyle
		if a.statusErr {
			style = errorStyle
		}
		status = style.Render(" " + a.status)
	}

	timerInfo := ""
	if clock := a.pomodoro.clock; clock.active() && a.activeView != viewPomodoro {
		label := phaseNames[clock.phase] + " " + formatPomodoroTime(clock.remaining)
		if clock.running {
			timerInfo = accentStyle.Render(" ● " + label)
		} else {
			timerInfo = warningStyle.Render(" ⏸ " + label)
		}
	}

	left := footerStyle.Render(helpView)
	right := a.renderSyncStatus() + timerInfo + status

	gap := max(a.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	spacer := lipgloss.NewStyle().Width(gap).Render("")

	return lipgloss.JoinHorizontal(lipgloss.Bottom, left, spacer, right)
}

func (a App) renderExportPicker() string {
	title := titleStyle.Render("Export Format")
	formats := []string{"CSV", "JSON"}
	var rows []string
	rows = append(rows, title)
	rows = append(rows, "")
	for i, f := range formats {
		cursor := "  "
		style := normalItemStyle
		if i == a.exportCursor {
			cursor = "> "
			style = selectedItemStyle
		}
		rows = append(rows, style.Render(cursor+f))
	}
	rows = append(rows, "")
	rows = append(rows, mutedStyle.Render("  enter: export  esc: cancel"))

	w := a.width - 4
	return activePanelStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (a App) updateExportPicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Up):
		if a.exportCursor > 0 {
			a.exportCursor--
		}
	case key.Matches(msg, keys.Down):
		if a.exportCursor < 1 {
			a.exportCursor++
		}
	case key.Matches(msg, keys.Enter):
		a.exportPicking = false
		return a, a.doExport(a.exportCursor)
	case key.Matches(msg, keys.Back):
		a.exportPicking = false
	}
	return a, nil
}

func (a App) doExport(format int) tea.Cmd {
	c, dir, now := a.sync, a.exportDir, a.now()
	return func() tea.Msg {
		blocks := c.AllBlocks()
		dateStr := now.Format(model.DateLayout)

		if format == 0 {
			path := filepath.Join(dir, fmt.Sprintf("blockr-export-%s.csv", dateStr))
			if err := export.ToCSV(blocks, path); err != nil {
				return describeErr("CSV export", err)
			}
			return exportDoneMsg{path: path}
		}

		path := filepath.Join(dir, fmt.Sprintf("blockr-export-%s.json", dateStr))
		if err := export.ToJSON(blocks, c.Stats(), path); err != nil {
			return describeErr("JSON export", err)
		}
		return exportDoneMsg{path: path}
	}
}
