package tui

import (
	"fmt"
	"time"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/syncer"
)

// viewState represents the currently active view.
type viewState int

const (
	viewSchedule viewState = iota
	viewPomodoro
	viewReports
	viewSettings
)

var viewNames = []string{"Schedule", "Pomodoro", "Reports", "Settings"}

// TimerStore persists the countdown between runs.
type TimerStore interface {
	TimerState() (model.TimerState, bool)
	SaveTimerState(ts model.TimerState) error
	ClearTimerState()
}

// --- Messages ---

type statusMsg struct {
	text    string
	isError bool
}

type tickMsg time.Time

// syncChangedMsg arrives whenever the coordinator's view of the records moved.
type syncChangedMsg struct{}

type loadedMsg struct {
	result syncer.LoadResult
	err    error
}

type flushedMsg struct {
	report syncer.FlushReport
	err    error
}

type rolloverMsg struct {
	moved int
	err   error
}

type blockSavedMsg struct {
	block   model.TimeBlock
	created bool
	err     error
}

type blockDeletedMsg struct {
	block model.TimeBlock
	err   error
}

type undoneMsg struct {
	block model.TimeBlock
	err   error
}

// focusBlockMsg asks the pomodoro view to run a session for a block.
type focusBlockMsg struct {
	block model.TimeBlock
}

type pomodoroSavedMsg struct {
	stat model.PomodoroStat
	err  error
}

type prefsSavedMsg struct {
	prefs model.Preferences
	err   error
}

type exportDoneMsg struct {
	path string
}

// --- Helpers ---

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func formatMinutes(mins int) string {
	if mins < 60 {
		return fmt.Sprintf("%dm", mins)
	}
	if mins%60 == 0 {
		return fmt.Sprintf("%dh", mins/60)
	}
	return fmt.Sprintf("%dh%02dm", mins/60, mins%60)
}

// blockSpan renders a block's wall-clock range, e.g. "09:15-09:45".
func blockSpan(b model.TimeBlock) string {
	start := b.Hour*60 + b.StartMinute
	end := start + b.DurationMinutes
	return fmt.Sprintf("%02d:%02d-%02d:%02d", start/60, start%60, (end/60)%24, end%60)
}

// describeErr turns coordinator errors into status line text.
func describeErr(action string, err error) statusMsg {
	return statusMsg{text: fmt.Sprintf("%s: %v", action, err), isError: true}
}
