package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sadopc/blockr/internal/model"
)

// Color palette
var (
	colorPrimary   = lipgloss.Color("#6C63FF")
	colorAccent    = lipgloss.Color("#FF6B6B")
	colorMuted     = lipgloss.Color("#666666")
	colorSuccess   = lipgloss.Color("#2ECC71")
	colorWarning   = lipgloss.Color("#F39C12")
	colorError     = lipgloss.Color("#E74C3C")
	colorFg        = lipgloss.Color("#C0CAF5")
	colorSubtle    = lipgloss.Color("#414868")
	colorHighlight = lipgloss.Color("#7AA2F7")
)

var categoryColors = map[model.Category]lipgloss.Color{
	model.CategoryWork:     lipgloss.Color("#6C63FF"),
	model.CategoryMeeting:  lipgloss.Color("#3498DB"),
	model.CategoryBreak:    lipgloss.Color("#2EC4B6"),
	model.CategoryPersonal: lipgloss.Color("#F39C12"),
	model.CategoryLearning: lipgloss.Color("#9B59B6"),
	model.CategoryExercise: lipgloss.Color("#2ECC71"),
}

func categoryStyle(c model.Category) lipgloss.Style {
	col, ok := categoryColors[c]
	if !ok {
		col = colorMuted
	}
	return lipgloss.NewStyle().Foreground(col)
}

// Styles
var (
	// Tabs
	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(colorPrimary).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(colorMuted).
				Padding(0, 2)

	// Panels
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtle).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorPrimary).
				Padding(1, 2)

	// Countdown
	timerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			Align(lipgloss.Center)

	timerPausedStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorWarning).
				Align(lipgloss.Center)

	// Text
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorFg)

	accentStyle = lipgloss.NewStyle().
			Foreground(colorAccent)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	highlightStyle = lipgloss.NewStyle().
			Foreground(colorHighlight)

	doneStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Strikethrough(true)

	// Header/footer
	headerStyle = lipgloss.NewStyle().
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)

	// List items
	selectedItemStyle = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true)

	normalItemStyle = lipgloss.NewStyle().
			Foreground(colorFg)
)
