package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/syncer"
)

// reportDays is how many days one chart page covers.
const reportDays = 7

type reportsModel struct {
	sync   *syncer.Coordinator
	now    func() time.Time
	width  int
	height int

	offset int // pages of reportDays back from today (0 = current)
	stats  map[string]model.PomodoroStat
	rows   []categoryRow
	goal   int

	chart barchart.Model
}

// categoryRow totals one category over the report range.
type categoryRow struct {
	category  model.Category
	pomodoros int
	planned   int
	completed int
}

func newReportsModel(c *syncer.Coordinator, now func() time.Time) reportsModel {
	return reportsModel{
		sync:  c,
		now:   now,
		chart: barchart.New(60, 12),
	}
}

func (r *reportsModel) setSize(w, h int) {
	r.width = w
	r.height = h
	r.buildChart()
}

func (r reportsModel) dateRange() (time.Time, time.Time) {
	now := r.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := today.AddDate(0, 0, 1-reportDays*r.offset)
	return end.AddDate(0, 0, -reportDays), end
}

func inRange(date string, from, to time.Time) bool {
	return date >= from.Format(model.DateLayout) && date < to.Format(model.DateLayout)
}

// reload recomputes the range totals from the coordinator.
func (r *reportsModel) reload() {
	from, to := r.dateRange()
	r.goal = r.sync.Preferences().DailyGoal

	r.stats = make(map[string]model.PomodoroStat)
	for _, st := range r.sync.Stats() {
		if inRange(st.Date, from, to) {
			r.stats[st.Date] = st
		}
	}

	totals := make(map[model.Category]*categoryRow, len(model.Categories))
	for _, c := range model.Categories {
		totals[c] = &categoryRow{category: c}
	}
	for _, st := range r.stats {
		for c, n := range st.CategoryBreakdown {
			if row, ok := totals[c]; ok {
				row.pomodoros += n
			}
		}
	}
	for _, b := range r.sync.AllBlocks() {
		if !inRange(b.Date, from, to) {
			continue
		}
		row, ok := totals[b.Category]
		if !ok {
			continue
		}
		row.planned += b.DurationMinutes
		if b.Completed {
			row.completed += b.DurationMinutes
		}
	}

	r.rows = nil
	for _, c := range model.Categories {
		if row := totals[c]; row.pomodoros > 0 || row.planned > 0 {
			r.rows = append(r.rows, *row)
		}
	}
	r.buildChart()
}

func (r reportsModel) update(msg tea.Msg) (reportsModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Left):
			r.offset++
			r.reload()
		case key.Matches(msg, keys.Right):
			if r.offset > 0 {
				r.offset--
			}
			r.reload()
		case key.Matches(msg, keys.Today):
			r.offset = 0
			r.reload()
		}
	}
	return r, nil
}

func (r *reportsModel) buildChart() {
	chartWidth := r.width - 8
	if chartWidth < 20 {
		chartWidth = 20
	}
	chartHeight := 12
	if r.height > 30 {
		chartHeight = 16
	}

	r.chart = barchart.New(chartWidth, chartHeight)

	from, to := r.dateRange()
	var bars []barchart.BarData
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		st := r.stats[d.Format(model.DateLayout)]

		var values []barchart.BarValue
		for _, c := range model.Categories {
			if n := st.CategoryBreakdown[c]; n > 0 {
				values = append(values, barchart.BarValue{
					Name:  string(c),
					Value: float64(n),
					Style: categoryStyle(c),
				})
			}
		}
		if len(values) == 0 {
			values = []barchart.BarValue{{Name: "", Value: 0, Style: lipgloss.NewStyle().Foreground(colorSubtle)}}
		}

		bars = append(bars, barchart.BarData{
			Label:  d.Format("Mon 02"),
			Values: values,
		})
	}

	r.chart.PushAll(bars)
	r.chart.Draw()
}

func (r reportsModel) view() string {
	w := r.width - 4

	from, to := r.dateRange()
	dateLabel := mutedStyle.Render(fmt.Sprintf("%s to %s", from.Format("Jan 02"), to.AddDate(0, 0, -1).Format("Jan 02, 2006")))
	header := lipgloss.JoinHorizontal(lipgloss.Bottom,
		titleStyle.Render("Pomodoros"), "  ", dateLabel,
	)

	nav := mutedStyle.Render("  ←/→: navigate  t: this week")

	return panelStyle.Width(w).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header, "", r.chart.View(), "", r.renderLegend(), "", r.renderSummary(w), "", nav,
		),
	)
}

func (r reportsModel) renderSummary(w int) string {
	if len(r.rows) == 0 {
		return mutedStyle.Render("  No data for this period")
	}

	var rows []string
	rows = append(rows, mutedStyle.Render(fmt.Sprintf("  %-12s %10s %10s %10s", "Category", "Pomodoros", "Planned", "Done")))
	rows = append(rows, mutedStyle.Render("  "+strings.Repeat("─", min(w-6, 46))))

	var pomodoros, focus int
	for _, st := range r.stats {
		pomodoros += st.PomodorosCompleted
		focus += st.FocusMinutes
	}
	for _, row := range r.rows {
		dot := categoryStyle(row.category).Render("●")
		rows = append(rows, fmt.Sprintf("  %s %-10s %10d %10s %10s",
			dot, row.category, row.pomodoros, formatMinutes(row.planned), formatMinutes(row.completed),
		))
	}

	rows = append(rows, "")
	summary := fmt.Sprintf("  %d pomodoros · %s focused", pomodoros, formatMinutes(focus))
	if r.goal > 0 && r.offset == 0 {
		today := r.stats[r.now().Format(model.DateLayout)].PomodorosCompleted
		summary += fmt.Sprintf(" · today %d/%d", today, r.goal)
		if today >= r.goal {
			summary += " " + successStyle.Render("goal reached")
		}
	}
	rows = append(rows, highlightStyle.Render(summary))

	return strings.Join(rows, "\n")
}

func (r reportsModel) renderLegend() string {
	var items []string
	for _, row := range r.rows {
		if row.pomodoros == 0 {
			continue
		}
		dot := categoryStyle(row.category).Render("●")
		items = append(items, fmt.Sprintf("%s %s", dot, row.category))
	}
	if len(items) == 0 {
		return ""
	}
	return "  " + strings.Join(items, "  ")
}
