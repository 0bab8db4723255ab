package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/sadopc/blockr/internal/guest"
	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/syncer"
)

type scheduleModel struct {
	sync   *syncer.Coordinator
	now    func() time.Time
	width  int
	height int

	date    string
	blocks  []model.TimeBlock
	cursor  int
	canUndo bool

	formActive bool
	form       *huh.Form
	editingID  string

	// Form field pointers (survive value copies)
	formTitle    *string
	formCategory *model.Category
	formDate     *string
	formHour     *string
	formStart    *int
	formDuration *string
	formTimer    *string
	formRollover *bool
}

func newScheduleModel(c *syncer.Coordinator, now func() time.Time) scheduleModel {
	var (
		title, date, hour, duration, timer string
		cat                                = model.CategoryWork
		start                              int
		rollover                           bool
	)
	return scheduleModel{
		sync:         c,
		now:          now,
		date:         now().Format(model.DateLayout),
		formTitle:    &title,
		formCategory: &cat,
		formDate:     &date,
		formHour:     &hour,
		formStart:    &start,
		formDuration: &duration,
		formTimer:    &timer,
		formRollover: &rollover,
	}
}

func (s *scheduleModel) setSize(w, h int) {
	s.width = w
	s.height = h
}

// reload copies the selected day out of the coordinator.
func (s *scheduleModel) reload() {
	s.blocks = s.sync.Blocks(s.date)
	s.canUndo = s.sync.CanUndo()
	if s.cursor >= len(s.blocks) {
		s.cursor = max(0, len(s.blocks)-1)
	}
}

func (s scheduleModel) selected() (model.TimeBlock, bool) {
	if s.cursor < 0 || s.cursor >= len(s.blocks) {
		return model.TimeBlock{}, false
	}
	return s.blocks[s.cursor], true
}

func (s *scheduleModel) shiftDay(days int) {
	d, err := time.Parse(model.DateLayout, s.date)
	if err != nil {
		d = s.now()
	}
	s.date = d.AddDate(0, 0, days).Format(model.DateLayout)
	s.cursor = 0
	s.reload()
}

func (s scheduleModel) update(msg tea.Msg) (scheduleModel, tea.Cmd) {
	if s.formActive && s.form != nil {
		return s.updateForm(msg)
	}

	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return s, nil
	}
	switch {
	case key.Matches(km, keys.Up):
		if s.cursor > 0 {
			s.cursor--
		}
	case key.Matches(km, keys.Down):
		if s.cursor < len(s.blocks)-1 {
			s.cursor++
		}
	case key.Matches(km, keys.Left):
		s.shiftDay(-1)
	case key.Matches(km, keys.Right):
		s.shiftDay(1)
	case key.Matches(km, keys.Today):
		s.date = s.now().Format(model.DateLayout)
		s.cursor = 0
		s.reload()
	case key.Matches(km, keys.New):
		return s.showForm(nil)
	case key.Matches(km, keys.Edit), key.Matches(km, keys.Enter):
		if b, ok := s.selected(); ok {
			return s.showForm(&b)
		}
	case key.Matches(km, keys.Complete):
		if b, ok := s.selected(); ok {
			return s, s.toggleCmd(b.ID)
		}
	case key.Matches(km, keys.Delete):
		if b, ok := s.selected(); ok {
			return s, s.deleteCmd(b)
		}
	case key.Matches(km, keys.Undo):
		if s.canUndo {
			return s, s.undoCmd()
		}
		return s, func() tea.Msg { return statusMsg{text: "Nothing to undo"} }
	case key.Matches(km, keys.Focus):
		if b, ok := s.selected(); ok {
			return s, func() tea.Msg { return focusBlockMsg{block: b} }
		}
	}
	return s, nil
}

// showForm opens the block editor, prefilled from b when editing.
func (s scheduleModel) showForm(b *model.TimeBlock) (scheduleModel, tea.Cmd) {
	if b == nil {
		s.editingID = ""
		hour := s.now().Hour()
		*s.formTitle = ""
		*s.formCategory = model.CategoryWork
		*s.formDate = s.date
		*s.formHour = strconv.Itoa(hour)
		*s.formDuration = "30"
		*s.formTimer = ""
		*s.formRollover = false
		*s.formStart = 0
		if free := model.FreeStarts(s.sync.AllBlocks(), s.date, hour, 30, ""); len(free) > 0 {
			*s.formStart = free[0]
		}
	} else {
		s.editingID = b.ID
		*s.formTitle = b.Title
		*s.formCategory = b.Category
		*s.formDate = b.Date
		*s.formHour = strconv.Itoa(b.Hour)
		*s.formStart = b.StartMinute
		*s.formDuration = strconv.Itoa(b.DurationMinutes)
		*s.formTimer = ""
		if b.TimerDuration != nil {
			*s.formTimer = strconv.Itoa(*b.TimerDuration)
		}
		*s.formRollover = b.RolloverEnabled
	}

	catOptions := make([]huh.Option[model.Category], len(model.Categories))
	for i, c := range model.Categories {
		catOptions[i] = huh.NewOption(string(c), c)
	}
	startOptions := make([]huh.Option[int], 0, 12)
	for m := 0; m < 60; m += 5 {
		startOptions = append(startOptions, huh.NewOption(fmt.Sprintf(":%02d", m), m))
	}

	s.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Title").Value(s.formTitle).
				Validate(func(v string) error {
					if model.SanitizeTitle(v) == "" {
						return errors.New("title is required")
					}
					return nil
				}),
			huh.NewSelect[model.Category]().Title("Category").Options(catOptions...).Value(s.formCategory),
			huh.NewInput().Title("Date (YYYY-MM-DD)").Value(s.formDate).
				Validate(func(v string) error {
					_, err := time.Parse(model.DateLayout, strings.TrimSpace(v))
					return err
				}),
		),
		huh.NewGroup(
			huh.NewInput().Title("Hour (0-23)").Value(s.formHour).
				Validate(intRange(0, 23)),
			huh.NewSelect[int]().Title("Start minute").Options(startOptions...).Value(s.formStart),
			huh.NewInput().Title("Duration (min)").Value(s.formDuration).
				Validate(intRange(5, 120)),
			huh.NewInput().Title("Timer override (min, blank for none)").Value(s.formTimer).
				Validate(func(v string) error {
					if strings.TrimSpace(v) == "" {
						return nil
					}
					return intRange(1, 120)(v)
				}),
			huh.NewConfirm().Title("Roll over when unfinished?").Value(s.formRollover),
		),
	).WithShowHelp(true).WithShowErrors(true)

	s.formActive = true
	return s, s.form.Init()
}

func intRange(lo, hi int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.New("enter a whole number")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

func (s scheduleModel) updateForm(msg tea.Msg) (scheduleModel, tea.Cmd) {
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
		b := s.formBlock()
		if s.editingID == "" {
			return s, s.createCmd(b)
		}
		return s, s.updateCmd(s.editingID, fullPatch(b))
	}

	return s, cmd
}

// formBlock reads the editor fields into a block. Fields were validated by
// the form.
func (s scheduleModel) formBlock() model.TimeBlock {
	hour, _ := strconv.Atoi(strings.TrimSpace(*s.formHour))
	duration, _ := strconv.Atoi(strings.TrimSpace(*s.formDuration))
	b := model.TimeBlock{
		Title:           *s.formTitle,
		Category:        *s.formCategory,
		Date:            strings.TrimSpace(*s.formDate),
		Hour:            hour,
		StartMinute:     *s.formStart,
		DurationMinutes: duration,
		RolloverEnabled: *s.formRollover,
	}
	if t, err := strconv.Atoi(strings.TrimSpace(*s.formTimer)); err == nil {
		b.TimerDuration = &t
	}
	return b
}

func fullPatch(b model.TimeBlock) model.BlockPatch {
	p := model.BlockPatch{
		Title:           &b.Title,
		Category:        &b.Category,
		Date:            &b.Date,
		Hour:            &b.Hour,
		StartMinute:     &b.StartMinute,
		DurationMinutes: &b.DurationMinutes,
		RolloverEnabled: &b.RolloverEnabled,
	}
	if b.TimerDuration != nil {
		p.TimerDuration = b.TimerDuration
	}
	return p
}

func (s scheduleModel) createCmd(b model.TimeBlock) tea.Cmd {
	c := s.sync
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		created, err := c.CreateBlock(ctx, b)
		return blockSavedMsg{block: created, created: true, err: err}
	}
}

func (s scheduleModel) updateCmd(id string, patch model.BlockPatch) tea.Cmd {
	c := s.sync
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		updated, err := c.UpdateBlock(ctx, id, patch)
		return blockSavedMsg{block: updated, err: err}
	}
}

func (s scheduleModel) toggleCmd(id string) tea.Cmd {
	c := s.sync
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		updated, err := c.ToggleComplete(ctx, id)
		return blockSavedMsg{block: updated, err: err}
	}
}

func (s scheduleModel) deleteCmd(b model.TimeBlock) tea.Cmd {
	c := s.sync
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return blockDeletedMsg{block: b, err: c.DeleteBlock(ctx, b.ID)}
	}
}

func (s scheduleModel) undoCmd() tea.Cmd {
	c := s.sync
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		b, err := c.UndoDelete(ctx)
		return undoneMsg{block: b, err: err}
	}
}

// saveStatus words the outcome of a block write for the status line.
func saveStatus(msg blockSavedMsg) statusMsg {
	verb := "Updated"
	if msg.created {
		verb = "Created"
	}
	var ve *model.ValidationError
	switch {
	case msg.err == nil:
		return statusMsg{text: fmt.Sprintf("%s %q", verb, msg.block.Title)}
	case errors.Is(msg.err, syncer.ErrQueuedOffline):
		return statusMsg{text: fmt.Sprintf("%s %q offline, will sync later", verb, msg.block.Title)}
	case errors.Is(msg.err, model.ErrSlotConflict):
		return statusMsg{text: "That slot is taken: " + msg.err.Error(), isError: true}
	case errors.As(msg.err, &ve):
		return statusMsg{text: ve.Error(), isError: true}
	default:
		return describeErr("Save block", msg.err)
	}
}

func deleteStatus(msg blockDeletedMsg) statusMsg {
	switch {
	case msg.err == nil:
		return statusMsg{text: fmt.Sprintf("Deleted %q, press u to undo", msg.block.Title)}
	case errors.Is(msg.err, syncer.ErrQueuedOffline):
		return statusMsg{text: fmt.Sprintf("Deleted %q offline, will sync later", msg.block.Title)}
	default:
		return describeErr("Delete block", msg.err)
	}
}

func undoStatus(msg undoneMsg) statusMsg {
	switch {
	case msg.err == nil:
		return statusMsg{text: fmt.Sprintf("Restored %q", msg.block.Title)}
	case errors.Is(msg.err, syncer.ErrQueuedOffline):
		return statusMsg{text: fmt.Sprintf("Restored %q offline, will sync later", msg.block.Title)}
	case errors.Is(msg.err, model.ErrSlotConflict):
		return statusMsg{text: "Cannot restore, the slot is taken now", isError: true}
	default:
		return describeErr("Undo", msg.err)
	}
}

func (s scheduleModel) view() string {
	w := s.width - 4

	if s.formActive && s.form != nil {
		title := titleStyle.Render("New Block")
		if s.editingID != "" {
			title = titleStyle.Render("Edit Block")
		}
		return panelStyle.Width(w).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, "", s.form.View()),
		)
	}

	header := titleStyle.Render(s.dayLabel())
	planned, done := 0, 0
	for _, b := range s.blocks {
		planned += b.DurationMinutes
		if b.Completed {
			done += b.DurationMinutes
		}
	}
	if planned > 0 {
		header += "  " + highlightStyle.Render(fmt.Sprintf("%s planned", formatMinutes(planned))) +
			mutedStyle.Render(fmt.Sprintf(" · %s done", formatMinutes(done)))
	}

	hint := "  n: new  e: edit  c: complete  d: delete  p: focus  ←/→: day  t: today"
	if s.canUndo {
		hint += "  u: undo"
	}

	if len(s.blocks) == 0 {
		return panelStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left,
			header,
			"",
			mutedStyle.Render("Nothing planned. Press n to add a block."),
			"",
			mutedStyle.Render(hint),
		))
	}

	rows := []string{header, ""}
	lastHour := -1
	for i, b := range s.blocks {
		if b.Hour != lastHour {
			rows = append(rows, mutedStyle.Render(fmt.Sprintf("%02d:00", b.Hour)))
			lastHour = b.Hour
		}
		rows = append(rows, s.renderBlock(i, b))
	}
	rows = append(rows, "", mutedStyle.Render(hint))

	return panelStyle.Width(w).Render(strings.Join(rows, "\n"))
}

func (s scheduleModel) dayLabel() string {
	d, err := time.Parse(model.DateLayout, s.date)
	if err != nil {
		return s.date
	}
	label := d.Format("Monday, Jan 02 2006")
	if s.date == s.now().Format(model.DateLayout) {
		label = "Today · " + label
	}
	return label
}

func (s scheduleModel) renderBlock(i int, b model.TimeBlock) string {
	cursor := "  "
	style := normalItemStyle
	if i == s.cursor {
		cursor = "> "
		style = selectedItemStyle
	}
	check := "○"
	title := style.Render(b.Title)
	if b.Completed {
		check = successStyle.Render("✓")
		title = doneStyle.Render(b.Title)
	}
	dot := categoryStyle(b.Category).Render("●")

	var marks []string
	if b.IsRolledOver {
		marks = append(marks, warningStyle.Render(fmt.Sprintf("↻%d", b.RolloverCount)))
	} else if b.RolloverEnabled {
		marks = append(marks, mutedStyle.Render("↻"))
	}
	if b.TimerDuration != nil {
		marks = append(marks, mutedStyle.Render("⏱"+formatMinutes(*b.TimerDuration)))
	}
	if guest.IsLocalID(b.ID) && s.sync.Status().Mode == model.Authenticated {
		marks = append(marks, warningStyle.Render("unsynced"))
	}

	row := fmt.Sprintf("%s%s %s %s %s %s", cursor, check, dot, style.Render(blockSpan(b)), title,
		mutedStyle.Render(formatMinutes(b.DurationMinutes)))
	if len(marks) > 0 {
		row += " " + strings.Join(marks, " ")
	}
	return row
}
