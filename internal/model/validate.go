package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxTitleLength = 100

var (
	// ErrSlotConflict means a block would overlap another block in its hour.
	ErrSlotConflict = errors.New("time slot already occupied")

	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, name := range []string{"title", "category", "date", "hour", "start_minute", "duration_minutes", "timer_duration"} {
		if msg, ok := e.Fields[name]; ok {
			parts = append(parts, name+": "+msg)
		}
	}
	return "invalid time block: " + strings.Join(parts, "; ")
}

// SanitizeTitle strips markup and angle brackets, collapses whitespace and
// truncates to MaxTitleLength runes.
func SanitizeTitle(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	s = strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
	if utf8.RuneCountInString(s) > MaxTitleLength {
		s = string([]rune(s)[:MaxTitleLength])
	}
	return s
}

// Validate checks the field rules of a block. Titles are expected to be
// sanitized already.
func Validate(b TimeBlock) error {
	fields := make(map[string]string)

	if b.Title == "" {
		fields["title"] = "required"
	} else if utf8.RuneCountInString(b.Title) > MaxTitleLength {
		fields["title"] = fmt.Sprintf("longer than %d characters", MaxTitleLength)
	}
	if !b.Category.Valid() {
		fields["category"] = fmt.Sprintf("unknown category %q", b.Category)
	}
	if _, err := time.Parse(DateLayout, b.Date); err != nil {
		fields["date"] = "must be YYYY-MM-DD"
	}
	if b.Hour < 0 || b.Hour > 23 {
		fields["hour"] = "must be between 0 and 23"
	}
	if b.StartMinute < 0 || b.StartMinute > 59 {
		fields["start_minute"] = "must be between 0 and 59"
	} else if b.StartMinute%5 != 0 {
		fields["start_minute"] = "must be a multiple of 5"
	}
	if b.DurationMinutes < 5 || b.DurationMinutes > 120 {
		fields["duration_minutes"] = "must be between 5 and 120"
	}
	if b.TimerDuration != nil && (*b.TimerDuration < 1 || *b.TimerDuration > 120) {
		fields["timer_duration"] = "must be between 1 and 120"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (p Preferences) Validate() error {
	switch {
	case p.FocusMinutes < 1 || p.FocusMinutes > 120:
		return fmt.Errorf("focus minutes %d out of range", p.FocusMinutes)
	case p.ShortBreakMinutes < 1 || p.ShortBreakMinutes > 60:
		return fmt.Errorf("short break minutes %d out of range", p.ShortBreakMinutes)
	case p.LongBreakMinutes < 1 || p.LongBreakMinutes > 120:
		return fmt.Errorf("long break minutes %d out of range", p.LongBreakMinutes)
	case p.PomodorosUntilLongBreak < 1:
		return fmt.Errorf("pomodoros until long break must be positive")
	case p.DailyGoal < 0:
		return fmt.Errorf("daily goal must not be negative")
	}
	return nil
}
