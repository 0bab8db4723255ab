package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sadopc/blockr/internal/model"
)

type jsonExport struct {
	ExportedAt string               `json:"exported_at"`
	Count      int                  `json:"count"`
	Blocks     []jsonBlock          `json:"blocks"`
	Stats      []model.PomodoroStat `json:"pomodoro_stats,omitempty"`
	Totals     jsonTotals           `json:"totals"`
}

type jsonBlock struct {
	model.TimeBlock
	Start string `json:"start"`
	End   string `json:"end"`
}

type jsonTotals struct {
	PlannedMinutes   int `json:"planned_minutes"`
	CompletedMinutes int `json:"completed_minutes"`
	Pomodoros        int `json:"pomodoros"`
	FocusMinutes     int `json:"focus_minutes"`
}

// WriteJSON writes blocks and stats as one indented document stamped with now.
func WriteJSON(w io.Writer, blocks []model.TimeBlock, stats []model.PomodoroStat, now time.Time) error {
	export := jsonExport{
		ExportedAt: now.UTC().Format(time.RFC3339),
		Count:      len(blocks),
		Stats:      stats,
	}

	for _, b := range blocks {
		export.Blocks = append(export.Blocks, jsonBlock{
			TimeBlock: b,
			Start:     clock(b.Hour*60 + b.StartMinute),
			End:       clock(b.Hour*60 + b.EndMinute()),
		})
		export.Totals.PlannedMinutes += b.DurationMinutes
		if b.Completed {
			export.Totals.CompletedMinutes += b.DurationMinutes
		}
	}
	for _, st := range stats {
		export.Totals.Pomodoros += st.PomodorosCompleted
		export.Totals.FocusMinutes += st.FocusMinutes
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func ToJSON(blocks []model.TimeBlock, stats []model.PomodoroStat, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create json file: %w", err)
	}
	defer f.Close()

	if err := WriteJSON(f, blocks, stats, time.Now()); err != nil {
		return err
	}
	return f.Close()
}
