// Package export writes time blocks and pomodoro statistics to portable files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sadopc/blockr/internal/model"
)

var csvHeader = []string{
	"ID", "Date", "Start", "End", "Title", "Category",
	"Duration (min)", "Timer (min)", "Completed", "Rollovers", "Original Date",
}

// WriteCSV writes one row per block, in the order given.
func WriteCSV(w io.Writer, blocks []model.TimeBlock) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, b := range blocks {
		timer := ""
		if b.TimerDuration != nil {
			timer = strconv.Itoa(*b.TimerDuration)
		}
		original := ""
		if b.OriginalDate != nil {
			original = *b.OriginalDate
		}
		start, end := clock(b.Hour*60+b.StartMinute), clock(b.Hour*60+b.EndMinute())

		row := []string{
			b.ID,
			b.Date,
			start,
			end,
			b.Title,
			string(b.Category),
			strconv.Itoa(b.DurationMinutes),
			timer,
			strconv.FormatBool(b.Completed),
			strconv.Itoa(b.RolloverCount),
			original,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", b.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func ToCSV(blocks []model.TimeBlock, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	if err := WriteCSV(f, blocks); err != nil {
		return err
	}
	return f.Close()
}

// clock formats minutes since midnight as HH:MM. Blocks that run past
// midnight wrap to the next day.
func clock(minutes int) string {
	minutes %= 24 * 60
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
