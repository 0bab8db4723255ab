package model

import (
	"fmt"
	"sort"
)

// Occupied returns the set of minutes taken in the (date, hour) slot by
// blocks other than excludeID.
func Occupied(blocks []TimeBlock, date string, hour int, excludeID string) map[int]bool {
	taken := make(map[int]bool)
	for _, b := range blocks {
		if b.Date != date || b.Hour != hour || (excludeID != "" && b.ID == excludeID) {
			continue
		}
		for m := b.StartMinute; m < b.EndMinute(); m++ {
			taken[m] = true
		}
	}
	return taken
}

// CheckConflict reports ErrSlotConflict when candidate overlaps any other
// block scheduled in the same date and hour.
func CheckConflict(existing []TimeBlock, candidate TimeBlock) error {
	for _, b := range existing {
		if b.Date != candidate.Date || b.Hour != candidate.Hour {
			continue
		}
		if candidate.ID != "" && b.ID == candidate.ID {
			continue
		}
		if candidate.StartMinute < b.EndMinute() && b.StartMinute < candidate.EndMinute() {
			return fmt.Errorf("%w by %s %q (%02d:%02d-%02d:%02d)", ErrSlotConflict, b.ID, b.Title,
				b.Hour, b.StartMinute, b.Hour+b.EndMinute()/60, b.EndMinute()%60)
		}
	}
	return nil
}

// FreeStarts lists the 5-minute start offsets in the slot where a block of
// the given duration fits without clashing.
func FreeStarts(blocks []TimeBlock, date string, hour, duration int, excludeID string) []int {
	taken := Occupied(blocks, date, hour, excludeID)
	var starts []int
	for s := 0; s < 60; s += 5 {
		free := true
		for m := s; m < s+duration; m++ {
			if taken[m] {
				free = false
				break
			}
		}
		if free {
			starts = append(starts, s)
		}
	}
	return starts
}

// SortBlocks orders blocks by date, hour and start minute.
func SortBlocks(blocks []TimeBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		return a.StartMinute < b.StartMinute
	})
}
