package syncer

import "github.com/sadopc/blockr/internal/model"

type EventKind int

const (
	Insert EventKind = iota
	Update
	Delete
)

func (k EventKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one change to the block collection, pushed by the service or
// produced by a local mutation.
type Event struct {
	Kind  EventKind
	Block model.TimeBlock
}

// Apply folds ev into state and reports whether anything changed. Inserts
// only add unknown ids, updates only touch known ids, deletes drop the id if
// present, so replaying an event is a no-op.
func Apply(state map[string]model.TimeBlock, ev Event) bool {
	id := ev.Block.ID
	if id == "" {
		return false
	}
	_, exists := state[id]

	switch ev.Kind {
	case Insert:
		if exists {
			return false
		}
		state[id] = ev.Block
		return true
	case Update:
		if !exists {
			return false
		}
		state[id] = ev.Block
		return true
	case Delete:
		if !exists {
			return false
		}
		delete(state, id)
		return true
	}
	return false
}

// settle swaps an optimistic record for the confirmed server record it
// became. The temporary record is found through the server record's
// ClientRef.
func settle(state map[string]model.TimeBlock, confirmed model.TimeBlock) bool {
	changed := false
	if ref := confirmed.ClientRef; ref != "" && ref != confirmed.ID {
		if _, ok := state[ref]; ok {
			delete(state, ref)
			changed = true
		}
	}
	if Apply(state, Event{Kind: Insert, Block: confirmed}) {
		changed = true
	}
	return changed
}

func sortedBlocks(state map[string]model.TimeBlock, date string) []model.TimeBlock {
	out := make([]model.TimeBlock, 0, len(state))
	for _, b := range state {
		if date == "" || b.Date == date {
			out = append(out, b)
		}
	}
	model.SortBlocks(out)
	return out
}
