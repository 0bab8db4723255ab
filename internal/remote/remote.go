// Package remote talks to the hosted record service: a PostgREST-style HTTP
// API for reads and writes and a websocket channel for change pushes.
package remote

import (
	"context"
	"errors"

	"github.com/sadopc/blockr/internal/model"
)

// ErrNotFound is returned when a write targets a record the service does not
// have.
var ErrNotFound = errors.New("record not found")

// Service is the remote surface the coordinator depends on.
type Service interface {
	TimeBlocks(ctx context.Context, ownerID string) ([]model.TimeBlock, error)
	CreateTimeBlock(ctx context.Context, ownerID string, b model.TimeBlock) (model.TimeBlock, error)
	UpdateTimeBlock(ctx context.Context, id string, patch model.BlockPatch) (model.TimeBlock, error)
	DeleteTimeBlock(ctx context.Context, id string) error

	PomodoroStats(ctx context.Context, ownerID string) ([]model.PomodoroStat, error)
	SavePomodoroStat(ctx context.Context, ownerID string, session model.PomodoroSession) (model.PomodoroStat, error)

	// Preferences returns nil when the owner has never saved any.
	Preferences(ctx context.Context, ownerID string) (*model.Preferences, error)
	UpsertPreferences(ctx context.Context, ownerID string, p model.Preferences) (model.Preferences, error)
}
