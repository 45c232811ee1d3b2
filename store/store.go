// Package store persists run history: one record per engine invocation and
// one per work item, so embedding applications can inspect past runs through
// the monitor API.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// ErrInvalidTransition is returned when a status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// Run status constants.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Item status constants.
const (
	ItemStatusPending   = "pending"
	ItemStatusSubmitted = "submitted"
	ItemStatusCompleted = "completed"
	ItemStatusFailed    = "failed"
)

// validItemTransitions maps each item status to the set of statuses it may
// transition to. An item that fails at submission never passes through
// "submitted".
var validItemTransitions = map[string]map[string]bool{
	ItemStatusPending: {
		ItemStatusSubmitted: true,
		ItemStatusFailed:    true,
	},
	ItemStatusSubmitted: {
		ItemStatusCompleted: true,
		ItemStatusFailed:    true,
	},
}

// ValidItemTransition reports whether an item may move from one status to
// another.
func ValidItemTransition(from, to string) bool {
	targets, ok := validItemTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Run records one engine invocation.
type Run struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Backend     string     `json:"backend"`
	Mode        string     `json:"mode"`
	Concurrency int        `json:"concurrency"`
	Items       int        `json:"items"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	DurationMS  *int       `json:"duration_ms,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Item records the outcome of one work item within a run.
type Item struct {
	RunID      string     `json:"run_id"`
	Index      int        `json:"index"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunStats holds aggregate execution statistics.
type RunStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	CountByBackend map[string]int `json:"count_by_backend"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for runs and their items.
type Store interface {
	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, int, error)
	UpdateRun(ctx context.Context, r *Run) error
	CreateItems(ctx context.Context, runID string, count int) error
	UpdateItem(ctx context.Context, it *Item) error
	ListItems(ctx context.Context, runID string) ([]Item, error)
	GetRunStats(ctx context.Context) (*RunStats, error)
	Close() error
}
