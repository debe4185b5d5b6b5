package planner

import (
	"fmt"
	"log/slog"
	"sync"
)

// Stage names a point in the generation run.
type Stage string

const (
	StageStarted         Stage = "started"
	StageDayCompleted    Stage = "day_completed"
	StageFallbackStarted Stage = "fallback_started"
	StageVarietyCheck    Stage = "variety_check_started"
)

// Progress is delivered to the caller's callback as generation advances.
type Progress struct {
	Stage     Stage
	Message   string
	Completed int
	Total     int
	// Day is set for StageDayCompleted.
	Day string
}

// ProgressFunc receives progress events. It is never called concurrently.
type ProgressFunc func(Progress)

// progressReporter serialises callback invocations and contains callback panics.
type progressReporter struct {
	mu        sync.Mutex
	fn        ProgressFunc
	logger    *slog.Logger
	total     int
	completed int
}

func newProgressReporter(fn ProgressFunc, total int, logger *slog.Logger) *progressReporter {
	return &progressReporter{fn: fn, total: total, logger: logger}
}

func (r *progressReporter) report(stage Stage, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(Progress{Stage: stage, Message: message, Completed: r.completed, Total: r.total})
}

// dayCompleted counts a finished day and reports it.
func (r *progressReporter) dayCompleted(day string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	r.emit(Progress{
		Stage:     StageDayCompleted,
		Message:   fmt.Sprintf("Tag fertig (%d/%d): %s", r.completed, r.total, day),
		Completed: r.completed,
		Total:     r.total,
		Day:       day,
	})
}

// emit must be called with mu held.
func (r *progressReporter) emit(p Progress) {
	if r.fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("Progress callback panicked", "stage", p.Stage, "panic", rec)
		}
	}()
	r.fn(p)
}
