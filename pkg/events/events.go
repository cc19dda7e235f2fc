package events

import (
	"context"
	"errors"
	"time"
)

// Run status values.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

/*
RunEvent is the notification emitted when a sync phase finishes.
Phase is one of properties, plans or all. Counts carries the
per-outcome totals of the run (created records, skipped events, ...).
*/
type RunEvent struct {
	RunID      string         `json:"run_id"`
	Phase      string         `json:"phase"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DurationMS int64          `json:"duration_ms"`
	Counts     map[string]int `json:"counts,omitempty"`
}

// Duration of the run.
func (e *RunEvent) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// Publisher delivers run notifications to a downstream sink.
type Publisher interface {
	Publish(ctx context.Context, event *RunEvent) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *RunEvent) error { return nil }
func (NoopPublisher) Close() error                             { return nil }

// MultiPublisher fans an event out to every publisher and joins their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event *RunEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
