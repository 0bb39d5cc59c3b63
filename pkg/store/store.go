package store

import (
	"context"

	"github.com/nstogner/companion/pkg/domain"
)

// HistoryStore persists the outcome of every processed observation.
// Events are immutable once recorded.
type HistoryStore interface {
	// Record persists ev and notifies subscribers. The ID and Timestamp
	// fields should be set by the caller.
	Record(ctx context.Context, ev *domain.FeedbackEvent) error

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]domain.FeedbackEvent, error)

	// Subscribe returns a channel that receives every event recorded after
	// the call. Slow subscribers miss events rather than block Record.
	Subscribe() <-chan domain.FeedbackEvent

	// Unsubscribe stops delivery to ch and closes it.
	Unsubscribe(ch <-chan domain.FeedbackEvent)
}
