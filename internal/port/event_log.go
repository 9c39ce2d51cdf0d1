package port

import (
	"context"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
)

type EventLog interface {
	// Append records event and returns it with Seq assigned
	Append(ctx context.Context, event domain.Event) (domain.Event, error)

	// Since returns up to limit events with Seq greater than after, in order
	Since(ctx context.Context, after uint64, limit int) ([]domain.Event, error)
}

type EventPublisher interface {
	// Publish delivers event downstream and advances the relay cursor to its Seq
	Publish(ctx context.Context, event domain.Event) error

	// LastPublished returns the Seq of the last delivered event, 0 if none
	LastPublished(ctx context.Context) (uint64, error)
}
