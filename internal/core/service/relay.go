package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rl1809/nft-marketplace/internal/port"
)

// EventRelay tails the event log and forwards every event to a publisher,
// resuming from the publisher's cursor. Delivery is at-least-once and in Seq
// order: a missing Seq halts the batch until it shows up or gapGrace passes.
// ProcessOnce is not safe for concurrent use.
type EventRelay struct {
	events    port.EventLog
	publisher port.EventPublisher
	interval  time.Duration
	batchSize int
	gapGrace  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	gapSeq   uint64
	gapSince time.Time
}

func NewEventRelay(events port.EventLog, publisher port.EventPublisher, interval time.Duration, batchSize int, gapGrace time.Duration, logger *slog.Logger) *EventRelay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if gapGrace <= 0 {
		gapGrace = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRelay{
		events:    events,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		gapGrace:  gapGrace,
		logger:    logger.With("component", "event_relay"),
		now:       time.Now,
	}
}

// Run relays until ctx is cancelled.
func (r *EventRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.ProcessOnce(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "relay iteration failed", "error", err)
				break
			}
			if n < r.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce forwards at most one batch and returns how many events were published.
func (r *EventRelay) ProcessOnce(ctx context.Context) (int, error) {
	cursor, err := r.publisher.LastPublished(ctx)
	if err != nil {
		return 0, fmt.Errorf("read relay cursor: %w", err)
	}

	batch, err := r.events.Since(ctx, cursor, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("read events after %d: %w", cursor, err)
	}

	published := 0
	next := cursor + 1
	for _, event := range batch {
		if event.Seq > next && r.holdAtGap(ctx, next, event.Seq) {
			break
		}
		if err := r.publisher.Publish(ctx, event); err != nil {
			return published, fmt.Errorf("publish event %d: %w", event.Seq, err)
		}
		published++
		next = event.Seq + 1
	}
	if published > 0 {
		r.logger.DebugContext(ctx, "relayed events", "count", published, "cursor", next-1)
	}
	return published, nil
}

// holdAtGap reports whether the relay should wait for missing before moving on
// to found. A gap older than gapGrace is skipped.
func (r *EventRelay) holdAtGap(ctx context.Context, missing, found uint64) bool {
	now := r.now()
	if r.gapSeq != missing {
		r.gapSeq = missing
		r.gapSince = now
	}
	if now.Sub(r.gapSince) < r.gapGrace {
		return true
	}
	r.logger.WarnContext(ctx, "skipping missing events", "from", missing, "to", found-1, "waited", now.Sub(r.gapSince))
	r.gapSeq = 0
	return false
}
