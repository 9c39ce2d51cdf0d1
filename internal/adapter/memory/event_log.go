package memory

import (
	"context"
	"sync"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
)

type EventLog struct {
	mu     sync.RWMutex
	events []domain.Event
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) Append(ctx context.Context, event domain.Event) (domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Seq = uint64(len(l.events)) + 1
	l.events = append(l.events, event)
	return event, nil
}

func (l *EventLog) Since(ctx context.Context, after uint64, limit int) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if after >= uint64(len(l.events)) {
		return nil, nil
	}
	tail := l.events[after:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]domain.Event, len(tail))
	copy(out, tail)
	return out, nil
}

func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
