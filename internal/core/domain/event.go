package domain

import "time"

type EventKind string

const (
	EventListingCreated   EventKind = "listing.created"
	EventListingUpdated   EventKind = "listing.updated"
	EventListingCancelled EventKind = "listing.cancelled"
	EventItemPurchased    EventKind = "listing.purchased"
)

// Event is one accepted registry transition. Seq is assigned by the event log
// and is strictly increasing across all keys.
type Event struct {
	Seq        uint64
	ID         string
	Kind       EventKind
	Key        ItemKey
	Price      int64
	Seller     string
	Buyer      string
	OccurredAt time.Time
}

// Replay folds an ordered event sequence into the registry state it describes.
func Replay(events []Event) map[ItemKey]Listing {
	state := make(map[ItemKey]Listing)
	for _, e := range events {
		switch e.Kind {
		case EventListingCreated, EventListingUpdated:
			state[e.Key] = Listing{Price: e.Price, Seller: e.Seller}
		case EventListingCancelled, EventItemPurchased:
			delete(state, e.Key)
		}
	}
	return state
}
