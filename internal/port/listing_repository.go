package port

import (
	"context"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
)

type ListingRepository interface {
	// Get returns the listing for key, or the zero Listing if none exists
	Get(ctx context.Context, key domain.ItemKey) (domain.Listing, error)

	// Insert stores listing only if key has none, returns false if already listed
	Insert(ctx context.Context, key domain.ItemKey, listing domain.Listing) (bool, error)

	// Put replaces the listing for key unconditionally
	Put(ctx context.Context, key domain.ItemKey, listing domain.Listing) error

	// Delete removes the listing for key, a missing key is not an error
	Delete(ctx context.Context, key domain.ItemKey) error

	// Take atomically removes and returns the listing, zero Listing if none existed
	Take(ctx context.Context, key domain.ItemKey) (domain.Listing, error)
}
