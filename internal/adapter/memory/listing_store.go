package memory

import (
	"context"
	"sync"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
)

type ListingStore struct {
	mu       sync.RWMutex
	listings map[domain.ItemKey]domain.Listing
}

func NewListingStore() *ListingStore {
	return &ListingStore{listings: make(map[domain.ItemKey]domain.Listing)}
}

func (s *ListingStore) Get(ctx context.Context, key domain.ItemKey) (domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listings[key], nil
}

func (s *ListingStore) Insert(ctx context.Context, key domain.ItemKey, listing domain.Listing) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listings[key].Listed() {
		return false, nil
	}
	s.listings[key] = listing
	return true, nil
}

func (s *ListingStore) Put(ctx context.Context, key domain.ItemKey, listing domain.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !listing.Listed() {
		delete(s.listings, key)
		return nil
	}
	s.listings[key] = listing
	return nil
}

func (s *ListingStore) Delete(ctx context.Context, key domain.ItemKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listings, key)
	return nil
}

func (s *ListingStore) Take(ctx context.Context, key domain.ItemKey) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing := s.listings[key]
	delete(s.listings, key)
	return listing, nil
}

// Snapshot returns a copy of every active listing.
func (s *ListingStore) Snapshot() map[domain.ItemKey]domain.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.ItemKey]domain.Listing, len(s.listings))
	for k, v := range s.listings {
		out[k] = v
	}
	return out
}
