package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
	"github.com/rl1809/nft-marketplace/internal/port"
)

type Dependencies struct {
	Listings port.ListingRepository
	Events   port.EventLog
	Assets   port.AssetOracle
	Payments port.PaymentRail
	Locks    port.KeyLocker
	// Operator is the marketplace identity that sellers must approve.
	Operator string
	Logger   *slog.Logger
}

type MarketplaceService struct {
	listings port.ListingRepository
	events   port.EventLog
	assets   port.AssetOracle
	payments port.PaymentRail
	locks    port.KeyLocker
	guard    *Guard
	logger   *slog.Logger
	now      func() time.Time
}

func NewMarketplaceService(deps Dependencies) *MarketplaceService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketplaceService{
		listings: deps.Listings,
		events:   deps.Events,
		assets:   deps.Assets,
		payments: deps.Payments,
		locks:    deps.Locks,
		guard:    NewGuard(deps.Assets, deps.Operator),
		logger:   logger.With("component", "marketplace"),
		now:      time.Now,
	}
}

func (s *MarketplaceService) CreateListing(ctx context.Context, key domain.ItemKey, price int64, caller string) (domain.Event, error) {
	if err := validateRequest(key, caller); err != nil {
		return domain.Event{}, err
	}

	unlock, err := s.locks.Lock(ctx, key.String())
	if err != nil {
		return domain.Event{}, err
	}
	defer unlock()

	current, err := s.listings.Get(ctx, key)
	if err != nil {
		return domain.Event{}, fmt.Errorf("get listing: %w", err)
	}
	if current.Listed() {
		return domain.Event{}, domain.ErrAlreadyListed
	}
	if price <= 0 {
		return domain.Event{}, domain.ErrInvalidPrice
	}
	if err := s.guard.RequireOwner(ctx, key, caller); err != nil {
		return domain.Event{}, err
	}
	if err := s.guard.RequireMarketplaceApproval(ctx, key, caller); err != nil {
		return domain.Event{}, err
	}

	listing := domain.Listing{Price: price, Seller: caller}
	ok, err := s.listings.Insert(ctx, key, listing)
	if err != nil {
		return domain.Event{}, fmt.Errorf("insert listing: %w", err)
	}
	if !ok {
		return domain.Event{}, domain.ErrAlreadyListed
	}

	undo := s.newUndoLog(key)
	undo.push("remove listing", func(ctx context.Context) error {
		return s.listings.Delete(ctx, key)
	})

	event, err := s.emit(ctx, domain.EventListingCreated, key, listing, "")
	if err != nil {
		return domain.Event{}, undo.rollback(ctx, err)
	}

	s.logger.InfoContext(ctx, "listing created", "key", key.String(), "seller", caller, "price", price, "seq", event.Seq)
	return event, nil
}

func (s *MarketplaceService) UpdateListing(ctx context.Context, key domain.ItemKey, newPrice int64, caller string) (domain.Event, error) {
	if err := validateRequest(key, caller); err != nil {
		return domain.Event{}, err
	}

	unlock, err := s.locks.Lock(ctx, key.String())
	if err != nil {
		return domain.Event{}, err
	}
	defer unlock()

	current, err := s.listings.Get(ctx, key)
	if err != nil {
		return domain.Event{}, fmt.Errorf("get listing: %w", err)
	}
	if !current.Listed() {
		return domain.Event{}, domain.ErrNotListed
	}
	if current.Seller != caller {
		return domain.Event{}, domain.ErrNotOwner
	}
	if newPrice <= 0 {
		return domain.Event{}, domain.ErrInvalidPrice
	}

	updated := domain.Listing{Price: newPrice, Seller: current.Seller}
	if err := s.listings.Put(ctx, key, updated); err != nil {
		return domain.Event{}, fmt.Errorf("put listing: %w", err)
	}

	undo := s.newUndoLog(key)
	undo.push("restore price", func(ctx context.Context) error {
		return s.listings.Put(ctx, key, current)
	})

	event, err := s.emit(ctx, domain.EventListingUpdated, key, updated, "")
	if err != nil {
		return domain.Event{}, undo.rollback(ctx, err)
	}

	s.logger.InfoContext(ctx, "listing updated", "key", key.String(), "seller", caller, "old_price", current.Price, "price", newPrice, "seq", event.Seq)
	return event, nil
}

func (s *MarketplaceService) CancelListing(ctx context.Context, key domain.ItemKey, caller string) (domain.Event, error) {
	if err := validateRequest(key, caller); err != nil {
		return domain.Event{}, err
	}

	unlock, err := s.locks.Lock(ctx, key.String())
	if err != nil {
		return domain.Event{}, err
	}
	defer unlock()

	current, err := s.listings.Get(ctx, key)
	if err != nil {
		return domain.Event{}, fmt.Errorf("get listing: %w", err)
	}
	if !current.Listed() {
		return domain.Event{}, domain.ErrNotListed
	}
	if current.Seller != caller {
		return domain.Event{}, domain.ErrNotOwner
	}

	if err := s.listings.Delete(ctx, key); err != nil {
		return domain.Event{}, fmt.Errorf("delete listing: %w", err)
	}

	undo := s.newUndoLog(key)
	undo.push("restore listing", func(ctx context.Context) error {
		return s.listings.Put(ctx, key, current)
	})

	event, err := s.emit(ctx, domain.EventListingCancelled, key, current, "")
	if err != nil {
		return domain.Event{}, undo.rollback(ctx, err)
	}

	s.logger.InfoContext(ctx, "listing cancelled", "key", key.String(), "seller", caller, "seq", event.Seq)
	return event, nil
}

func (s *MarketplaceService) GetListing(ctx context.Context, key domain.ItemKey) (domain.Listing, error) {
	if !key.Valid() {
		return domain.Listing{}, fmt.Errorf("%w: item key", domain.ErrInvalidInput)
	}
	listing, err := s.listings.Get(ctx, key)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	if !listing.Listed() {
		return domain.Listing{}, domain.ErrNotListed
	}
	return listing, nil
}

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

// Events pages through the log; limit <= 0 means the default page size and
// anything above maxEventPage is capped.
func (s *MarketplaceService) Events(ctx context.Context, after uint64, limit int) ([]domain.Event, error) {
	switch {
	case limit <= 0:
		limit = defaultEventPage
	case limit > maxEventPage:
		limit = maxEventPage
	}
	return s.events.Since(ctx, after, limit)
}

func (s *MarketplaceService) emit(ctx context.Context, kind domain.EventKind, key domain.ItemKey, listing domain.Listing, buyer string) (domain.Event, error) {
	event, err := s.events.Append(ctx, domain.Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Key:        key,
		Price:      listing.Price,
		Seller:     listing.Seller,
		Buyer:      buyer,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("append %s event: %w", kind, err)
	}
	return event, nil
}

func (s *MarketplaceService) newUndoLog(key domain.ItemKey) *undoLog {
	return &undoLog{key: key, logger: s.logger}
}

func validateRequest(key domain.ItemKey, caller string) error {
	if !key.Valid() {
		return fmt.Errorf("%w: item key", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(caller) == "" {
		return fmt.Errorf("%w: caller", domain.ErrInvalidInput)
	}
	return nil
}
