package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
)

// BuyItem settles a purchase of key by buyer. The listing is removed before
// either transfer runs, so a concurrent or nested purchase of the same key
// sees it as not listed. Any failure after that point restores the listing and
// reverses completed transfers before returning.
func (s *MarketplaceService) BuyItem(ctx context.Context, key domain.ItemKey, buyer string, payment int64) (domain.Event, error) {
	if err := validateRequest(key, buyer); err != nil {
		return domain.Event{}, err
	}

	unlock, err := s.locks.Lock(ctx, key.String())
	if err != nil {
		return domain.Event{}, err
	}
	defer unlock()

	listing, err := s.listings.Get(ctx, key)
	if err != nil {
		return domain.Event{}, fmt.Errorf("get listing: %w", err)
	}
	if !listing.Listed() {
		return domain.Event{}, domain.ErrNotListed
	}
	if payment != listing.Price {
		return domain.Event{}, fmt.Errorf("%w: got %d, want %d", domain.ErrIncorrectPayment, payment, listing.Price)
	}

	// Ownership or approval may have changed since the listing was created.
	if err := s.guard.RequireOwner(ctx, key, listing.Seller); err != nil {
		if errors.Is(err, domain.ErrNotOwner) {
			return domain.Event{}, fmt.Errorf("%w: seller no longer owns item", domain.ErrInsufficientAuthorization)
		}
		return domain.Event{}, err
	}
	if err := s.guard.RequireMarketplaceApproval(ctx, key, listing.Seller); err != nil {
		return domain.Event{}, err
	}

	taken, err := s.listings.Take(ctx, key)
	if err != nil {
		return domain.Event{}, fmt.Errorf("take listing: %w", err)
	}
	if !taken.Listed() {
		return domain.Event{}, domain.ErrNotListed
	}

	undo := s.newUndoLog(key)
	undo.push("restore listing", func(ctx context.Context) error {
		return s.listings.Put(ctx, key, taken)
	})

	if err := s.assets.Transfer(ctx, key, taken.Seller, buyer); err != nil {
		return domain.Event{}, undo.rollback(ctx, fmt.Errorf("%w: %w", domain.ErrTransferFailed, err))
	}
	undo.push("return item to seller", func(ctx context.Context) error {
		return s.assets.Transfer(ctx, key, buyer, taken.Seller)
	})

	if err := s.payments.Transfer(ctx, buyer, taken.Seller, payment); err != nil {
		return domain.Event{}, undo.rollback(ctx, fmt.Errorf("%w: %w", domain.ErrFundsTransferFailed, err))
	}
	undo.push("refund buyer", func(ctx context.Context) error {
		return s.payments.Transfer(ctx, taken.Seller, buyer, payment)
	})

	event, err := s.emit(ctx, domain.EventItemPurchased, key, taken, buyer)
	if err != nil {
		return domain.Event{}, undo.rollback(ctx, err)
	}

	s.logger.InfoContext(ctx, "item purchased",
		"key", key.String(),
		"seller", taken.Seller,
		"buyer", buyer,
		"price", payment,
		"seq", event.Seq,
	)
	return event, nil
}
