package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
	"github.com/rl1809/nft-marketplace/internal/port"
)

// Guard checks callers against the asset oracle. It never mutates state.
type Guard struct {
	assets   port.AssetOracle
	operator string
}

func NewGuard(assets port.AssetOracle, operator string) *Guard {
	return &Guard{assets: assets, operator: operator}
}

// RequireOwner fails with ErrNotOwner unless caller currently owns key.
func (g *Guard) RequireOwner(ctx context.Context, key domain.ItemKey, caller string) error {
	owner, err := g.assets.OwnerOf(ctx, key)
	if errors.Is(err, port.ErrUnknownItem) {
		return domain.ErrNotOwner
	}
	if err != nil {
		return fmt.Errorf("owner lookup: %w", err)
	}
	if owner != caller {
		return domain.ErrNotOwner
	}
	return nil
}

// RequireMarketplaceApproval fails with ErrInsufficientAuthorization unless
// owner granted the marketplace operator either a blanket or a per-item approval.
func (g *Guard) RequireMarketplaceApproval(ctx context.Context, key domain.ItemKey, owner string) error {
	all, err := g.assets.IsApprovedForAll(ctx, owner, g.operator)
	if err != nil {
		return fmt.Errorf("operator approval lookup: %w", err)
	}
	if all {
		return nil
	}

	approved, err := g.assets.GetApproved(ctx, key)
	if err != nil && !errors.Is(err, port.ErrUnknownItem) {
		return fmt.Errorf("item approval lookup: %w", err)
	}
	if approved != "" && approved == g.operator {
		return nil
	}
	return domain.ErrInsufficientAuthorization
}
