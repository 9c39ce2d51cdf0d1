package port

import (
	"context"
	"errors"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
)

// ErrUnknownItem is returned by an AssetOracle for items it has no record of.
var ErrUnknownItem = errors.New("unknown item")

// AssetOracle is the authority on item ownership and transfer approvals.
type AssetOracle interface {
	// OwnerOf returns the current owner of key
	OwnerOf(ctx context.Context, key domain.ItemKey) (string, error)

	// IsApprovedForAll reports whether operator may transfer every item of owner
	IsApprovedForAll(ctx context.Context, owner, operator string) (bool, error)

	// GetApproved returns the identity approved to transfer key, empty if none
	GetApproved(ctx context.Context, key domain.ItemKey) (string, error)

	// Transfer moves key from one owner to another
	Transfer(ctx context.Context, key domain.ItemKey, from, to string) error
}
