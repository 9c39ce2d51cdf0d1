package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
	"github.com/rl1809/nft-marketplace/internal/port"
)

var ErrNotItemOwner = errors.New("from is not the item owner")

// approval is only effective while grantedBy still owns the item, so a
// transfer clears it and a transfer back restores it.
type approval struct {
	grantedBy string
	operator  string
}

// AssetLedger is an in-process ownership registry implementing port.AssetOracle.
type AssetLedger struct {
	mu        sync.RWMutex
	owners    map[domain.ItemKey]string
	approvals map[domain.ItemKey]approval
	operators map[string]map[string]bool
}

func NewAssetLedger() *AssetLedger {
	return &AssetLedger{
		owners:    make(map[domain.ItemKey]string),
		approvals: make(map[domain.ItemKey]approval),
		operators: make(map[string]map[string]bool),
	}
}

func (l *AssetLedger) Mint(key domain.ItemKey, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.owners[key]; ok {
		return fmt.Errorf("item %s already minted", key)
	}
	l.owners[key] = owner
	return nil
}

func (l *AssetLedger) Approve(key domain.ItemKey, owner, operator string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.owners[key]
	if !ok {
		return port.ErrUnknownItem
	}
	if current != owner {
		return ErrNotItemOwner
	}
	if operator == "" {
		delete(l.approvals, key)
		return nil
	}
	l.approvals[key] = approval{grantedBy: owner, operator: operator}
	return nil
}

func (l *AssetLedger) SetApprovalForAll(owner, operator string, approved bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ops, ok := l.operators[owner]
	if !ok {
		ops = make(map[string]bool)
		l.operators[owner] = ops
	}
	if approved {
		ops[operator] = true
	} else {
		delete(ops, operator)
	}
}

func (l *AssetLedger) OwnerOf(ctx context.Context, key domain.ItemKey) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	owner, ok := l.owners[key]
	if !ok {
		return "", port.ErrUnknownItem
	}
	return owner, nil
}

func (l *AssetLedger) IsApprovedForAll(ctx context.Context, owner, operator string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.operators[owner][operator], nil
}

func (l *AssetLedger) GetApproved(ctx context.Context, key domain.ItemKey) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	owner, ok := l.owners[key]
	if !ok {
		return "", port.ErrUnknownItem
	}
	a, ok := l.approvals[key]
	if !ok || a.grantedBy != owner {
		return "", nil
	}
	return a.operator, nil
}

func (l *AssetLedger) Transfer(ctx context.Context, key domain.ItemKey, from, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, ok := l.owners[key]
	if !ok {
		return port.ErrUnknownItem
	}
	if owner != from {
		return ErrNotItemOwner
	}
	if to == "" {
		return errors.New("transfer to empty identity")
	}
	l.owners[key] = to
	return nil
}
