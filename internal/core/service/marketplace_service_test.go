package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/nft-marketplace/internal/adapter/ledger"
	"github.com/rl1809/nft-marketplace/internal/adapter/memory"
	"github.com/rl1809/nft-marketplace/internal/core/domain"
)

const operator = "marketplace"

var (
	errAssetsDown   = errors.New("asset oracle unavailable")
	errPaymentsDown = errors.New("payment rail unavailable")
	errLogDown      = errors.New("event log unavailable")
)

// Mock AssetOracle that can fail transfers out of one identity
type flakyAssets struct {
	*ledger.AssetLedger
	failFrom string
}

func (f *flakyAssets) Transfer(ctx context.Context, key domain.ItemKey, from, to string) error {
	if f.failFrom != "" && from == f.failFrom {
		return errAssetsDown
	}
	return f.AssetLedger.Transfer(ctx, key, from, to)
}

// Mock PaymentRail that can fail every transfer
type flakyPayments struct {
	*ledger.PaymentLedger
	fail bool
}

func (f *flakyPayments) Transfer(ctx context.Context, from, to string, amount int64) error {
	if f.fail {
		return errPaymentsDown
	}
	return f.PaymentLedger.Transfer(ctx, from, to, amount)
}

// Mock EventLog that rejects selected event kinds
type flakyEvents struct {
	*memory.EventLog
	failKind domain.EventKind
}

func (f *flakyEvents) Append(ctx context.Context, event domain.Event) (domain.Event, error) {
	if f.failKind != "" && event.Kind == f.failKind {
		return domain.Event{}, errLogDown
	}
	return f.EventLog.Append(ctx, event)
}

type fixture struct {
	svc      *MarketplaceService
	listings *memory.ListingStore
	events   *flakyEvents
	assets   *flakyAssets
	payments *flakyPayments
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		listings: memory.NewListingStore(),
		events:   &flakyEvents{EventLog: memory.NewEventLog()},
		assets:   &flakyAssets{AssetLedger: ledger.NewAssetLedger()},
		payments: &flakyPayments{PaymentLedger: ledger.NewPaymentLedger()},
	}
	f.svc = NewMarketplaceService(Dependencies{
		Listings: f.listings,
		Events:   f.events,
		Assets:   f.assets,
		Payments: f.payments,
		Locks:    memory.NewKeyLocker(),
		Operator: operator,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *fixture) mintApproved(t *testing.T, key domain.ItemKey, owner string) {
	t.Helper()
	require.NoError(t, f.assets.Mint(key, owner))
	require.NoError(t, f.assets.Approve(key, owner, operator))
}

func (f *fixture) allEvents(t *testing.T) []domain.Event {
	t.Helper()
	events, err := f.events.Since(context.Background(), 0, 0)
	require.NoError(t, err)
	return events
}

func (f *fixture) assertListing(t *testing.T, key domain.ItemKey, want domain.Listing) {
	t.Helper()
	got, err := f.listings.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

var itemK = domain.ItemKey{Collection: "punks", TokenID: "7"}

func TestCreateListing_Success(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "alice")

	event, err := f.svc.CreateListing(context.Background(), itemK, 100, "alice")
	require.NoError(t, err)

	assert.Equal(t, domain.EventListingCreated, event.Kind)
	assert.Equal(t, uint64(1), event.Seq)
	assert.Equal(t, itemK, event.Key)
	assert.Equal(t, int64(100), event.Price)
	assert.Equal(t, "alice", event.Seller)
	assert.NotEmpty(t, event.ID)
	f.assertListing(t, itemK, domain.Listing{Price: 100, Seller: "alice"})
}

func TestCreateListing_BlanketApproval(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.assets.Mint(itemK, "alice"))
	f.assets.SetApprovalForAll("alice", operator, true)

	_, err := f.svc.CreateListing(context.Background(), itemK, 10, "alice")
	require.NoError(t, err)
}

func TestCreateListing_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture)
		price   int64
		caller  string
		wantErr error
	}{
		{
			name: "already listed",
			setup: func(t *testing.T, f *fixture) {
				f.mintApproved(t, itemK, "alice")
				_, err := f.svc.CreateListing(context.Background(), itemK, 5, "alice")
				require.NoError(t, err)
			},
			price:   10,
			caller:  "alice",
			wantErr: domain.ErrAlreadyListed,
		},
		{
			name:    "zero price",
			setup:   func(t *testing.T, f *fixture) { f.mintApproved(t, itemK, "alice") },
			price:   0,
			caller:  "alice",
			wantErr: domain.ErrInvalidPrice,
		},
		{
			name:    "negative price",
			setup:   func(t *testing.T, f *fixture) { f.mintApproved(t, itemK, "alice") },
			price:   -1,
			caller:  "alice",
			wantErr: domain.ErrInvalidPrice,
		},
		{
			name:    "caller does not own item",
			setup:   func(t *testing.T, f *fixture) { f.mintApproved(t, itemK, "alice") },
			price:   10,
			caller:  "mallory",
			wantErr: domain.ErrNotOwner,
		},
		{
			name:    "unknown item",
			setup:   func(t *testing.T, f *fixture) {},
			price:   10,
			caller:  "alice",
			wantErr: domain.ErrNotOwner,
		},
		{
			name: "marketplace not approved",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.assets.Mint(itemK, "alice"))
			},
			price:   10,
			caller:  "alice",
			wantErr: domain.ErrInsufficientAuthorization,
		},
		{
			name: "approved for someone else",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.assets.Mint(itemK, "alice"))
				require.NoError(t, f.assets.Approve(itemK, "alice", "other-market"))
			},
			price:   10,
			caller:  "alice",
			wantErr: domain.ErrInsufficientAuthorization,
		},
		{
			name:    "empty caller",
			setup:   func(t *testing.T, f *fixture) {},
			price:   10,
			caller:  " ",
			wantErr: domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)
			before := f.events.Len()

			_, err := f.svc.CreateListing(context.Background(), itemK, tt.price, tt.caller)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, f.events.Len(), "failed create must not emit")
		})
	}
}

func TestCreateListing_EventLogFailureRemovesListing(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "alice")
	f.events.failKind = domain.EventListingCreated

	_, err := f.svc.CreateListing(context.Background(), itemK, 100, "alice")
	require.ErrorIs(t, err, errLogDown)
	f.assertListing(t, itemK, domain.Listing{})
}

func TestRelistAfterCancel(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "alice")
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 100, "alice")
	require.NoError(t, err)
	_, err = f.svc.CancelListing(ctx, itemK, "alice")
	require.NoError(t, err)
	_, err = f.svc.CreateListing(ctx, itemK, 250, "alice")
	require.NoError(t, err)

	listing, err := f.svc.GetListing(ctx, itemK)
	require.NoError(t, err)
	assert.Equal(t, int64(250), listing.Price)

	kinds := []domain.EventKind{}
	for _, e := range f.allEvents(t) {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []domain.EventKind{domain.EventListingCreated, domain.EventListingCancelled, domain.EventListingCreated}, kinds)
}

func TestUpdateListing(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "alice")
	ctx := context.Background()

	_, err := f.svc.UpdateListing(ctx, itemK, 10, "alice")
	require.ErrorIs(t, err, domain.ErrNotListed)

	_, err = f.svc.CreateListing(ctx, itemK, 50, "alice")
	require.NoError(t, err)

	_, err = f.svc.UpdateListing(ctx, itemK, 75, "mallory")
	require.ErrorIs(t, err, domain.ErrNotOwner)
	f.assertListing(t, itemK, domain.Listing{Price: 50, Seller: "alice"})

	_, err = f.svc.UpdateListing(ctx, itemK, 0, "alice")
	require.ErrorIs(t, err, domain.ErrInvalidPrice)
	f.assertListing(t, itemK, domain.Listing{Price: 50, Seller: "alice"})

	event, err := f.svc.UpdateListing(ctx, itemK, 75, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.EventListingUpdated, event.Kind)
	assert.Equal(t, int64(75), event.Price)
	assert.Equal(t, "alice", event.Seller)
	f.assertListing(t, itemK, domain.Listing{Price: 75, Seller: "alice"})
}

func TestUpdateListing_SamePriceStillEmits(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "alice")
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 50, "alice")
	require.NoError(t, err)
	_, err = f.svc.UpdateListing(ctx, itemK, 50, "alice")
	require.NoError(t, err)

	assert.Equal(t, 2, f.events.Len())
}

func TestUpdateListing_EventLogFailureRestoresPrice(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "alice")
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 50, "alice")
	require.NoError(t, err)

	f.events.failKind = domain.EventListingUpdated
	_, err = f.svc.UpdateListing(ctx, itemK, 75, "alice")
	require.ErrorIs(t, err, errLogDown)
	f.assertListing(t, itemK, domain.Listing{Price: 50, Seller: "alice"})
}

func TestCancelListing(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "alice")
	ctx := context.Background()

	_, err := f.svc.CancelListing(ctx, itemK, "alice")
	require.ErrorIs(t, err, domain.ErrNotListed)

	_, err = f.svc.CreateListing(ctx, itemK, 50, "alice")
	require.NoError(t, err)

	_, err = f.svc.CancelListing(ctx, itemK, "bob")
	require.ErrorIs(t, err, domain.ErrNotOwner)
	f.assertListing(t, itemK, domain.Listing{Price: 50, Seller: "alice"})

	event, err := f.svc.CancelListing(ctx, itemK, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.EventListingCancelled, event.Kind)
	assert.Equal(t, "alice", event.Seller)

	_, err = f.svc.GetListing(ctx, itemK)
	require.ErrorIs(t, err, domain.ErrNotListed)
}

func TestBuyItem_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "seller")
	require.NoError(t, f.payments.Deposit("buyer", 500))
	ctx := context.Background()

	created, err := f.svc.CreateListing(ctx, itemK, 100, "seller")
	require.NoError(t, err)
	assert.Equal(t, domain.EventListingCreated, created.Kind)

	purchased, err := f.svc.BuyItem(ctx, itemK, "buyer", 100)
	require.NoError(t, err)

	owner, err := f.assets.OwnerOf(ctx, itemK)
	require.NoError(t, err)
	assert.Equal(t, "buyer", owner)
	assert.Equal(t, int64(100), f.payments.Balance("seller"))
	assert.Equal(t, int64(400), f.payments.Balance("buyer"))
	f.assertListing(t, itemK, domain.Listing{})

	assert.Equal(t, domain.EventItemPurchased, purchased.Kind)
	assert.Equal(t, itemK, purchased.Key)
	assert.Equal(t, "seller", purchased.Seller)
	assert.Equal(t, "buyer", purchased.Buyer)
	assert.Equal(t, uint64(2), purchased.Seq)

	_, err = f.svc.BuyItem(ctx, itemK, "buyer", 100)
	require.ErrorIs(t, err, domain.ErrNotListed)
}

func TestBuyItem_IncorrectPayment(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "seller")
	require.NoError(t, f.payments.Deposit("buyer", 500))
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 100, "seller")
	require.NoError(t, err)

	for _, payment := range []int64{99, 101, 0} {
		_, err := f.svc.BuyItem(ctx, itemK, "buyer", payment)
		require.ErrorIs(t, err, domain.ErrIncorrectPayment, "payment %d", payment)
	}
	f.assertListing(t, itemK, domain.Listing{Price: 100, Seller: "seller"})
	assert.Equal(t, int64(500), f.payments.Balance("buyer"))
}

func TestBuyItem_AfterPriceUpdate(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "seller")
	require.NoError(t, f.payments.Deposit("buyer", 500))
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 50, "seller")
	require.NoError(t, err)
	_, err = f.svc.UpdateListing(ctx, itemK, 75, "seller")
	require.NoError(t, err)

	_, err = f.svc.BuyItem(ctx, itemK, "buyer", 50)
	require.ErrorIs(t, err, domain.ErrIncorrectPayment)

	_, err = f.svc.BuyItem(ctx, itemK, "buyer", 75)
	require.NoError(t, err)
	assert.Equal(t, int64(75), f.payments.Balance("seller"))
}

func TestBuyItem_ItemTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "seller")
	require.NoError(t, f.payments.Deposit("buyer", 100))
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 100, "seller")
	require.NoError(t, err)
	before := f.events.Len()

	f.assets.failFrom = "seller"
	_, err = f.svc.BuyItem(ctx, itemK, "buyer", 100)
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	require.ErrorIs(t, err, errAssetsDown)

	f.assertListing(t, itemK, domain.Listing{Price: 100, Seller: "seller"})
	assert.Equal(t, before, f.events.Len())
	assert.Equal(t, int64(100), f.payments.Balance("buyer"))
	owner, _ := f.assets.OwnerOf(ctx, itemK)
	assert.Equal(t, "seller", owner)
}

func TestBuyItem_FundsTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "seller")
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 100, "seller")
	require.NoError(t, err)
	before := f.events.Len()

	// buyer never funded
	_, err = f.svc.BuyItem(ctx, itemK, "buyer", 100)
	require.ErrorIs(t, err, domain.ErrFundsTransferFailed)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	f.assertListing(t, itemK, domain.Listing{Price: 100, Seller: "seller"})
	assert.Equal(t, before, f.events.Len())
	owner, _ := f.assets.OwnerOf(ctx, itemK)
	assert.Equal(t, "seller", owner)

	// approval is effective again once the item is back with the seller
	approved, err := f.assets.GetApproved(ctx, itemK)
	require.NoError(t, err)
	assert.Equal(t, operator, approved)

	require.NoError(t, f.payments.Deposit("buyer", 100))
	_, err = f.svc.BuyItem(ctx, itemK, "buyer", 100)
	require.NoError(t, err)
}

func TestBuyItem_EventLogFailureRollsBackBothTransfers(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "seller")
	require.NoError(t, f.payments.Deposit("buyer", 100))
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 100, "seller")
	require.NoError(t, err)

	f.events.failKind = domain.EventItemPurchased
	_, err = f.svc.BuyItem(ctx, itemK, "buyer", 100)
	require.ErrorIs(t, err, errLogDown)

	f.assertListing(t, itemK, domain.Listing{Price: 100, Seller: "seller"})
	assert.Equal(t, int64(100), f.payments.Balance("buyer"))
	assert.Equal(t, int64(0), f.payments.Balance("seller"))
	owner, _ := f.assets.OwnerOf(ctx, itemK)
	assert.Equal(t, "seller", owner)
}

func TestBuyItem_RollbackFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "seller")
	require.NoError(t, f.payments.Deposit("buyer", 100))
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 100, "seller")
	require.NoError(t, err)

	f.payments.fail = true
	f.assets.failFrom = "buyer"
	_, err = f.svc.BuyItem(ctx, itemK, "buyer", 100)
	require.ErrorIs(t, err, domain.ErrFundsTransferFailed)
	require.ErrorIs(t, err, errAssetsDown)
	assert.Contains(t, err.Error(), "rollback incomplete")

	// remaining compensations still ran
	f.assertListing(t, itemK, domain.Listing{Price: 100, Seller: "seller"})
}

func TestBuyItem_ApprovalRevokedAfterListing(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "seller")
	require.NoError(t, f.payments.Deposit("buyer", 100))
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 100, "seller")
	require.NoError(t, err)
	require.NoError(t, f.assets.Approve(itemK, "seller", ""))

	_, err = f.svc.BuyItem(ctx, itemK, "buyer", 100)
	require.ErrorIs(t, err, domain.ErrInsufficientAuthorization)
	f.assertListing(t, itemK, domain.Listing{Price: 100, Seller: "seller"})
	assert.Equal(t, int64(100), f.payments.Balance("buyer"))
}

func TestBuyItem_SellerMovedItemAfterListing(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "seller")
	require.NoError(t, f.payments.Deposit("buyer", 100))
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 100, "seller")
	require.NoError(t, err)
	require.NoError(t, f.assets.AssetLedger.Transfer(ctx, itemK, "seller", "cold-wallet"))

	_, err = f.svc.BuyItem(ctx, itemK, "buyer", 100)
	require.ErrorIs(t, err, domain.ErrInsufficientAuthorization)
	f.assertListing(t, itemK, domain.Listing{Price: 100, Seller: "seller"})
}

func TestBuyItem_Concurrent(t *testing.T) {
	f := newFixture(t)
	f.mintApproved(t, itemK, "seller")
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, itemK, 100, "seller")
	require.NoError(t, err)

	totalBuyers := 50
	buyers := make([]string, totalBuyers)
	for i := range buyers {
		buyers[i] = "buyer-" + string(rune('A'+i))
		require.NoError(t, f.payments.Deposit(buyers[i], 100))
	}

	var successCount, notListedCount atomic.Int32
	var wg sync.WaitGroup
	for _, buyer := range buyers {
		wg.Add(1)
		go func(buyer string) {
			defer wg.Done()
			_, err := f.svc.BuyItem(ctx, itemK, buyer, 100)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrNotListed):
				notListedCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(buyer)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount.Load())
	assert.Equal(t, int32(totalBuyers-1), notListedCount.Load())
	assert.Equal(t, int64(100), f.payments.Balance("seller"))
	assert.Equal(t, 2, f.events.Len())
}

func TestConcurrentDistinctKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keys := make([]domain.ItemKey, 20)
	for i := range keys {
		keys[i] = domain.ItemKey{Collection: "punks", TokenID: string(rune('a' + i))}
		f.mintApproved(t, keys[i], "seller")
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key domain.ItemKey) {
			defer wg.Done()
			_, err := f.svc.CreateListing(ctx, key, 10, "seller")
			assert.NoError(t, err)
		}(key)
	}
	wg.Wait()

	events := f.allEvents(t)
	require.Len(t, events, len(keys))
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestReplayMatchesRegistry(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.payments.Deposit("buyer", 1000))
	ctx := context.Background()

	a := domain.ItemKey{Collection: "c", TokenID: "1"}
	b := domain.ItemKey{Collection: "c", TokenID: "2"}
	c := domain.ItemKey{Collection: "d", TokenID: "1"}
	for _, k := range []domain.ItemKey{a, b, c} {
		f.mintApproved(t, k, "seller")
		_, err := f.svc.CreateListing(ctx, k, 10, "seller")
		require.NoError(t, err)
	}
	_, err := f.svc.UpdateListing(ctx, a, 20, "seller")
	require.NoError(t, err)
	_, err = f.svc.CancelListing(ctx, b, "seller")
	require.NoError(t, err)
	_, err = f.svc.BuyItem(ctx, c, "buyer", 10)
	require.NoError(t, err)
	_, err = f.svc.BuyItem(ctx, a, "buyer", 19)
	require.ErrorIs(t, err, domain.ErrIncorrectPayment)

	replayed := domain.Replay(f.allEvents(t))
	assert.Equal(t, f.listings.Snapshot(), replayed)
	for _, l := range replayed {
		assert.True(t, l.Listed())
	}
}

func TestEvents_Paging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		k := domain.ItemKey{Collection: "c", TokenID: string(rune('0' + i))}
		f.mintApproved(t, k, "seller")
		_, err := f.svc.CreateListing(ctx, k, 1, "seller")
		require.NoError(t, err)
	}

	page, err := f.svc.Events(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(3), page[0].Seq)
	assert.Equal(t, uint64(4), page[1].Seq)
}

func TestEvents_PageSizeBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 1200; i++ {
		_, err := f.events.EventLog.Append(ctx, domain.Event{Kind: domain.EventListingCreated})
		require.NoError(t, err)
	}

	tests := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: 100},
		{limit: -3, want: 100},
		{limit: 250, want: 250},
		{limit: 1000, want: 1000},
		{limit: 5000, want: 1000},
	}
	for _, tt := range tests {
		page, err := f.svc.Events(ctx, 0, tt.limit)
		require.NoError(t, err)
		assert.Len(t, page, tt.want, "limit %d", tt.limit)
	}
}
