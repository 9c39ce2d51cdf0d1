package handler

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rl1809/nft-marketplace/internal/adapter/ledger"
	"github.com/rl1809/nft-marketplace/internal/adapter/memory"
	"github.com/rl1809/nft-marketplace/internal/core/domain"
	"github.com/rl1809/nft-marketplace/internal/core/service"
)

type testMarketplace struct {
	svc      *service.MarketplaceService
	assets   *ledger.AssetLedger
	payments *ledger.PaymentLedger
}

var itemKey = domain.ItemKey{Collection: "punks", TokenID: "7"}

func newTestMarketplace(t *testing.T) *testMarketplace {
	t.Helper()

	m := &testMarketplace{
		assets:   ledger.NewAssetLedger(),
		payments: ledger.NewPaymentLedger(),
	}
	m.svc = service.NewMarketplaceService(service.Dependencies{
		Listings: memory.NewListingStore(),
		Events:   memory.NewEventLog(),
		Assets:   m.assets,
		Payments: m.payments,
		Locks:    memory.NewKeyLocker(),
		Operator: "marketplace",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	require.NoError(t, m.assets.Mint(itemKey, "seller"))
	m.assets.SetApprovalForAll("seller", "marketplace", true)
	require.NoError(t, m.payments.Deposit("buyer", 1000))
	return m
}
