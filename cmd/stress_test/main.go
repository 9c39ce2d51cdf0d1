package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rl1809/nft-marketplace/internal/adapter/ledger"
	"github.com/rl1809/nft-marketplace/internal/adapter/memory"
	"github.com/rl1809/nft-marketplace/internal/adapter/storage"
	"github.com/rl1809/nft-marketplace/internal/core/domain"
	"github.com/rl1809/nft-marketplace/internal/core/service"
	"github.com/rl1809/nft-marketplace/internal/port"
)

const operator = "marketplace"

type options struct {
	buyers    int
	items     int
	price     int64
	redisAddr string
}

func main() {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "stress_test",
		Short: "Race concurrent buyers against each listed item",
		Long: `Lists a batch of items and lets every buyer try to purchase every item at once.
Each item must sell exactly once; every other attempt must see it as not listed.

Example:
  stress_test --buyers 50 --items 10
  stress_test --redis localhost:6379`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.buyers, "buyers", 50, "concurrent buyers per item")
	cmd.Flags().IntVar(&opts.items, "items", 10, "items listed")
	cmd.Flags().Int64Var(&opts.price, "price", 100, "listing price")
	cmd.Flags().StringVar(&opts.redisAddr, "redis", "", "use the Redis listing store and locks at this address")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	var (
		listings port.ListingRepository = memory.NewListingStore()
		locks    port.KeyLocker         = memory.NewKeyLocker()
	)
	if opts.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		listings = storage.NewRedisListingStore(rdb)
		locks = storage.NewRedisKeyLocker(rdb, 5*time.Second, nil)
	}

	assets := ledger.NewAssetLedger()
	payments := ledger.NewPaymentLedger()
	events := memory.NewEventLog()
	svc := service.NewMarketplaceService(service.Dependencies{
		Listings: listings,
		Events:   events,
		Assets:   assets,
		Payments: payments,
		Locks:    locks,
		Operator: operator,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	// Setup: one seller lists every item, every buyer can afford all of them
	runID := time.Now().UnixNano()
	keys := make([]domain.ItemKey, opts.items)
	assets.SetApprovalForAll("seller", operator, true)
	for i := range keys {
		keys[i] = domain.ItemKey{Collection: fmt.Sprintf("stress-%d", runID), TokenID: fmt.Sprint(i)}
		if err := assets.Mint(keys[i], "seller"); err != nil {
			return err
		}
		if _, err := svc.CreateListing(ctx, keys[i], opts.price, "seller"); err != nil {
			return fmt.Errorf("list %s: %w", keys[i], err)
		}
	}
	for b := 0; b < opts.buyers; b++ {
		if err := payments.Deposit(fmt.Sprintf("buyer-%d", b), opts.price*int64(opts.items)); err != nil {
			return err
		}
	}

	var successCount, notListedCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, key := range keys {
		for b := 0; b < opts.buyers; b++ {
			wg.Add(1)
			go func(key domain.ItemKey, buyer string) {
				defer wg.Done()

				_, err := svc.BuyItem(ctx, key, buyer, opts.price)
				switch {
				case err == nil:
					successCount.Add(1)
				case errors.Is(err, domain.ErrNotListed):
					notListedCount.Add(1)
				default:
					otherCount.Add(1)
				}
			}(key, fmt.Sprintf("buyer-%d", b))
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	total := opts.items * opts.buyers
	success := int(successCount.Load())
	notListed := int(notListedCount.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Items Listed:     %d\n", opts.items)
	fmt.Printf("Total Attempts:   %d\n", total)
	fmt.Printf("Purchased:        %d\n", success)
	fmt.Printf("Not Listed:       %d\n", notListed)
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Seller Balance:   %d\n", payments.Balance("seller"))
	fmt.Println("==========================================")

	// Assertions
	if success != opts.items || notListed != total-opts.items {
		return fmt.Errorf("FAIL: expected %d purchases and %d not-listed, got %d/%d",
			opts.items, total-opts.items, success, notListed)
	}
	if want := opts.price * int64(opts.items); payments.Balance("seller") != want {
		return fmt.Errorf("FAIL: expected seller balance %d, got %d", want, payments.Balance("seller"))
	}
	replayed := domain.Replay(mustEvents(ctx, events))
	if len(replayed) != 0 {
		return fmt.Errorf("FAIL: replayed log still shows %d listings", len(replayed))
	}

	fmt.Println("PASS: every item sold exactly once")
	return nil
}

func mustEvents(ctx context.Context, log *memory.EventLog) []domain.Event {
	events, _ := log.Since(ctx, 0, 0)
	return events
}
