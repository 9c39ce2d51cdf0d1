package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/rl1809/nft-marketplace/internal/adapter/handler"
	"github.com/rl1809/nft-marketplace/internal/adapter/ledger"
	"github.com/rl1809/nft-marketplace/internal/adapter/memory"
	"github.com/rl1809/nft-marketplace/internal/adapter/storage"
	"github.com/rl1809/nft-marketplace/internal/config"
	"github.com/rl1809/nft-marketplace/internal/core/domain"
	"github.com/rl1809/nft-marketplace/internal/core/service"
	"github.com/rl1809/nft-marketplace/internal/port"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Serve the listing marketplace over HTTP and gRPC",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			serve(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "configs/default.yaml", "path to YAML config")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			fatal(logger, "failed to connect redis", err)
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	// Initialize MySQL
	var db *sql.DB
	if cfg.EventLog == config.BackendMySQL {
		db, err = sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			fatal(logger, "failed to open mysql", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			fatal(logger, "failed to ping mysql", err)
		}
		logger.Info("connected to mysql")
	}

	// Initialize adapters
	var (
		listings port.ListingRepository = memory.NewListingStore()
		locks    port.KeyLocker         = memory.NewKeyLocker()
		events   port.EventLog          = memory.NewEventLog()
	)
	if cfg.ListingStore == config.BackendRedis {
		listings = storage.NewRedisListingStore(rdb)
		locks = storage.NewRedisKeyLocker(rdb, cfg.LockTTL, logger)
	}
	if cfg.EventLog == config.BackendMySQL {
		mysqlLog := storage.NewMySQLEventLog(db)
		if err := mysqlLog.EnsureSchema(ctx); err != nil {
			fatal(logger, "failed to migrate event log", err)
		}
		events = mysqlLog
	}

	assets := ledger.NewAssetLedger()
	payments := ledger.NewPaymentLedger()
	if err := seedLedgers(cfg.Seed, cfg.Operator, assets, payments); err != nil {
		fatal(logger, "failed to seed ledgers", err)
	}
	logger.Info("seeded ledgers", "items", len(cfg.Seed.Items), "accounts", len(cfg.Seed.Balances))

	// Initialize service
	marketplace := service.NewMarketplaceService(service.Dependencies{
		Listings: listings,
		Events:   events,
		Assets:   assets,
		Payments: payments,
		Locks:    locks,
		Operator: cfg.Operator,
		Logger:   logger,
	})

	// Start event relay
	var wg sync.WaitGroup
	if cfg.Relay.Enabled {
		relay := service.NewEventRelay(
			events,
			storage.NewRedisStreamPublisher(rdb, cfg.Relay.Stream, cfg.Relay.MaxLen),
			cfg.Relay.Interval,
			cfg.Relay.BatchSize,
			cfg.Relay.GapGrace,
			logger,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
		logger.Info("started event relay", "stream", cfg.Relay.Stream)
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(timeoutInterceptor(cfg.OperationTimeout)))
	handler.RegisterListingService(grpcServer, handler.NewGRPCHandler(marketplace))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		fatal(logger, "failed to listen", err)
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// Initialize HTTP server
	router := chi.NewRouter()
	if cfg.OperationTimeout > 0 {
		router.Use(middleware.Timeout(cfg.OperationTimeout))
	}
	router.Mount("/", handler.NewRouter(handler.NewHTTPHandler(marketplace)))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Stop relay
	cancel()
	wg.Wait()
	logger.Info("relay stopped")

	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	logger.Info("connections closed")
}

func seedLedgers(seed config.SeedConfig, operator string, assets *ledger.AssetLedger, payments *ledger.PaymentLedger) error {
	for account, amount := range seed.Balances {
		if err := payments.Deposit(account, amount); err != nil {
			return err
		}
	}
	for _, item := range seed.Items {
		key := domain.ItemKey{Collection: item.Collection, TokenID: item.TokenID}
		if err := assets.Mint(key, item.Owner); err != nil {
			return err
		}
		if item.Approve {
			if err := assets.Approve(key, item.Owner, operator); err != nil {
				return err
			}
		}
	}
	return nil
}

func timeoutInterceptor(d time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if d <= 0 {
			return next(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx, req)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
