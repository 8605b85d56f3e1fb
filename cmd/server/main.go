package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"paygram/internal/config"
	"paygram/internal/driftlog"
	"paygram/internal/escrowchain"
	"paygram/internal/feed"
	"paygram/internal/idempotency"
	"paygram/internal/payment"
	"paygram/internal/reconcile"
	"paygram/internal/server"
	"paygram/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	mirror, cleanup, err := buildMirror(ctx, cfg)
	if err != nil {
		log.Fatalf("mirror store error: %v", err)
	}
	defer cleanup()

	idemStore, err := buildIdempotencyStore(ctx, cfg)
	if err != nil {
		log.Fatalf("idempotency store error: %v", err)
	}

	chain, err := buildChainClient(ctx, cfg)
	if err != nil {
		log.Fatalf("escrow client error: %v", err)
	}

	journal := driftlog.New(cfg.Service.DriftLogPath)

	hub := feed.NewHub()
	go hub.Run()

	deriver := escrowchain.Deriver{
		Program:      common.HexToAddress(cfg.Escrow.ProgramAddress),
		InitCodeHash: common.HexToHash(cfg.Escrow.InitCodeHash),
	}

	payments := payment.NewService(mirror, chain, payment.Config{
		Deriver:       deriver,
		Limits:        parseLimits(cfg.Limits),
		TokenDecimals: cfg.Escrow.TokenDecimals,
		Journal:       journal,
		Events:        hub,
		Logger:        logger,
	})

	reconciler := reconcile.New(mirror, journal, logger)

	apiServer := server.NewServer(cfg, server.Deps{
		Payments:    payments,
		Reconciler:  reconciler,
		Idempotency: idemStore,
		Journal:     journal,
		Hub:         hub,
		Mirror:      mirror,
		Chain:       chain,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}

func buildMirror(ctx context.Context, cfg *config.AppConfig) (store.Store, func(), error) {
	if cfg.Database.DSN == "" {
		log.Printf("no database DSN configured, using in-memory mirror")
		return store.NewMemoryStore(), func() {}, nil
	}
	pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

// buildIdempotencyStore prefers Redis, then Postgres, then the file
// fallback for key-less dev runs.
func buildIdempotencyStore(ctx context.Context, cfg *config.AppConfig) (idempotency.Store, error) {
	if cfg.Redis.Addr != "" {
		return idempotency.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	}
	if cfg.Database.DSN != "" {
		return idempotency.NewPostgresStore(ctx, cfg.Database.DSN)
	}
	return idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
}

func buildChainClient(ctx context.Context, cfg *config.AppConfig) (escrowchain.Client, error) {
	if cfg.Chain.PrivateKey == "" {
		log.Printf("no chain private key configured, using fake escrow client")
		return escrowchain.FakeClient{}, nil
	}
	return escrowchain.NewEthClient(ctx, escrowchain.EthClientConfig{
		RPCURL:         cfg.Chain.RPCURL,
		PrivateKeyHex:  cfg.Chain.PrivateKey,
		ProgramAddress: cfg.Escrow.ProgramAddress,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout,
	})
}

// parseLimits tolerates unset bounds; a bad decimal in the config is a
// startup failure, not a silent zero.
func parseLimits(raw config.LimitsConfig) payment.Limits {
	return payment.Limits{
		MinAmount: parseAmount("limits.minAmount", raw.MinAmount),
		MaxAmount: parseAmount("limits.maxAmount", raw.MaxAmount),
		FeeBuffer: parseAmount("limits.feeBuffer", raw.FeeBuffer),
	}
}

func parseAmount(name, value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return parsed
}
