package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"auctionchain/cmd/internal/passphrase"
	"auctionchain/config"
	"auctionchain/core"
	"auctionchain/core/events"
	"auctionchain/crypto"
	"auctionchain/indexer"
	"auctionchain/observability/logging"
	auctionotel "auctionchain/observability/otel"
	"auctionchain/rpc"
	"auctionchain/storage"
)

const (
	serviceName       = "auctiond"
	ownerPassEnv      = "AUCTION_OWNER_PASS"
	environmentEnv    = "AUCTION_ENV"
	stateDirName      = "state"
	telemetryShutdown = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) > 0 && args[0] == "export" {
		return runExport(ctx, args[1:], stdout)
	}
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return serve(ctx, *configFile)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	env := strings.TrimSpace(os.Getenv(environmentEnv))
	if env == "" {
		env = cfg.Environment
	}
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    serviceName,
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := auctionotel.Init(ctx, telemetryConfig(cfg, env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdown)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	pass, err := passphrase.NewSource(ownerPassEnv, "owner keystore").AllowEmpty().Get()
	if err != nil {
		return err
	}
	ownerKey, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, pass)
	if err != nil {
		return fmt.Errorf("load owner key: %w", err)
	}
	owner := ownerKey.PubKey().Address()
	logger.Info("owner key loaded",
		slog.String("owner", owner.String()),
		slog.String("keystore", cfg.OwnerKeystorePath))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}

	store, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	bus, err := newEventBus(ctx, cfg, store)
	if err != nil {
		return err
	}

	allocations, err := buildAllocations(cfg)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, stateDirName))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	node, err := core.NewNode(ctx, db, core.Options{
		Owner:                  owner.Array(),
		BiddingDuration:        cfg.BiddingDuration,
		Allocations:            allocations,
		DisableReentrancyGuard: cfg.DisableReentrancyGuard,
		Bus:                    bus,
		Logger:                 logger,
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("start node: %w", err)
	}
	defer node.Close()

	info, err := node.Auction()
	if err != nil {
		return err
	}
	logger.Info("auction deployed",
		slog.String("network", cfg.NetworkName),
		slog.String("address", crypto.FormatAddress(info.Address)),
		slog.Int64("endTime", info.EndTime))

	server := rpc.NewServer(node, bus, store, rpc.ServerConfig{
		JWTSecret:          cfg.JWTSecretValue(),
		JWTIssuer:          cfg.RPC.JWTIssuer,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		AllowedOrigins:     cfg.RPC.AllowedOrigins,
		ReadHeaderTimeout:  time.Duration(cfg.RPC.ReadHeaderTimeout) * time.Second,
		Logger:             logger,
	})
	if err := server.Serve(ctx, cfg.RPCAddress); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newEventBus resumes sequence numbering after the last archived event and
// attaches the archive as a sink.
func newEventBus(ctx context.Context, cfg *config.Config, store *indexer.Store) (*events.Bus, error) {
	bus := events.NewBus(cfg.RPC.EventHistory)
	last, err := store.LastSequence(ctx)
	if err != nil {
		return nil, err
	}
	bus.SetSequence(last)
	bus.AddSink(store)
	return bus, nil
}

func buildAllocations(cfg *config.Config) ([]core.Allocation, error) {
	parsed, err := cfg.Genesis.ParseAllocations()
	if err != nil {
		return nil, err
	}
	out := make([]core.Allocation, 0, len(parsed))
	for _, alloc := range parsed {
		out = append(out, core.Allocation{Address: alloc.Address, Amount: alloc.Amount})
	}
	return out, nil
}

func telemetryConfig(cfg *config.Config, env string) auctionotel.Config {
	return auctionotel.Config{
		ServiceName: serviceName,
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     auctionotel.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	}
}

func runExport(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	out := fs.String("out", "", "Destination parquet file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*out) == "" {
		return errors.New("export: --out is required")
	}
	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	store, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	n, err := store.ExportParquet(ctx, *out)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported %d events to %s\n", n, *out)
	return nil
}
