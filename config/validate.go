package config

import (
	"fmt"
	"strings"
)

// Validate reports the first configuration value that cannot be used.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if cfg.BiddingDuration <= 0 {
		return fmt.Errorf("BiddingDuration must be positive")
	}
	if strings.TrimSpace(cfg.OwnerKeystorePath) == "" {
		return fmt.Errorf("OwnerKeystorePath required")
	}
	if cfg.RPC.RateLimitPerSecond < 0 || cfg.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if cfg.RPC.EventHistory < 0 {
		return fmt.Errorf("rpc: EventHistory must not be negative")
	}
	switch cfg.Indexer.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("indexer: unsupported driver %q", cfg.Indexer.Driver)
	}
	if cfg.Indexer.Driver == "postgres" && strings.TrimSpace(cfg.Indexer.DSN) == "" {
		return fmt.Errorf("indexer: DSN required for postgres")
	}
	if _, err := cfg.Genesis.ParseAllocations(); err != nil {
		return err
	}
	return nil
}
