package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"auctionchain/crypto"

	"github.com/BurntSushi/toml"
)

const (
	DefaultBiddingDuration = int64(3600)
	DefaultNetworkName     = "auction-local"
)

type Config struct {
	RPCAddress        string `toml:"RPCAddress"`
	DataDir           string `toml:"DataDir"`
	OwnerKeystorePath string `toml:"OwnerKeystorePath"`
	NetworkName       string `toml:"NetworkName"`
	Environment       string `toml:"Environment"`
	// BiddingDuration is the auction window in seconds, applied on first start.
	BiddingDuration        int64 `toml:"BiddingDuration"`
	DisableReentrancyGuard bool  `toml:"DisableReentrancyGuard"`

	Genesis   Genesis   `toml:"genesis"`
	RPC       RPC       `toml:"rpc"`
	Indexer   Indexer   `toml:"indexer"`
	Telemetry Telemetry `toml:"telemetry"`
	Logging   Logging   `toml:"logging"`
}

// Load loads the configuration from the given path, writing a default file and
// an owner keystore when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./auction-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = DefaultNetworkName
	}
	if cfg.BiddingDuration == 0 {
		cfg.BiddingDuration = DefaultBiddingDuration
	}
	if cfg.RPC.RateLimitPerSecond == 0 {
		cfg.RPC.RateLimitPerSecond = 20
	}
	if cfg.RPC.RateLimitBurst == 0 {
		cfg.RPC.RateLimitBurst = 40
	}
	if cfg.RPC.ReadHeaderTimeout == 0 {
		cfg.RPC.ReadHeaderTimeout = 10
	}
	if cfg.RPC.EventHistory == 0 {
		cfg.RPC.EventHistory = 1024
	}
	if strings.TrimSpace(cfg.Indexer.Driver) == "" {
		cfg.Indexer.Driver = "sqlite"
	}
	if cfg.Indexer.Driver == "sqlite" && strings.TrimSpace(cfg.Indexer.DSN) == "" {
		cfg.Indexer.DSN = filepath.Join(cfg.DataDir, "events.db")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// JWTSecretValue resolves the bearer secret, preferring the environment
// variable named by JWTSecretEnv.
func (cfg *Config) JWTSecretValue() string {
	if env := strings.TrimSpace(cfg.RPC.JWTSecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(cfg.RPC.JWTSecret)
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); errors.Is(err, fs.ErrNotExist) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OwnerKeystorePath != keystorePath {
		cfg.OwnerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{OwnerKeystorePath: keystorePath}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "owner.keystore")
}
