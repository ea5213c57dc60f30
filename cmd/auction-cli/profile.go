package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultDecimals = 18
	maxDecimals     = 36
)

// Profile carries per-user CLI defaults. Every field can be overridden by a
// global flag.
type Profile struct {
	RPCURL   string `yaml:"rpcURL"`
	Keystore string `yaml:"keystore"`
	Token    string `yaml:"token"`
	Decimals *int   `yaml:"decimals,omitempty"`
}

func defaultProfilePath() string {
	if v := strings.TrimSpace(os.Getenv("AUCTION_PROFILE")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".auction", "profile.yaml")
}

// loadProfile reads path. A missing file yields an empty profile unless
// required is set.
func loadProfile(path string, required bool) (Profile, error) {
	var p Profile
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return p, nil
		}
		return p, fmt.Errorf("read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if p.Decimals != nil && (*p.Decimals < 0 || *p.Decimals > maxDecimals) {
		return p, fmt.Errorf("profile %s: decimals must be between 0 and %d", path, maxDecimals)
	}
	p.RPCURL = strings.TrimSpace(p.RPCURL)
	p.Keystore = strings.TrimSpace(p.Keystore)
	p.Token = strings.TrimSpace(p.Token)
	return p, nil
}

func (p Profile) decimals() int32 {
	if p.Decimals == nil {
		return defaultDecimals
	}
	return int32(*p.Decimals)
}

func writeProfile(path string, p Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
