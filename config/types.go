package config

// Allocation credits an account at genesis. Amount is a base-unit integer
// string so values above 2^64 survive TOML.
type Allocation struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// Genesis seeds balances when the data directory is empty.
type Genesis struct {
	Allocations []Allocation `toml:"Allocations"`
}

// RPC configures the JSON-RPC and stream surface.
type RPC struct {
	// JWTSecret enables bearer authentication for mutating calls when set.
	JWTSecret    string `toml:"JWTSecret"`
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	JWTIssuer    string `toml:"JWTIssuer"`
	// RateLimitPerSecond and RateLimitBurst bound requests per client IP.
	RateLimitPerSecond float64  `toml:"RateLimitPerSecond"`
	RateLimitBurst     int      `toml:"RateLimitBurst"`
	AllowedOrigins     []string `toml:"AllowedOrigins"`
	ReadHeaderTimeout  int      `toml:"ReadHeaderTimeout"`
	EventHistory       int      `toml:"EventHistory"`
}

// Indexer selects the event archive backend.
type Indexer struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
	Headers  string `toml:"Headers"`
}

// Logging configures structured log output.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}
