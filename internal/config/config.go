// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the analysis daemon configuration.
type Config struct {
	ListenAddr         string
	DatabasePath       string // Path to SQLite database file
	CORSAllowedOrigins string // Comma-separated list of allowed origins, or "*" for all (default: "*")

	// Block explorer
	ExplorerAPIKey string

	// Conversational analysis API
	ChatAPIURL string
	ChatAPIKey string

	// Decompiler backends
	DecompilerURL          string
	DecompilerAPIKey       string
	DecompilerPollInterval time.Duration
	DecompilerMaxAttempts  int
	OneShotDecompilerURL   string

	// Cache tuning
	ContractCacheTTL time.Duration
	SessionCacheTTL  time.Duration
	EvictionInterval time.Duration
}

// Defaults
const (
	DefaultListenAddr             = ":3001"
	DefaultDatabasePath           = "./data/whisperd.db"
	DefaultCORSAllowedOrigins     = "*" // Extension pages connect from extension-scheme origins
	DefaultChatAPIURL             = "https://nebula-api.thirdweb.com"
	DefaultDecompilerURL          = "https://api.dedaub.com/api/on_demand"
	DefaultOneShotDecompilerURL   = "http://localhost:8000"
	DefaultDecompilerPollInterval = 5 * time.Second
	DefaultDecompilerMaxAttempts  = 36
	DefaultContractCacheTTL       = time.Hour
	DefaultSessionCacheTTL        = 24 * time.Hour
	DefaultEvictionInterval       = 5 * time.Minute
)

// Load reads configuration from environment variables and command-line flags.
// Command-line flags take precedence over environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:             DefaultListenAddr,
		DatabasePath:           DefaultDatabasePath,
		CORSAllowedOrigins:     DefaultCORSAllowedOrigins,
		ChatAPIURL:             DefaultChatAPIURL,
		DecompilerURL:          DefaultDecompilerURL,
		DecompilerPollInterval: DefaultDecompilerPollInterval,
		DecompilerMaxAttempts:  DefaultDecompilerMaxAttempts,
		OneShotDecompilerURL:   DefaultOneShotDecompilerURL,
		ContractCacheTTL:       DefaultContractCacheTTL,
		SessionCacheTTL:        DefaultSessionCacheTTL,
		EvictionInterval:       DefaultEvictionInterval,
	}

	// Load from environment variables first
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = v
	}
	if v := os.Getenv("EXPLORER_API_KEY"); v != "" {
		cfg.ExplorerAPIKey = v
	}
	if v := os.Getenv("CHAT_API_URL"); v != "" {
		cfg.ChatAPIURL = v
	}
	if v := os.Getenv("CHAT_API_KEY"); v != "" {
		cfg.ChatAPIKey = v
	}
	if v := os.Getenv("DECOMPILER_URL"); v != "" {
		cfg.DecompilerURL = v
	}
	if v := os.Getenv("DECOMPILER_API_KEY"); v != "" {
		cfg.DecompilerAPIKey = v
	}
	if v := os.Getenv("ONESHOT_DECOMPILER_URL"); v != "" {
		cfg.OneShotDecompilerURL = v
	}
	if v := os.Getenv("DECOMPILER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.DecompilerPollInterval = d
		}
	}
	if v := os.Getenv("DECOMPILER_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DecompilerMaxAttempts = n
		}
	}
	if v := os.Getenv("CONTRACT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ContractCacheTTL = d
		}
	}
	if v := os.Getenv("SESSION_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SessionCacheTTL = d
		}
	}

	// Define command-line flags
	var (
		listenAddr = flag.String("listen", cfg.ListenAddr, "HTTP listen address")
		dbPath     = flag.String("db", cfg.DatabasePath, "SQLite database path")
		chatURL    = flag.String("chat-api", cfg.ChatAPIURL, "Conversational analysis API URL")
		decompURL  = flag.String("decompiler", cfg.DecompilerURL, "Decompiler API URL")
	)

	flag.Parse()

	cfg.ListenAddr = *listenAddr
	cfg.DatabasePath = *dbPath
	cfg.ChatAPIURL = *chatURL
	cfg.DecompilerURL = *decompURL

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.ChatAPIURL == "" {
		return fmt.Errorf("chat API URL is required")
	}
	if c.ChatAPIKey == "" {
		return fmt.Errorf("CHAT_API_KEY is required")
	}
	if c.DecompilerPollInterval <= 0 {
		return fmt.Errorf("decompiler poll interval must be positive")
	}
	if c.DecompilerMaxAttempts <= 0 {
		return fmt.Errorf("decompiler max attempts must be positive")
	}
	return nil
}
