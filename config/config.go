// Package config holds the runtime settings of the murmur daemon: defaults,
// overlaid by MURMUR_* environment variables, overlaid by command-line
// flags.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendFile   = "file"
	BackendS3     = "s3"
	BackendNone   = "none"
)

// Config holds runtime settings for the murmur daemon.
type Config struct {
	ListenAddr string
	RedisURL   string

	KeyStore      string // memory | redis | file
	KeyDir        string
	KeyPassphrase string

	Events string // none | redis

	Storage        string // memory | s3
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string

	// ChainRPC maps chain names to JSON-RPC endpoints. When empty, balances
	// come from an in-memory table.
	ChainRPC map[string]string

	WalletKey    string
	HistoryLimit int
	TokenTTL     time.Duration

	LogLevel  string
	LogFormat string
}

// Default returns development defaults.
func Default() *Config {
	return &Config{
		ListenAddr:   ":9000",
		RedisURL:     "redis://localhost:6379/0",
		KeyStore:     BackendMemory,
		KeyDir:       "./keys",
		Events:       BackendNone,
		Storage:      BackendMemory,
		S3Bucket:     "murmur",
		S3Region:     "us-east-1",
		ChainRPC:     map[string]string{},
		HistoryLimit: 100,
		TokenTTL:     5 * time.Minute,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load returns defaults overlaid by the process environment.
func Load() (*Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays every MURMUR_* variable found by lookup. REDIS_URL is
// honoured when MURMUR_REDIS_URL is unset.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		c.RedisURL = v
	}
	str("MURMUR_REDIS_URL", &c.RedisURL)
	str("MURMUR_LISTEN_ADDR", &c.ListenAddr)
	str("MURMUR_KEY_STORE", &c.KeyStore)
	str("MURMUR_KEY_DIR", &c.KeyDir)
	str("MURMUR_KEY_PASSPHRASE", &c.KeyPassphrase)
	str("MURMUR_EVENTS", &c.Events)
	str("MURMUR_STORAGE", &c.Storage)
	str("MURMUR_S3_BUCKET", &c.S3Bucket)
	str("MURMUR_S3_REGION", &c.S3Region)
	str("MURMUR_S3_ENDPOINT", &c.S3BaseEndpoint)
	str("MURMUR_S3_ACCESS_KEY", &c.S3AccessKey)
	str("MURMUR_S3_SECRET_KEY", &c.S3SecretKey)
	str("MURMUR_WALLET_KEY", &c.WalletKey)
	str("MURMUR_LOG_LEVEL", &c.LogLevel)
	str("MURMUR_LOG_FORMAT", &c.LogFormat)

	if v, ok := lookup("MURMUR_CHAIN_RPC"); ok && v != "" {
		rpc, err := ParseChainRPC(v)
		if err != nil {
			return err
		}
		c.ChainRPC = rpc
	}
	if v, ok := lookup("MURMUR_HISTORY_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MURMUR_HISTORY_LIMIT: %w", err)
		}
		c.HistoryLimit = n
	}
	if v, ok := lookup("MURMUR_TOKEN_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MURMUR_TOKEN_TTL: %w", err)
		}
		c.TokenTTL = d
	}
	return nil
}

// BindFlags registers flags that overwrite c when parsed.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "HTTP listen address")
	fs.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "redis URL used by redis backends")
	fs.StringVar(&c.KeyStore, "key-store", c.KeyStore, "key material backend: memory, redis or file")
	fs.StringVar(&c.KeyDir, "key-dir", c.KeyDir, "directory of the file key store")
	fs.StringVar(&c.Events, "events", c.Events, "session event backend: none or redis")
	fs.StringVar(&c.Storage, "storage", c.Storage, "content storage backend: memory or s3")
	fs.StringVar(&c.S3Bucket, "s3-bucket", c.S3Bucket, "S3 bucket for gated content")
	fs.StringVar(&c.S3Region, "s3-region", c.S3Region, "S3 region")
	fs.StringVar(&c.S3BaseEndpoint, "s3-endpoint", c.S3BaseEndpoint, "S3-compatible endpoint, empty for AWS")
	fs.StringToStringVar(&c.ChainRPC, "chain-rpc", c.ChainRPC, "chain=url JSON-RPC endpoints for condition checks")
	fs.IntVar(&c.HistoryLimit, "history-limit", c.HistoryLimit, "messages fetched when a conversation is attached")
	fs.DurationVar(&c.TokenTTL, "token-ttl", c.TokenTTL, "lifetime of authorization tokens")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text or json")
}

// Validate checks backend names and their required settings.
func (c *Config) Validate() error {
	switch c.KeyStore {
	case BackendMemory, BackendRedis:
	case BackendFile:
		if c.KeyPassphrase == "" {
			return fmt.Errorf("file key store requires MURMUR_KEY_PASSPHRASE")
		}
		if c.KeyDir == "" {
			return fmt.Errorf("file key store requires a key directory")
		}
	default:
		return fmt.Errorf("unknown key store %q", c.KeyStore)
	}
	switch c.Events {
	case BackendNone, BackendRedis:
	default:
		return fmt.Errorf("unknown events backend %q", c.Events)
	}
	switch c.Storage {
	case BackendMemory:
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("s3 storage requires a bucket")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history limit must not be negative")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	return nil
}

// UsesRedis reports whether any backend needs a redis client.
func (c *Config) UsesRedis() bool {
	return c.KeyStore == BackendRedis || c.Events == BackendRedis
}

// ParseChainRPC parses "chain=url,chain=url".
func ParseChainRPC(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, url, ok := strings.Cut(part, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid chain rpc entry %q", part)
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(url)
	}
	return out, nil
}

// Chains returns the configured chain names in sorted order.
func (c *Config) Chains() []string {
	names := make([]string, 0, len(c.ChainRPC))
	for name := range c.ChainRPC {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
