package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"VaultLedger/internal/storage"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration. Defaults come from the environment,
// an optional YAML file overrides them.
type Config struct {
	Storage     storage.Config    `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
	NATS        NATSConfig        `yaml:"nats"`
	Journal     JournalConfig     `yaml:"journal"`
	Auth        AuthConfig        `yaml:"auth"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	LogLevel    string            `yaml:"log_level"`
}

type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
	// MetricsAddr serves /metrics on a separate listener. Empty mounts
	// /metrics on the HTTP gateway instead.
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NATSConfig enables the price feed and the outbound publisher when URL is set.
type NATSConfig struct {
	URL string `yaml:"url"`
}

func (c NATSConfig) Enabled() bool { return c.URL != "" }

// JournalConfig enables the Postgres operation journal when PostgresDSN is set.
type JournalConfig struct {
	PostgresDSN     string        `yaml:"postgres_dsn"`
	MigrationsDir   string        `yaml:"migrations_dir"`
	ChanSize        int           `yaml:"chan_size"`
	PublishChanSize int           `yaml:"publish_chan_size"`
	BatchSize       int           `yaml:"batch_size"`
	FlushTimeout    time.Duration `yaml:"flush_timeout"`
}

func (c JournalConfig) Enabled() bool { return c.PostgresDSN != "" }

type AuthConfig struct {
	// Tokens maps bearer tokens to the principal they authenticate.
	Tokens map[string]string `yaml:"tokens"`
	// Admins may override the price.
	Admins []string `yaml:"admins"`
	// OracleIdentity is the principal the price feed acts as. It is always
	// treated as an admin.
	OracleIdentity string `yaml:"oracle_identity"`
}

type IdempotencyConfig struct {
	LRUCapacity int `yaml:"lru_capacity"`
}

// Default builds the configuration from VAULT_* environment variables.
func Default() Config {
	return Config{
		Storage: storage.Config{
			Backend:     envOrDefault("VAULT_STORAGE_BACKEND", "leveldb"),
			Path:        envOrDefault("VAULT_STORAGE_PATH", "data/vaults"),
			PostgresDSN: os.Getenv("VAULT_POSTGRES_DSN"),
		},
		Server: ServerConfig{
			GRPCAddr:        envOrDefault("VAULT_GRPC_ADDR", ":9090"),
			HTTPAddr:        envOrDefault("VAULT_HTTP_ADDR", ":8080"),
			MetricsAddr:     os.Getenv("VAULT_METRICS_ADDR"),
			ShutdownTimeout: envDurationOrDefault("VAULT_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		NATS: NATSConfig{
			URL: os.Getenv("VAULT_NATS_URL"),
		},
		Journal: JournalConfig{
			PostgresDSN:     os.Getenv("VAULT_JOURNAL_DSN"),
			MigrationsDir:   envOrDefault("VAULT_MIGRATIONS_DIR", "migrations"),
			ChanSize:        envIntOrDefault("VAULT_JOURNAL_CHAN_SIZE", 1024),
			PublishChanSize: envIntOrDefault("VAULT_PUBLISH_CHAN_SIZE", 2048),
			BatchSize:       envIntOrDefault("VAULT_JOURNAL_BATCH_SIZE", 50),
			FlushTimeout:    envDurationOrDefault("VAULT_JOURNAL_FLUSH_TIMEOUT", 10*time.Millisecond),
		},
		Auth: AuthConfig{
			Tokens:         parseTokens(os.Getenv("VAULT_AUTH_TOKENS")),
			Admins:         splitList(os.Getenv("VAULT_ADMINS")),
			OracleIdentity: envOrDefault("VAULT_ORACLE_IDENTITY", "oracle"),
		},
		Idempotency: IdempotencyConfig{
			LRUCapacity: envIntOrDefault("VAULT_IDEMPOTENCY_LRU_CAPACITY", 100_000),
		},
		LogLevel: envOrDefault("VAULT_LOG_LEVEL", "info"),
	}
}

// Load returns Default overlaid with the YAML file at path, if any.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv is Load with the path taken from VAULT_CONFIG.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv("VAULT_CONFIG"))
}

func (cfg *Config) normalize() {
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Storage.PostgresDSN = strings.TrimSpace(cfg.Storage.PostgresDSN)

	cfg.Server.GRPCAddr = strings.TrimSpace(cfg.Server.GRPCAddr)
	cfg.Server.HTTPAddr = strings.TrimSpace(cfg.Server.HTTPAddr)
	cfg.Server.MetricsAddr = strings.TrimSpace(cfg.Server.MetricsAddr)
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	cfg.NATS.URL = strings.TrimSpace(cfg.NATS.URL)

	cfg.Journal.PostgresDSN = strings.TrimSpace(cfg.Journal.PostgresDSN)
	// A Postgres store journals to the same database unless told otherwise.
	if cfg.Journal.PostgresDSN == "" && cfg.Storage.Backend == "postgres" {
		cfg.Journal.PostgresDSN = cfg.Storage.PostgresDSN
	}
	if cfg.Journal.ChanSize <= 0 {
		cfg.Journal.ChanSize = 1024
	}
	if cfg.Journal.PublishChanSize <= 0 {
		cfg.Journal.PublishChanSize = 2048
	}
	if cfg.Journal.BatchSize <= 0 {
		cfg.Journal.BatchSize = 50
	}
	if cfg.Journal.FlushTimeout <= 0 {
		cfg.Journal.FlushTimeout = 10 * time.Millisecond
	}

	tokens := make(map[string]string, len(cfg.Auth.Tokens))
	for token, principal := range cfg.Auth.Tokens {
		token, principal = strings.TrimSpace(token), strings.TrimSpace(principal)
		if token != "" && principal != "" {
			tokens[token] = principal
		}
	}
	cfg.Auth.Tokens = tokens
	cfg.Auth.OracleIdentity = strings.TrimSpace(cfg.Auth.OracleIdentity)
	cfg.Auth.Admins = dedupe(append(cfg.Auth.Admins, cfg.Auth.OracleIdentity))

	if cfg.Idempotency.LRUCapacity <= 0 {
		cfg.Idempotency.LRUCapacity = 100_000
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
}

func (cfg *Config) validate() error {
	switch cfg.Storage.Backend {
	case "memory":
	case "leveldb", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path is required for the %s backend", cfg.Storage.Backend)
		}
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage: postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Server.GRPCAddr == "" && cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("server: at least one of grpc_addr or http_addr is required")
	}
	if cfg.Journal.PostgresDSN != "" && strings.TrimSpace(cfg.Journal.MigrationsDir) == "" {
		return fmt.Errorf("journal: migrations_dir is required")
	}
	if cfg.NATS.Enabled() && cfg.Auth.OracleIdentity == "" {
		return fmt.Errorf("auth: oracle_identity is required when nats is enabled")
	}
	switch cfg.LogLevel {
	case "", "trace", "debug", "info", "warn", "warning", "error", "disabled", "off":
	default:
		return fmt.Errorf("log_level: unknown level %q", cfg.LogLevel)
	}
	return nil
}

// --- Helpers ---

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return defaultVal
	}
	return i
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return defaultVal
	}
	return d
}

// parseTokens decodes "token=principal,token2=principal2".
func parseTokens(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range splitList(s) {
		token, principal, ok := strings.Cut(pair, "=")
		if ok {
			out[token] = principal
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
