package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/warp/bin-ledger/inventory"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	// MemoryDB as DB_PATH keeps every repository in process memory.
	MemoryDB = ":memory:"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Collab    CollabConfig
	Outbox    OutboxConfig
	Inventory InventoryConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// StoreConfig selects where the ledger and the workflow documents live.
type StoreConfig struct {
	Backend     string
	DBPath      string
	DatabaseURL string
}

// CollabConfig points at the document / notification service. An empty
// BaseURL records documents locally and logs notifications.
type CollabConfig struct {
	BaseURL string
	Token   string
}

// OutboxConfig holds dispatcher settings.
type OutboxConfig struct {
	Schedule string
}

// InventoryConfig holds engine policies.
type InventoryConfig struct {
	AllocationStrategy string
	PutawayStrategy    string
	LayoutFile         string
	DefaultUOM         string
}

type LogConfig struct {
	Level string
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// A missing .env file is fine when configuration comes from the
		// environment directly.
		_ = godotenv.Load()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getenvWithDefault("APP_PORT", "8080"),
			AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		},
		Store: StoreConfig{
			Backend:     strings.ToLower(getenvWithDefault("LEDGER_BACKEND", BackendSQLite)),
			DBPath:      getenvWithDefault("DB_PATH", "wms.db"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Collab: CollabConfig{
			BaseURL: os.Getenv("COLLAB_BASE_URL"),
			Token:   os.Getenv("COLLAB_TOKEN"),
		},
		Outbox: OutboxConfig{
			Schedule: getenvWithDefault("OUTBOX_SCHEDULE", "@every 15s"),
		},
		Inventory: InventoryConfig{
			AllocationStrategy: getenvWithDefault("ALLOCATION_STRATEGY", "fefo"),
			PutawayStrategy:    getenvWithDefault("PUTAWAY_STRATEGY", "consolidate"),
			LayoutFile:         os.Getenv("LAYOUT_FILE"),
			DefaultUOM:         getenvWithDefault("DEFAULT_UOM", "Nos"),
		},
		Log: LogConfig{
			Level: getenvWithDefault("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.DBPath == "" {
			return errors.New("DB_PATH must be provided for the sqlite backend")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be provided for the postgres backend")
		}
	default:
		return fmt.Errorf("LEDGER_BACKEND must be %q or %q, got %q", BackendSQLite, BackendPostgres, c.Store.Backend)
	}

	if _, err := inventory.ParseStrategy(c.Inventory.AllocationStrategy); err != nil {
		return fmt.Errorf("ALLOCATION_STRATEGY: %w", err)
	}

	if c.Outbox.Schedule == "" {
		return errors.New("OUTBOX_SCHEDULE must be provided")
	}

	return nil
}

// InMemory reports whether the repositories live in process memory.
func (c *Config) InMemory() bool {
	return c.Store.Backend == BackendSQLite && c.Store.DBPath == MemoryDB
}

func getenvWithDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
