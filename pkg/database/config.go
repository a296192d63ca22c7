package database

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration
// ARCHITECTURAL DISCOVERY: Configuration struct provides all database settings
// needed for deployment without hardcoded values
type Config struct {
	DatabasePath    string        `koanf:"path" json:"database_path"`
	MaxConnections  int           `koanf:"max_connections" json:"max_connections"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" json:"conn_max_idle_time"`
	WriteTimeout    time.Duration `koanf:"write_timeout" json:"write_timeout"`
	BusyRetryDelay  time.Duration `koanf:"busy_retry_delay" json:"busy_retry_delay"`

	// MigrationsPath overrides the embedded migrations with a directory on disk.
	MigrationsPath string `koanf:"migrations_path" json:"migrations_path"`

	// ReservedGroupNames may each be carried by at most one group.
	ReservedGroupNames []string `koanf:"-" json:"-"`
}

// DefaultConfig returns database configuration sized for a single campus deployment
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/cececho.db",
		MaxConnections:  10, // SQLite recommended limit for concurrent access
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		WriteTimeout:    30 * time.Second,
		BusyRetryDelay:  100 * time.Millisecond,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.BusyRetryDelay < 0 {
		return errors.New("busy retry delay cannot be negative")
	}
	return nil
}

// DSN returns the sqlite3 connection string with per-connection pragmas.
func (c *Config) DSN() string {
	return c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate"
}

// SQLite optimization pragmas
// ARCHITECTURAL DISCOVERY: WAL mode enables concurrent reads while maintaining
// the single-writer pattern required by the store
var sqliteOptimizations = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// ApplySQLiteOptimizations applies performance pragmas to the connection pool
func ApplySQLiteOptimizations(db *sql.DB) error {
	for _, pragma := range sqliteOptimizations {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
