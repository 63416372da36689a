package database

import (
	"errors"
	"fmt"
	"time"
)

// Dialect names a supported SQL backend. The value doubles as the
// golang-migrate database name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Config holds database configuration
// ARCHITECTURAL DISCOVERY: One struct covers both dialects; only the fields
// relevant to the selected driver are validated
type Config struct {
	Driver          Dialect       `json:"driver" yaml:"driver"`
	DatabasePath    string        `json:"database_path" yaml:"database_path"`
	DSN             string        `json:"dsn" yaml:"dsn"`
	MaxConnections  int           `json:"max_connections" yaml:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `json:"auto_migrate" yaml:"auto_migrate"`
	WriteRetryDelay time.Duration `json:"write_retry_delay" yaml:"write_retry_delay"`
}

// DefaultConfig returns a local SQLite configuration
func DefaultConfig() *Config {
	return &Config{
		Driver:          DialectSQLite,
		DatabasePath:    "./data/chathub.db",
		MaxConnections:  10, // SQLite recommended limit for concurrent access
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		AutoMigrate:     true,
		WriteRetryDelay: 50 * time.Millisecond,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	switch c.Driver {
	case DialectSQLite:
		if c.DatabasePath == "" {
			return errors.New("database path cannot be empty")
		}
	case DialectPostgres:
		if c.DSN == "" {
			return errors.New("postgres dsn cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
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
	if c.WriteRetryDelay < 0 {
		return errors.New("write retry delay cannot be negative")
	}
	return nil
}
