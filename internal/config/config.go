package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"chathub/internal/logging"
	dbconfig "chathub/pkg/database"
)

// EnvConfigFile names the variable holding the config file path
const EnvConfigFile = "CHATHUB_CONFIG_FILE"

const envPrefix = "CHATHUB_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *dbconfig.Config
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Auth      *AuthConfig
	Limits    *LimitsConfig
	Redis     *RedisConfig
	Log       *logging.Config
}

type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns host:port for the listener
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type WebSocketConfig struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
	MaxMessageBytes int64
}

// AuthConfig holds the access token secret shared with the credential service
type AuthConfig struct {
	Secret         string
	VerifyTimeout  time.Duration
	AccessTokenTTL time.Duration
}

// LimitsConfig groups the abuse controls and typing timings
type LimitsConfig struct {
	GateWindow      time.Duration
	GateMaxAttempts int
	RateWindow      time.Duration
	RateLimit       int
	TypingCooldown  time.Duration
	TypingTTL       time.Duration
	SweepInterval   time.Duration
}

// RedisConfig enables presence tracking when Addr is set
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DefaultConfig returns single-node defaults: SQLite on local disk, no presence.
// Auth.Secret has no default and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Database: dbconfig.DefaultConfig(),
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    5 * time.Second,
			BufferSize:      100,
			MaxMessageBytes: 128 * 1024,
		},
		Auth: &AuthConfig{
			VerifyTimeout:  5 * time.Second,
			AccessTokenTTL: 15 * time.Minute,
		},
		Limits: &LimitsConfig{
			GateWindow:      60 * time.Second,
			GateMaxAttempts: 5,
			RateWindow:      10 * time.Second,
			RateLimit:       20,
			TypingCooldown:  time.Second,
			TypingTTL:       3 * time.Second,
			SweepInterval:   time.Minute,
		},
		Redis: &RedisConfig{
			TTL: 2 * time.Minute,
		},
		Log: &logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Auth == nil || c.Limits == nil || c.Redis == nil || c.Log == nil {
		return errors.New("incomplete configuration")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return errors.New("WebSocket max message bytes must be positive")
	}

	if len(c.Auth.Secret) < 16 {
		return errors.New("auth secret must be at least 16 bytes")
	}
	if c.Auth.VerifyTimeout <= 0 || c.Auth.AccessTokenTTL <= 0 {
		return errors.New("auth timeouts must be positive")
	}

	l := c.Limits
	if l.GateWindow <= 0 || l.RateWindow <= 0 || l.TypingCooldown <= 0 || l.TypingTTL <= 0 || l.SweepInterval <= 0 {
		return errors.New("limit windows must be positive")
	}
	if l.GateMaxAttempts <= 0 || l.RateLimit <= 0 {
		return errors.New("limit counts must be positive")
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	return nil
}

// LoadFromEnv applies CHATHUB_* variables over the defaults.
// Unparseable values are reported rather than ignored.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(c *Config) error {
	e := &envReader{}

	e.str("DATABASE_DRIVER", func(v string) { c.Database.Driver = dbconfig.Dialect(v) })
	e.str("DATABASE_PATH", func(v string) { c.Database.DatabasePath = v })
	e.str("DATABASE_DSN", func(v string) { c.Database.DSN = v })
	e.integer("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)
	e.boolean("DATABASE_AUTO_MIGRATE", &c.Database.AutoMigrate)

	e.str("HTTP_HOST", func(v string) { c.HTTP.Host = v })
	e.integer("HTTP_PORT", &c.HTTP.Port)
	e.duration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	e.duration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	e.duration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	e.duration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	e.duration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	e.duration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	e.integer("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)

	e.str("AUTH_SECRET", func(v string) { c.Auth.Secret = v })
	e.duration("AUTH_VERIFY_TIMEOUT", &c.Auth.VerifyTimeout)
	e.duration("AUTH_ACCESS_TOKEN_TTL", &c.Auth.AccessTokenTTL)

	e.integer("LIMITS_RATE_LIMIT", &c.Limits.RateLimit)
	e.duration("LIMITS_RATE_WINDOW", &c.Limits.RateWindow)
	e.integer("LIMITS_GATE_MAX_ATTEMPTS", &c.Limits.GateMaxAttempts)
	e.duration("LIMITS_GATE_WINDOW", &c.Limits.GateWindow)

	e.str("REDIS_ADDR", func(v string) { c.Redis.Addr = v })
	e.str("REDIS_PASSWORD", func(v string) { c.Redis.Password = v })
	e.integer("REDIS_DB", &c.Redis.DB)

	e.str("LOG_LEVEL", func(v string) { c.Log.Level = v })
	e.str("LOG_FORMAT", func(v string) { c.Log.Format = v })

	return e.err
}

// envReader collects the first parse failure
type envReader struct {
	err error
}

func (e *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	return v, ok && v != ""
}

func (e *envReader) fail(name, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s=%q: %w", envPrefix, name, value, err)
	}
}

func (e *envReader) str(name string, set func(string)) {
	if v, ok := e.lookup(name); ok {
		set(v)
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = d
	}
}

// ConfigFile mirrors Config for YAML parsing. Durations are strings such as "30s".
type ConfigFile struct {
	Database  *DatabaseConfigFile  `yaml:"database"`
	HTTP      *HTTPConfigFile      `yaml:"http"`
	WebSocket *WebSocketConfigFile `yaml:"websocket"`
	Auth      *AuthConfigFile      `yaml:"auth"`
	Limits    *LimitsConfigFile    `yaml:"limits"`
	Redis     *RedisConfigFile     `yaml:"redis"`
	Log       *logging.Config      `yaml:"log"`
}

type DatabaseConfigFile struct {
	Driver          string `yaml:"driver"`
	Path            string `yaml:"path"`
	DSN             string `yaml:"dsn"`
	MaxConnections  int    `yaml:"max_connections"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime string `yaml:"conn_max_idle_time"`
	AutoMigrate     *bool  `yaml:"auto_migrate"`
	WriteRetryDelay string `yaml:"write_retry_delay"`
}

type HTTPConfigFile struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval    string `yaml:"ping_interval"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	BufferSize      int    `yaml:"buffer_size"`
	MaxMessageBytes int64  `yaml:"max_message_bytes"`
}

type AuthConfigFile struct {
	Secret         string `yaml:"secret"`
	VerifyTimeout  string `yaml:"verify_timeout"`
	AccessTokenTTL string `yaml:"access_token_ttl"`
}

type LimitsConfigFile struct {
	GateWindow      string `yaml:"gate_window"`
	GateMaxAttempts int    `yaml:"gate_max_attempts"`
	RateWindow      string `yaml:"rate_window"`
	RateLimit       int    `yaml:"rate_limit"`
	TypingCooldown  string `yaml:"typing_cooldown"`
	TypingTTL       string `yaml:"typing_ttl"`
	SweepInterval   string `yaml:"sweep_interval"`
}

type RedisConfigFile struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"`
}

// LoadFromFile reads a YAML (or JSON) file over the defaults. The result is
// not validated, since the secret may still come from the environment.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	return config, nil
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f ConfigFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	d := &durations{}
	if db := f.Database; db != nil {
		setString(&c.Database.DatabasePath, db.Path)
		setString(&c.Database.DSN, db.DSN)
		if db.Driver != "" {
			c.Database.Driver = dbconfig.Dialect(db.Driver)
		}
		setInt(&c.Database.MaxConnections, db.MaxConnections)
		if db.AutoMigrate != nil {
			c.Database.AutoMigrate = *db.AutoMigrate
		}
		d.parse("database.conn_max_lifetime", db.ConnMaxLifetime, &c.Database.ConnMaxLifetime)
		d.parse("database.conn_max_idle_time", db.ConnMaxIdleTime, &c.Database.ConnMaxIdleTime)
		d.parse("database.write_retry_delay", db.WriteRetryDelay, &c.Database.WriteRetryDelay)
	}

	if h := f.HTTP; h != nil {
		setString(&c.HTTP.Host, h.Host)
		setInt(&c.HTTP.Port, h.Port)
		d.parse("http.read_timeout", h.ReadTimeout, &c.HTTP.ReadTimeout)
		d.parse("http.write_timeout", h.WriteTimeout, &c.HTTP.WriteTimeout)
		d.parse("http.shutdown_timeout", h.ShutdownTimeout, &c.HTTP.ShutdownTimeout)
	}

	if ws := f.WebSocket; ws != nil {
		setInt(&c.WebSocket.BufferSize, ws.BufferSize)
		if ws.MaxMessageBytes > 0 {
			c.WebSocket.MaxMessageBytes = ws.MaxMessageBytes
		}
		d.parse("websocket.ping_interval", ws.PingInterval, &c.WebSocket.PingInterval)
		d.parse("websocket.read_timeout", ws.ReadTimeout, &c.WebSocket.ReadTimeout)
		d.parse("websocket.write_timeout", ws.WriteTimeout, &c.WebSocket.WriteTimeout)
	}

	if a := f.Auth; a != nil {
		setString(&c.Auth.Secret, a.Secret)
		d.parse("auth.verify_timeout", a.VerifyTimeout, &c.Auth.VerifyTimeout)
		d.parse("auth.access_token_ttl", a.AccessTokenTTL, &c.Auth.AccessTokenTTL)
	}

	if l := f.Limits; l != nil {
		setInt(&c.Limits.GateMaxAttempts, l.GateMaxAttempts)
		setInt(&c.Limits.RateLimit, l.RateLimit)
		d.parse("limits.gate_window", l.GateWindow, &c.Limits.GateWindow)
		d.parse("limits.rate_window", l.RateWindow, &c.Limits.RateWindow)
		d.parse("limits.typing_cooldown", l.TypingCooldown, &c.Limits.TypingCooldown)
		d.parse("limits.typing_ttl", l.TypingTTL, &c.Limits.TypingTTL)
		d.parse("limits.sweep_interval", l.SweepInterval, &c.Limits.SweepInterval)
	}

	if r := f.Redis; r != nil {
		setString(&c.Redis.Addr, r.Addr)
		setString(&c.Redis.Password, r.Password)
		setInt(&c.Redis.DB, r.DB)
		d.parse("redis.ttl", r.TTL, &c.Redis.TTL)
	}

	if lg := f.Log; lg != nil {
		setString(&c.Log.Level, lg.Level)
		setString(&c.Log.Format, lg.Format)
	}

	if d.err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", path, d.err)
	}
	return nil
}

// durations collects the first duration parse failure
type durations struct {
	err error
}

func (d *durations) parse(key, value string, dst *time.Duration) {
	if value == "" || d.err != nil {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = parsed
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// LoadConfigWithPrecedence resolves file > environment > defaults, field by
// field, then validates the result. An empty path falls back to CHATHUB_CONFIG_FILE.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := DefaultConfig()

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
