// Package config provides Viper-based configuration loading for the BarLink relay.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Blob backends accepted by UploadConfig.Backend.
const (
	BackendDisk     = "disk"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener. The PORT environment variable overrides it.
	Port int `mapstructure:"port"`
	// ReadHeaderTimeout bounds how long a client may take to send request headers.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings for the postgres blob backend.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// TransportConfig holds WebSocket connection settings.
type TransportConfig struct {
	// Path is the HTTP path that upgrades to a WebSocket.
	Path string `mapstructure:"path"`
	// WriteWait is the deadline for a single frame write.
	WriteWait time.Duration `mapstructure:"write_wait"`
	// PongWait is how long a connection may stay silent before it is dropped.
	PongWait time.Duration `mapstructure:"pong_wait"`
	// MaxMessageBytes caps the size of one inbound frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	// SendBuffer is the number of outbound frames queued per session before it is
	// treated as a slow consumer.
	SendBuffer int `mapstructure:"send_buffer"`
}

// PingPeriod returns the interval between server pings; always shorter than PongWait.
func (t TransportConfig) PingPeriod() time.Duration {
	return t.PongWait * 9 / 10
}

// TypingConfig holds typing presence settings.
type TypingConfig struct {
	// Expiry is how long a typing marker lives without a refresh.
	Expiry time.Duration `mapstructure:"expiry"`
}

// UploadConfig holds image upload settings.
type UploadConfig struct {
	// Backend selects the blob store: "disk", "sqlite", or "postgres".
	Backend string `mapstructure:"backend"`
	// Dir is the directory used by the disk backend.
	Dir string `mapstructure:"dir"`
	// PublicPath is the URL prefix under which stored blobs are served.
	PublicPath string `mapstructure:"public_path"`
	// MaxBytes caps one upload body.
	MaxBytes int64 `mapstructure:"max_bytes"`
	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath string `mapstructure:"sqlite_path"`
	// RateLimit is the number of uploads one client address may make per RateWindow. Zero disables limiting.
	RateLimit int `mapstructure:"rate_limit"`
	// RateWindow is the sliding window for RateLimit.
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Transport TransportConfig `mapstructure:"transport"`
	Typing    TypingConfig    `mapstructure:"typing"`
	Upload    UploadConfig    `mapstructure:"upload"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Upload.Backend == BackendPostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateTransport(c.Transport); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Typing.Expiry <= 0 {
		errs = append(errs, fmt.Sprintf("typing.expiry must be > 0, got %s", c.Typing.Expiry))
	}
	if err := validateUpload(c.Upload); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if s.ReadHeaderTimeout < 0 {
		errs = append(errs, "server.read_header_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateTransport(t TransportConfig) error {
	var errs []string
	if !strings.HasPrefix(t.Path, "/") {
		errs = append(errs, fmt.Sprintf("transport.path must start with '/', got %q", t.Path))
	}
	if t.WriteWait <= 0 {
		errs = append(errs, "transport.write_wait must be > 0")
	}
	if t.PongWait <= 0 {
		errs = append(errs, "transport.pong_wait must be > 0")
	}
	if t.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("transport.max_message_bytes must be >= 1, got %d", t.MaxMessageBytes))
	}
	if t.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("transport.send_buffer must be >= 1, got %d", t.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateUpload(u UploadConfig) error {
	var errs []string
	switch u.Backend {
	case BackendDisk:
		if u.Dir == "" {
			errs = append(errs, "upload.dir must not be empty for the disk backend")
		}
	case BackendSQLite:
		if u.SQLitePath == "" {
			errs = append(errs, "upload.sqlite_path must not be empty for the sqlite backend")
		}
	case BackendPostgres:
	default:
		errs = append(errs, fmt.Sprintf("upload.backend must be one of [disk, sqlite, postgres], got %q", u.Backend))
	}
	if !strings.HasPrefix(u.PublicPath, "/") {
		errs = append(errs, fmt.Sprintf("upload.public_path must start with '/', got %q", u.PublicPath))
	}
	if u.MaxBytes < 1 {
		errs = append(errs, fmt.Sprintf("upload.max_bytes must be >= 1, got %d", u.MaxBytes))
	}
	if u.RateLimit < 0 {
		errs = append(errs, fmt.Sprintf("upload.rate_limit must be >= 0, got %d", u.RateLimit))
	}
	if u.RateLimit > 0 && u.RateWindow <= 0 {
		errs = append(errs, "upload.rate_window must be > 0 when upload.rate_limit is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and environment only.
//
// Precondition: path must be empty or a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper() (*viper.Viper, error) {
	v := viper.New()

	// Environment variable overrides with BARLINK_ prefix
	v.SetEnvPrefix("BARLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Deployments set the listen port through a bare PORT variable.
	if err := v.BindEnv("server.port", "BARLINK_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("binding server.port: %w", err)
	}

	setDefaults(v)
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "barlink")
	v.SetDefault("database.password", "barlink")
	v.SetDefault("database.name", "barlink")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("transport.path", "/ws")
	v.SetDefault("transport.write_wait", "10s")
	v.SetDefault("transport.pong_wait", "60s")
	v.SetDefault("transport.max_message_bytes", 64*1024)
	v.SetDefault("transport.send_buffer", 256)

	v.SetDefault("typing.expiry", "3s")

	v.SetDefault("upload.backend", BackendDisk)
	v.SetDefault("upload.dir", "uploads")
	v.SetDefault("upload.public_path", "/uploads")
	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("upload.sqlite_path", "barlink.db")
	v.SetDefault("upload.rate_limit", 20)
	v.SetDefault("upload.rate_window", "1m")
}

// Default returns the configuration produced by defaults alone, ignoring the environment.
//
// Postcondition: Returns a valid Config.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := LoadFromViper(v)
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}
