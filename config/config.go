package config

import (
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/oromail/listd/helpers"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// DatabaseEndpointConfig holds configuration for a single database endpoint
type DatabaseEndpointConfig struct {
	// List of database hosts. A single hostname is the common case; multiple
	// hosts are useful for read replica load balancing.
	Hosts           []string    `toml:"hosts"`
	Port            interface{} `toml:"port"` // Database port (default: "5432"), can be string or integer
	User            string      `toml:"user"`
	Password        string      `toml:"password"`
	Name            string      `toml:"name"`
	TLSMode         bool        `toml:"tls"`
	MaxConns        int         `toml:"max_conns"`          // Maximum number of connections in the pool
	MinConns        int         `toml:"min_conns"`          // Minimum number of connections in the pool
	MaxConnLifetime string      `toml:"max_conn_lifetime"`  // Maximum lifetime of a connection
	MaxConnIdleTime string      `toml:"max_conn_idle_time"` // Maximum idle time before a connection is closed
	QueryTimeout    string      `toml:"query_timeout"`      // Per-endpoint timeout for individual database queries (e.g., "30s")
}

// GetMaxConnLifetime parses the max connection lifetime duration for an endpoint
func (e *DatabaseEndpointConfig) GetMaxConnLifetime() (time.Duration, error) {
	if e.MaxConnLifetime == "" {
		return time.Hour, nil
	}
	return helpers.ParseDuration(e.MaxConnLifetime)
}

// GetMaxConnIdleTime parses the max connection idle time duration for an endpoint
func (e *DatabaseEndpointConfig) GetMaxConnIdleTime() (time.Duration, error) {
	if e.MaxConnIdleTime == "" {
		return 30 * time.Minute, nil
	}
	return helpers.ParseDuration(e.MaxConnIdleTime)
}

// GetQueryTimeout parses the query timeout duration for an endpoint.
func (e *DatabaseEndpointConfig) GetQueryTimeout() (time.Duration, error) {
	if e.QueryTimeout == "" {
		return 0, nil // Return zero duration if not set, caller handles default.
	}
	return helpers.ParseDuration(e.QueryTimeout)
}

// DatabaseConfig holds database configuration with separate read/write endpoints
type DatabaseConfig struct {
	Debug        bool                    `toml:"debug"`         // Enable SQL query logging
	QueryTimeout string                  `toml:"query_timeout"` // Default timeout for all database queries (default: "30s")
	WriteTimeout string                  `toml:"write_timeout"` // Timeout for write operations (default: "15s")
	Write        *DatabaseEndpointConfig `toml:"write"`         // Write database configuration
	Read         *DatabaseEndpointConfig `toml:"read"`          // Read database configuration
}

// GetQueryTimeout parses the general query timeout duration.
func (d *DatabaseConfig) GetQueryTimeout() (time.Duration, error) {
	if d.QueryTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(d.QueryTimeout)
}

// GetWriteTimeout parses the write timeout duration
func (d *DatabaseConfig) GetWriteTimeout() (time.Duration, error) {
	if d.WriteTimeout == "" {
		return 15 * time.Second, nil
	}
	return helpers.ParseDuration(d.WriteTimeout)
}

// GetDebug returns the debug flag
func (d *DatabaseConfig) GetDebug() bool {
	return d.Debug
}

// LMTPServerConfig holds configuration for the LMTP ingestion listener
type LMTPServerConfig struct {
	Addr           string `toml:"addr"`             // Listen address (e.g., ":24")
	Hostname       string `toml:"hostname"`         // Hostname announced in the LMTP greeting
	MaxMessageSize int64  `toml:"max_message_size"` // Maximum accepted message size in bytes
	ReadTimeout    string `toml:"read_timeout"`     // Per-connection read timeout
	WriteTimeout   string `toml:"write_timeout"`    // Per-connection write timeout
	MaxRecipients  int    `toml:"max_recipients"`   // Maximum recipients per transaction
}

func (s *LMTPServerConfig) GetReadTimeout() (time.Duration, error) {
	if s.ReadTimeout == "" {
		return 5 * time.Minute, nil
	}
	return helpers.ParseDuration(s.ReadTimeout)
}

func (s *LMTPServerConfig) GetWriteTimeout() (time.Duration, error) {
	if s.WriteTimeout == "" {
		return 5 * time.Minute, nil
	}
	return helpers.ParseDuration(s.WriteTimeout)
}

func (s *LMTPServerConfig) GetMaxMessageSize() int64 {
	if s.MaxMessageSize <= 0 {
		return 50 * 1024 * 1024 // 50MB
	}
	return s.MaxMessageSize
}

func (s *LMTPServerConfig) GetMaxRecipients() int {
	if s.MaxRecipients <= 0 {
		return 100
	}
	return s.MaxRecipients
}

// HTTPConfig holds the metrics/health HTTP endpoint configuration
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"` // Listen address (e.g., ":9090")
}

// DigestConfig holds configuration for the periodic digest worker
type DigestConfig struct {
	Enabled     bool   `toml:"enabled"`
	Interval    string `toml:"interval"`     // How often digests are considered for sending (default: "1h")
	MinMessages int    `toml:"min_messages"` // Send once this many messages accumulate (default: 10)
	MaxAge      string `toml:"max_age"`      // Send regardless of count once the oldest entry is this old (default: "24h")
}

func (d *DigestConfig) GetInterval() (time.Duration, error) {
	if d.Interval == "" {
		return time.Hour, nil
	}
	return helpers.ParseDuration(d.Interval)
}

func (d *DigestConfig) GetMinMessages() int {
	if d.MinMessages <= 0 {
		return 10
	}
	return d.MinMessages
}

func (d *DigestConfig) GetMaxAge() (time.Duration, error) {
	if d.MaxAge == "" {
		return 24 * time.Hour, nil
	}
	return helpers.ParseDuration(d.MaxAge)
}

// Config is the top level configuration for listd
type Config struct {
	Logging  LoggingConfig    `toml:"logging"`
	Database DatabaseConfig   `toml:"database"`
	LMTP     LMTPServerConfig `toml:"lmtp"`
	HTTP     HTTPConfig       `toml:"http"`
	Relay    RelayConfig      `toml:"relay"`
	Digest   DigestConfig     `toml:"digest"`
}

// NewDefaultConfig returns a Config with sensible defaults for every section
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",  // Default to stderr
			Format: "console", // Default to console format
			Level:  "info",    // Default to info level
		},
		Database: DatabaseConfig{
			QueryTimeout: "30s",
			WriteTimeout: "15s",
			Write: &DatabaseEndpointConfig{
				Hosts:           []string{"localhost"},
				Port:            "5432",
				User:            "postgres",
				Password:        "",
				Name:            "listd_db",
				TLSMode:         false,
				MaxConns:        50,
				MinConns:        5,
				MaxConnLifetime: "1h",
				MaxConnIdleTime: "30m",
				QueryTimeout:    "30s",
			},
			Read: &DatabaseEndpointConfig{
				Hosts:           []string{"localhost"},
				Port:            "5432",
				User:            "postgres",
				Password:        "",
				Name:            "listd_db",
				TLSMode:         false,
				MaxConns:        50,
				MinConns:        5,
				MaxConnLifetime: "1h",
				MaxConnIdleTime: "30m",
				QueryTimeout:    "30s",
			},
		},
		LMTP: LMTPServerConfig{
			Addr:     ":24",
			Hostname: "localhost",
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Digest: DigestConfig{
			Enabled:  true,
			Interval: "1h",
			MaxAge:   "24h",
		},
	}
}

// LoadConfigFromFile loads configuration from a TOML file and trims whitespace
// from all string fields. Unknown keys produce a warning and are ignored.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return err
	}

	// Warn about unknown keys (might be typos or deprecated settings)
	if len(metadata.Undecoded()) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range metadata.Undecoded() {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// trimStringFields recursively trims whitespace from every string field
func trimStringFields(v reflect.Value) {
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(strings.TrimSpace(v.String()))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			trimStringFields(v.Field(i))
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Map:
		// TOML maps of strings are rare here; leave them untouched.
	}
}
