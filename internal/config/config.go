// Package config provides centralized configuration for the ingestion engine.
// Settings come from environment variables with defaults and are validated
// on startup so misconfiguration fails before any batch is registered.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database  DatabaseConfig
	Lake      LakeConfig
	Ingest    IngestConfig
	Reconcile ReconcileConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required).
	// DATABASE_URL and DB_URL are both accepted.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns caps the pool. Batches run sequentially, so a handful is plenty.
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies embedded migrations on startup.
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// LakeConfig describes where files come from and where tables go.
type LakeConfig struct {
	// RawSchema holds the all-text destination tables.
	RawSchema string `env:"LAKE_RAW_SCHEMA" default:"raw"`

	// StagingSchema holds the typed tables built by promotion.
	StagingSchema string `env:"LAKE_STAGING_SCHEMA" default:"staging"`

	// IncomingRoot contains one directory per source.
	IncomingRoot string `env:"LAKE_INCOMING_ROOT" default:"./sources"`

	// IncomingDir is the per-source subdirectory scanned for files.
	IncomingDir string `env:"LAKE_INCOMING_DIR" default:"incoming"`

	// FileExtension is the only extension considered during discovery.
	FileExtension string `env:"LAKE_FILE_EXTENSION" default:".csv"`

	// DictionaryPath points at a CSV or YAML mapping dictionary.
	// Empty means the mapping_dictionary table is used.
	DictionaryPath string `env:"LAKE_DICTIONARY_PATH"`

	// TypeDecisionsPath points at a CSV or YAML type-decision file.
	// Empty means the type_decision table is used.
	TypeDecisionsPath string `env:"LAKE_TYPE_DECISIONS_PATH"`
}

// IngestConfig holds per-file processing settings.
type IngestConfig struct {
	// MaxFileSize is the largest file accepted, in bytes (default: 100MB).
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"104857600"`

	// TagRows adds _ingest_batch_id and _source_file to every appended row.
	TagRows bool `env:"INGEST_TAG_ROWS" default:"true"`

	// DerivedColumn receives the year parsed from pattern-matched file names.
	DerivedColumn string `env:"INGEST_DERIVED_COLUMN" default:"file_year"`

	// Promote runs staging promotion after each batch when decisions exist.
	Promote bool `env:"INGEST_PROMOTE" default:"true"`
}

// ReconcileConfig controls the stale-batch detector.
type ReconcileConfig struct {
	// Enabled starts the periodic reconciler inside `serve`.
	Enabled bool `env:"RECONCILE_ENABLED" default:"false"`

	// StaleAfter is how long a batch may stay pending before it is considered abandoned.
	StaleAfter time.Duration `env:"RECONCILE_STALE_AFTER" default:"6h"`

	// CheckInterval is how often the periodic reconciler runs.
	CheckInterval time.Duration `env:"RECONCILE_CHECK_INTERVAL" default:"1h"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 because a batch run holds the request open.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout applies to read-only endpoints.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// BatchWaitTime is how long a run request waits for the batch gate.
	BatchWaitTime time.Duration `env:"SERVER_BATCH_WAIT_TIME" default:"30s"`

	// RateLimit is requests per minute per client IP. 0 disables limiting.
	RateLimit int `env:"SERVER_RATE_LIMIT" default:"120"`

	// APIKeys is a comma-separated list accepted on step endpoints.
	// Empty disables the check.
	APIKeys string `env:"SERVER_API_KEYS"`

	// TrustedProxies is a comma-separated list of CIDRs or IPs whose
	// X-Real-IP / X-Forwarded-For headers are believed.
	TrustedProxies string `env:"SERVER_TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// APIKeyList splits APIKeys, dropping blanks.
func (c *ServerConfig) APIKeyList() []string {
	return splitList(c.APIKeys)
}

// TrustedProxyList splits TrustedProxies, dropping blanks.
func (c *ServerConfig) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
