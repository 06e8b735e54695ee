package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/ident"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct walks nested structs and fills tagged fields from the environment.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := os.Getenv(envName)
		if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
			value = os.Getenv(alt)
		}

		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField parses value into the field according to its kind.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(strings.TrimSpace(value))

	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	// Lake layout; schema names end up in DDL
	if err := ident.Validate(c.Lake.RawSchema); err != nil {
		errs = append(errs, fmt.Sprintf("LAKE_RAW_SCHEMA: %v", err))
	}
	if err := ident.Validate(c.Lake.StagingSchema); err != nil {
		errs = append(errs, fmt.Sprintf("LAKE_STAGING_SCHEMA: %v", err))
	}
	if c.Lake.RawSchema == c.Lake.StagingSchema {
		errs = append(errs, "LAKE_RAW_SCHEMA and LAKE_STAGING_SCHEMA must differ")
	}
	if !strings.HasPrefix(c.Lake.FileExtension, ".") {
		errs = append(errs, fmt.Sprintf("LAKE_FILE_EXTENSION (%q) must start with a dot", c.Lake.FileExtension))
	}
	if c.Lake.IncomingDir == "" {
		errs = append(errs, "LAKE_INCOMING_DIR must not be empty")
	}

	// Ingest
	if c.Ingest.MaxFileSize <= 0 {
		errs = append(errs, "INGEST_MAX_FILE_SIZE must be positive")
	}
	if err := ident.Validate(c.Ingest.DerivedColumn); err != nil {
		errs = append(errs, fmt.Sprintf("INGEST_DERIVED_COLUMN: %v", err))
	}

	// Reconcile
	if c.Reconcile.StaleAfter <= 0 {
		errs = append(errs, "RECONCILE_STALE_AFTER must be positive")
	}
	if c.Reconcile.Enabled && c.Reconcile.CheckInterval <= 0 {
		errs = append(errs, "RECONCILE_CHECK_INTERVAL must be positive when reconciliation is enabled")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.BatchWaitTime <= 0 {
		errs = append(errs, "SERVER_BATCH_WAIT_TIME must be positive")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "SERVER_RATE_LIMIT must be non-negative")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// The database URL is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, AutoMigrate: %v}, ",
		c.Database.MaxConns, c.Database.AutoMigrate)
	fmt.Fprintf(&b, "Lake: {Raw: %q, Staging: %q, Incoming: %q}, ",
		c.Lake.RawSchema, c.Lake.StagingSchema, c.Lake.IncomingRoot)
	fmt.Fprintf(&b, "Ingest: {MaxFileSize: %d, TagRows: %v, Promote: %v}, ",
		c.Ingest.MaxFileSize, c.Ingest.TagRows, c.Ingest.Promote)
	fmt.Fprintf(&b, "Server: {Addr: %q, APIKeys: %d}, ", c.Server.Addr(), len(c.Server.APIKeyList()))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
