// Package config loads bot configuration files.
//
// A bot is described by one YAML file. Deployment-specific settings (database,
// directories, credentials) can be overridden with BOTSYNC_* environment
// variables so the same file runs everywhere.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/botsync/internal/bot"
	"github.com/roach88/botsync/internal/window"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// BotConfig is the on-disk description of a bot.
type BotConfig struct {
	// Name identifies the bot. Required.
	Name string `yaml:"name"`

	PrimaryKey           string `yaml:"primary_key,omitempty"`
	Table                string `yaml:"table,omitempty"`
	Schema               string `yaml:"schema,omitempty"`
	RaiseOnInvalid       bool   `yaml:"raise_on_invalid,omitempty"`
	UseAlphaSearch       bool   `yaml:"use_alpha_search,omitempty"`
	MaxConsecutiveMisses int    `yaml:"max_consecutive_misses,omitempty"`

	// SchemaDir holds extra CUE schemas alongside the built-in ones.
	SchemaDir string `yaml:"schema_dir,omitempty"`

	Window window.Policy `yaml:"window,omitempty"`
	Store  StoreConfig   `yaml:"store,omitempty"`
	Raw    RawConfig     `yaml:"raw,omitempty"`
	Source SourceConfig  `yaml:"source"`
	Notify NotifyConfig  `yaml:"notify,omitempty"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver,omitempty"`

	// DSN is a file path for sqlite, a connection string for postgres.
	// Defaults to db/<name>.db.
	DSN string `yaml:"dsn,omitempty"`

	MaxConns int `yaml:"max_conns,omitempty"`

	// Bouncer disables prepared statements for pooled postgres connections.
	Bouncer bool `yaml:"bouncer,omitempty"`
}

// RawConfig controls raw payload archival.
type RawConfig struct {
	Archive bool   `yaml:"archive,omitempty"`
	Format  string `yaml:"format,omitempty"`
	Root    string `yaml:"root,omitempty"`
}

// SourceConfig describes the registry.
type SourceConfig struct {
	// URL is the page URL template; "{id}" is replaced by the identifier.
	URL               string            `yaml:"url"`
	SearchURL         string            `yaml:"search_url,omitempty"`
	SearchResults     string            `yaml:"search_results,omitempty"`
	Fields            map[string]string `yaml:"fields,omitempty"`
	MaintenanceMarker string            `yaml:"maintenance_marker,omitempty"`

	SleepBeforeRequest time.Duration `yaml:"sleep_before_request,omitempty"`
	Timeout            time.Duration `yaml:"timeout,omitempty"`
	UserAgent          string        `yaml:"user_agent,omitempty"`
}

// NotifyConfig enables failure tickets. Empty token disables them.
type NotifyConfig struct {
	AsanaToken string `yaml:"asana_token,omitempty"`
	Workspace  string `yaml:"workspace,omitempty"`

	// BaseURL overrides the Asana API root.
	BaseURL string `yaml:"base_url,omitempty"`
}

// Enabled reports whether failure tickets should be raised.
func (n NotifyConfig) Enabled() bool {
	return n.AsanaToken != "" && n.Workspace != ""
}

// Load reads a bot configuration file, applies environment overrides and
// defaults, and validates the result. Unknown fields are rejected.
func Load(path string) (*BotConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for configuration already in memory.
func Parse(data []byte) (*BotConfig, error) {
	var cfg BotConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *BotConfig) applyEnv() {
	c.Store.Driver = getenv("BOTSYNC_DB_DRIVER", c.Store.Driver)
	c.Store.DSN = getenv("BOTSYNC_DB_DSN", c.Store.DSN)
	c.Raw.Root = getenv("BOTSYNC_RAW_ROOT", c.Raw.Root)
	c.SchemaDir = getenv("BOTSYNC_SCHEMA_DIR", c.SchemaDir)
	c.Notify.AsanaToken = getenv("BOTSYNC_ASANA_TOKEN", c.Notify.AsanaToken)
	c.Notify.Workspace = getenv("BOTSYNC_ASANA_WORKSPACE", c.Notify.Workspace)
	c.Source.SleepBeforeRequest = getenvDuration("BOTSYNC_SLEEP_BEFORE_REQUEST", c.Source.SleepBeforeRequest)
}

func (c *BotConfig) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.DSN == "" && c.Store.Driver == DriverSQLite {
		c.Store.DSN = filepath.Join("db", c.Name+".db")
	}
	if c.Raw.Root == "" {
		c.Raw.Root = "."
	}
}

// Validate reports the first problem with the configuration.
func (c *BotConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name is required")
	}
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: postgres store needs a dsn")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.MaxConsecutiveMisses < 0 {
		return fmt.Errorf("config: max_consecutive_misses must not be negative")
	}
	if c.Source.SleepBeforeRequest < 0 {
		return fmt.Errorf("config: sleep_before_request must not be negative")
	}
	for _, h := range c.Window.AllowedHours {
		if h < 0 || h > 24 {
			return fmt.Errorf("config: allowed hour %d out of range 0..24", h)
		}
	}
	return nil
}

// Bot returns the orchestrator configuration.
func (c *BotConfig) Bot() bot.Config {
	return bot.Config{
		Name:                 c.Name,
		PrimaryKey:           c.PrimaryKey,
		Table:                c.Table,
		SchemaName:           c.Schema,
		RaiseOnInvalid:       c.RaiseOnInvalid,
		UseAlphaSearch:       c.UseAlphaSearch,
		SaveRawOnFilesystem:  c.Raw.Archive,
		RawFormat:            c.Raw.Format,
		MaxConsecutiveMisses: c.MaxConsecutiveMisses,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
