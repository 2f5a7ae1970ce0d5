// Package config loads and validates vamdc configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. VAMDC_QUERY_CONCURRENCY.
const EnvPrefix = "VAMDC"

// Config captures every knob loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Cache     CacheConfig     `mapstructure:"cache"`
	SpeciesDB SpeciesDBConfig `mapstructure:"species_db"`
	Query     QueryConfig     `mapstructure:"query"`
	Output    OutputConfig    `mapstructure:"output"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CacheConfig locates the reference-table cache.
type CacheConfig struct {
	Dir string        `mapstructure:"dir"`
	TTL time.Duration `mapstructure:"ttl"`
}

// SpeciesDBConfig points at the species database web service.
type SpeciesDBConfig struct {
	NodesURL   string        `mapstructure:"nodes_url"`
	SpeciesURL string        `mapstructure:"species_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// QueryConfig governs probing, splitting and dispatch.
type QueryConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MinWidth     float64       `mapstructure:"min_width"`
	MaxDepth     int           `mapstructure:"max_depth"`
	NodeRPS      float64       `mapstructure:"node_rps"`
	NodeBurst    int           `mapstructure:"node_burst"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// OutputConfig sets the staging and permanent payload directories.
type OutputConfig struct {
	StagingDir string `mapstructure:"staging_dir"`
	XSAMSDir   string `mapstructure:"xsams_dir"`
}

// ArchiveConfig enables GCS archiving of relocated payloads.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// LedgerConfig enables the Postgres sub-query ledger.
type LedgerConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// NotifyConfig enables Pub/Sub request notifications.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, is required on every /v1 request.
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultCacheDir is $HOME/.cache/vamdc, or a temp-dir fallback when the home
// directory is unknown.
func DefaultCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".cache", "vamdc")
	}
	return filepath.Join(os.TempDir(), "vamdc")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("cache.dir", DefaultCacheDir())
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("species_db.nodes_url", "https://species.vamdc.org/web-service/api/v12.07/nodes")
	v.SetDefault("species_db.species_url", "https://species.vamdc.org/web-service/api/v12.07/species")
	v.SetDefault("species_db.timeout", 60*time.Second)
	v.SetDefault("query.concurrency", 8)
	v.SetDefault("query.call_timeout", 5*time.Minute)
	v.SetDefault("query.probe_timeout", 60*time.Second)
	v.SetDefault("query.user_agent", "VAMDC Query store")
	v.SetDefault("query.min_width", 1e-3)
	v.SetDefault("query.max_depth", 24)
	v.SetDefault("query.node_rps", 0.0)
	v.SetDefault("query.node_burst", 1)
	v.SetDefault("query.max_body_bytes", 0)
	v.SetDefault("output.staging_dir", "")
	v.SetDefault("output.xsams_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "xsams")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "subqueries")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", 10*time.Minute)
}

func (c *Config) fillDerived() {
	if c.Output.StagingDir == "" {
		c.Output.StagingDir = filepath.Join(c.Cache.Dir, "staging")
	}
	if c.Output.XSAMSDir == "" {
		c.Output.XSAMSDir = filepath.Join(c.Cache.Dir, "xsams")
	}
}

// Validate enforces required values and sane limits.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Cache.Dir) == "" {
		errs = append(errs, errors.New("cache.dir is required"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be > 0"))
	}
	if c.SpeciesDB.NodesURL == "" || c.SpeciesDB.SpeciesURL == "" {
		errs = append(errs, errors.New("species_db.nodes_url and species_db.species_url are required"))
	}
	if c.Query.Concurrency <= 0 {
		errs = append(errs, errors.New("query.concurrency must be > 0"))
	}
	if c.Query.CallTimeout <= 0 || c.Query.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("query.call_timeout and query.probe_timeout must be > 0"))
	}
	if c.Query.MinWidth <= 0 {
		errs = append(errs, errors.New("query.min_width must be > 0"))
	}
	if c.Query.MaxDepth <= 0 {
		errs = append(errs, errors.New("query.max_depth must be > 0"))
	}
	if c.Query.NodeRPS < 0 {
		errs = append(errs, errors.New("query.node_rps must be >= 0"))
	}
	if c.Query.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("query.max_body_bytes must be >= 0"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server.port must be in 1..65535"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be > 0"))
	}
	if (c.Notify.ProjectID == "") != (c.Notify.Topic == "") {
		errs = append(errs, errors.New("notify.project_id and notify.topic must be set together"))
	}
	return errors.Join(errs...)
}
