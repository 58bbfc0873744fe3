package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/schemaguard/schemaguard/internal/planner"
	"github.com/schemaguard/schemaguard/internal/risk"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.schemaguard/schemaguard.yaml"
)

// Config is the top-level configuration.
type Config struct {
	Version    int             `yaml:"version" toml:"version"`
	Source     SourceConfig    `yaml:"source,omitempty" toml:"source"`
	RowCounts  RowCountConfig  `yaml:"row_counts,omitempty" toml:"row_counts"`
	Thresholds ThresholdConfig `yaml:"thresholds,omitempty" toml:"thresholds"`
	Output     OutputConfig    `yaml:"output,omitempty" toml:"output"`
	Report     ReportConfig    `yaml:"report,omitempty" toml:"report"`
	Review     ReviewConfig    `yaml:"review,omitempty" toml:"review"`
	Watch      WatchConfig     `yaml:"watch,omitempty" toml:"watch"`
	Server     ServerConfig    `yaml:"server,omitempty" toml:"server"`
	Logging    LogConfig       `yaml:"logging,omitempty" toml:"logging"`
	// TypeMap points to a YAML file of type-family overrides.
	TypeMap string `yaml:"type_map,omitempty" toml:"type_map"`
}

// SourceConfig defines the live database used for discovery, row counts
// and pre-flight checks.
type SourceConfig struct {
	Type             string `yaml:"type" toml:"type"` // postgresql, mysql, sqlite, oracle or mongodb
	Host             string `yaml:"host,omitempty" toml:"host"`
	Port             int    `yaml:"port,omitempty" toml:"port"`
	Database         string `yaml:"database,omitempty" toml:"database"`
	Schema           string `yaml:"schema,omitempty" toml:"schema"`
	Username         string `yaml:"username,omitempty" toml:"username"`
	Password         string `yaml:"password,omitempty" toml:"password"`
	SSL              bool   `yaml:"ssl,omitempty" toml:"ssl"`
	Path             string `yaml:"path,omitempty" toml:"path"`                           // sqlite database file
	ConnectionString string `yaml:"connection_string,omitempty" toml:"connection_string"` // overrides the fields above
	MaxConnections   int    `yaml:"max_connections,omitempty" toml:"max_connections"`     // default 4, max 50

	// Schemas lists the database schemas (Oracle owners) to discover.
	// Empty means Schema, or every user schema on PostgreSQL.
	Schemas []string `yaml:"schemas,omitempty" toml:"schemas"`
	// SchemaPerModule maps each database schema to a module of the same name.
	SchemaPerModule bool `yaml:"schema_per_module,omitempty" toml:"schema_per_module"`
	// Module names the single module when SchemaPerModule is off.
	Module string `yaml:"module,omitempty" toml:"module"`
}

// RowCountConfig controls where row counts come from.
type RowCountConfig struct {
	Provider string `yaml:"provider,omitempty" toml:"provider"` // source, static or none
	// Exact uses COUNT(*) instead of catalog estimates.
	Exact bool `yaml:"exact,omitempty" toml:"exact"`
	Concurrency int `yaml:"concurrency,omitempty" toml:"concurrency"`
	// Static maps "module.table" or "table" to a fixed row count.
	Static map[string]int64 `yaml:"static,omitempty" toml:"static"`
}

// ThresholdConfig holds the row-count thresholds. Zero selects the default
// and a negative value disables the rule.
type ThresholdConfig struct {
	HighImpactRows int64 `yaml:"high_impact_rows,omitempty" toml:"high_impact_rows"`
	BackupRows     int64 `yaml:"backup_rows,omitempty" toml:"backup_rows"`
	StagingRows    int64 `yaml:"staging_rows,omitempty" toml:"staging_rows"`
}

// Risk converts the configuration to classifier thresholds.
func (t ThresholdConfig) Risk() risk.Thresholds {
	return risk.Thresholds{
		HighImpactRows: t.HighImpactRows,
		BackupRows:     t.BackupRows,
		StagingRows:    t.StagingRows,
	}
}

// OutputConfig controls generated migrations.
type OutputConfig struct {
	Directory string `yaml:"directory,omitempty" toml:"directory"`
	// QualifyTables renders tables as module.table.
	QualifyTables bool           `yaml:"qualify_tables,omitempty" toml:"qualify_tables"`
	Naming        planner.Naming `yaml:"naming,omitempty" toml:"naming"`
}

// ReportConfig controls analysis reports.
type ReportConfig struct {
	Directory string   `yaml:"directory,omitempty" toml:"directory"`
	Formats   []string `yaml:"formats,omitempty" toml:"formats"` // json, markdown, text
	S3Bucket  string   `yaml:"s3_bucket,omitempty" toml:"s3_bucket"`
	S3Prefix  string   `yaml:"s3_prefix,omitempty" toml:"s3_prefix"`
	Region    string   `yaml:"region,omitempty" toml:"region"`
	Profile   string   `yaml:"profile,omitempty" toml:"profile"`
}

// ReviewConfig gates plans before files are written.
type ReviewConfig struct {
	BlockDangerous bool `yaml:"block_dangerous,omitempty" toml:"block_dangerous"`
	RequireReview  bool `yaml:"require_review,omitempty" toml:"require_review"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	DebounceMS int `yaml:"debounce_ms,omitempty" toml:"debounce_ms"`
}

// Debounce returns the debounce interval.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMS) * time.Millisecond
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty" toml:"addr"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level         string `yaml:"level,omitempty" toml:"level"`                   // debug, info, warn, error
	Directory     string `yaml:"directory,omitempty" toml:"directory"`           // default ~/.schemaguard/logs/
	RetentionDays int    `yaml:"retention_days,omitempty" toml:"retention_days"` // default 30
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the config file from the given path. Files ending
// in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if isTOML(path) {
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
		if unknown := md.Undecoded(); len(unknown) > 0 {
			keys := make([]string, len(unknown))
			for i, k := range unknown {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults when path is empty and
// no config exists at the default location.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		if _, err := os.Stat(ExpandHome(DefaultPath)); errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
	}
	return Load(path)
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := c.Marshal(isTOML(path))
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Marshal encodes the config as YAML, or as TOML when asTOML is set.
func (c *Config) Marshal(asTOML bool) ([]byte, error) {
	if asTOML {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, fmt.Errorf("marshaling config: %w", err)
		}
		return buf.Bytes(), nil
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func (c *Config) applyDefaults() {
	if c.Source.MaxConnections == 0 {
		c.Source.MaxConnections = 4
	}
	if c.Source.MaxConnections > 50 {
		c.Source.MaxConnections = 50
	}
	if c.RowCounts.Provider == "" {
		switch {
		case len(c.RowCounts.Static) > 0:
			c.RowCounts.Provider = "static"
		case c.Source.Type != "":
			c.RowCounts.Provider = "source"
		default:
			c.RowCounts.Provider = "none"
		}
	}
	if c.RowCounts.Concurrency == 0 {
		c.RowCounts.Concurrency = c.Source.MaxConnections
	}

	def := risk.DefaultThresholds()
	if c.Thresholds.HighImpactRows == 0 {
		c.Thresholds.HighImpactRows = def.HighImpactRows
	}
	if c.Thresholds.BackupRows == 0 {
		c.Thresholds.BackupRows = def.BackupRows
	}
	if c.Thresholds.StagingRows == 0 {
		c.Thresholds.StagingRows = def.StagingRows
	}

	if c.Output.Directory == "" {
		c.Output.Directory = "migrations"
	}
	naming := planner.DefaultNaming()
	if c.Output.Naming.Format == "" {
		c.Output.Naming.Format = naming.Format
	}
	if c.Output.Naming.TimestampLayout == "" {
		c.Output.Naming.TimestampLayout = naming.TimestampLayout
	}
	if c.Output.Naming.DangerousSuffix == "" {
		c.Output.Naming.DangerousSuffix = naming.DangerousSuffix
	}
	if c.Output.Naming.StagedSuffix == "" {
		c.Output.Naming.StagedSuffix = naming.StagedSuffix
	}

	if c.Report.Directory == "" {
		c.Report.Directory = ExpandHome("~/.schemaguard/reports/")
	}
	if len(c.Report.Formats) == 0 {
		c.Report.Formats = []string{"json", "markdown"}
	}

	if c.Watch.DebounceMS == 0 {
		c.Watch.DebounceMS = 500
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8484"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.schemaguard/logs/")
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = 30
	}
}

func (c *Config) validate() error {
	switch c.RowCounts.Provider {
	case "source", "static", "none":
	default:
		return fmt.Errorf("row_counts.provider must be one of: source, static, none")
	}
	if c.RowCounts.Provider == "source" && c.Source.Type == "" {
		return fmt.Errorf("row_counts.provider is source but no source is configured")
	}
	for _, f := range c.Report.Formats {
		switch f {
		case "json", "markdown", "text":
		default:
			return fmt.Errorf("unknown report format %q", f)
		}
	}
	return nil
}

func (c *Config) resolveSecrets() error {
	r := NewSecretResolver()
	ctx := context.Background()
	for _, f := range []struct {
		name string
		val  *string
	}{
		{"source username", &c.Source.Username},
		{"source password", &c.Source.Password},
		{"source connection string", &c.Source.ConnectionString},
	} {
		v, err := r.Resolve(ctx, *f.val)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.val = v
	}
	return nil
}

// ResolveValue expands the secret references in val.
func ResolveValue(val string) (string, error) {
	return NewSecretResolver().Resolve(context.Background(), val)
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
