// Package config loads the pipeline and API configuration from an optional
// YAML file, environment variables and defaults, in that order of precedence
// (environment wins over the file).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceBigQuery selects the BigQuery raw-table loader instead of CSV files.
const SourceBigQuery = "bigquery"

// Config holds the full churn-analytics configuration.
type Config struct {
	// Source is a local directory, a gs://bucket/prefix URI or "bigquery".
	Source string `yaml:"source"`
	// Cutoff overrides the analysis cutoff (YYYY-MM-DD or YYYY-MM-DD HH:MM:SS).
	// Empty means the latest purchase timestamp in the snapshot.
	Cutoff   string `yaml:"cutoff"`
	Workers  int    `yaml:"workers"`
	Segments int    `yaml:"segments"` // k for k-means; 0 disables segmentation

	Sinks    SinksConfig    `yaml:"sinks"`
	BigQuery BigQueryConfig `yaml:"bigquery"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
	Campaign CampaignConfig `yaml:"campaign"`
}

// SinksConfig lists where a finished feature table is published.
type SinksConfig struct {
	CSV      string `yaml:"csv"`    // local path or gs:// URI; empty disables
	SQLite   string `yaml:"sqlite"` // database path; empty disables
	BigQuery bool   `yaml:"bigquery"`
}

// BigQueryConfig configures the BigQuery client and datasets.
type BigQueryConfig struct {
	Project    string `yaml:"project"`
	Dataset    string `yaml:"dataset"`     // feature table + runs
	RawDataset string `yaml:"raw_dataset"` // olist raw tables
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port         string `yaml:"port"`
	QueueSize    int    `yaml:"queue_size"`
	JobWorkers   int    `yaml:"job_workers"`
	BuildTimeout string `yaml:"build_timeout"`
	// Token is the bearer token required on write routes; empty disables auth.
	Token string `yaml:"token"`
	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CampaignConfig configures the Gemini campaign drafter.
type CampaignConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
}

// Default returns sane defaults.
func Default() *Config {
	return &Config{
		Source:   "data",
		Workers:  4,
		Segments: 0,
		Sinks: SinksConfig{
			CSV:    "customer_features_with_churn_labels.csv",
			SQLite: "churn_analysis.db",
		},
		BigQuery: BigQueryConfig{
			Dataset:    "churn",
			RawDataset: "olist",
		},
		API: APIConfig{
			Port:         "8080",
			QueueSize:    16,
			JobWorkers:   1,
			BuildTimeout: "10m",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Campaign: CampaignConfig{
			Model: "gemini-2.5-flash",
		},
	}
}

// Load reads the YAML file at path (if non-empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %q is not an integer", key, v)
		}
		*dst = n
		return nil
	}

	str("CHURN_SOURCE", &c.Source)
	str("CHURN_CUTOFF", &c.Cutoff)
	str("CHURN_OUTPUT", &c.Sinks.CSV)
	str("CHURN_SQLITE_PATH", &c.Sinks.SQLite)
	str("CHURN_BQ_PROJECT", &c.BigQuery.Project)
	str("CHURN_BQ_DATASET", &c.BigQuery.Dataset)
	str("CHURN_BQ_RAW_DATASET", &c.BigQuery.RawDataset)
	str("CHURN_PORT", &c.API.Port)
	str("CHURN_LOG_LEVEL", &c.Log.Level)
	str("CHURN_LOG_FORMAT", &c.Log.Format)
	str("CHURN_CAMPAIGN_MODEL", &c.Campaign.Model)
	str("CHURN_API_TOKEN", &c.API.Token)
	if v, ok := lookup("CHURN_CORS_ORIGINS"); ok && v != "" {
		c.API.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.API.AllowedOrigins = append(c.API.AllowedOrigins, o)
			}
		}
	}

	if err := integer("CHURN_WORKERS", &c.Workers); err != nil {
		return err
	}
	if err := integer("CHURN_SEGMENTS", &c.Segments); err != nil {
		return err
	}
	if v, ok := lookup("CHURN_BQ_SINK"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env CHURN_BQ_SINK: %q is not a boolean", v)
		}
		c.Sinks.BigQuery = b
	}
	return nil
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("source is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	if c.Segments < 0 {
		return fmt.Errorf("segments must be >= 0")
	}
	if c.Cutoff != "" {
		if _, err := ParseCutoff(c.Cutoff); err != nil {
			return err
		}
	}
	needsBQ := c.Sinks.BigQuery || c.Source == SourceBigQuery
	if needsBQ && c.BigQuery.Project == "" {
		return fmt.Errorf("bigquery.project is required when BigQuery is used")
	}
	if needsBQ && c.BigQuery.Dataset == "" {
		return fmt.Errorf("bigquery.dataset is required when BigQuery is used")
	}
	if c.Source == SourceBigQuery && c.BigQuery.RawDataset == "" {
		return fmt.Errorf("bigquery.raw_dataset is required for the bigquery source")
	}
	if c.API.BuildTimeout != "" {
		if _, err := time.ParseDuration(c.API.BuildTimeout); err != nil {
			return fmt.Errorf("api.build_timeout: %w", err)
		}
	}
	return nil
}

// BuildTimeout returns the API job timeout, defaulting to ten minutes.
func (c *Config) BuildTimeout() time.Duration {
	d, err := time.ParseDuration(c.API.BuildTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// ParseCutoff parses a cutoff given as a date or a date-time, in UTC.
func ParseCutoff(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cutoff %q: want YYYY-MM-DD or YYYY-MM-DD HH:MM:SS", s)
}
