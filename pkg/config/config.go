// Package config loads the export client configuration from a YAML file,
// an optional env.json credentials file and environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/uplift-export-client/pkg/client"
	"github.com/Sternrassler/uplift-export-client/pkg/logging"
	"github.com/Sternrassler/uplift-export-client/pkg/pagination"
	"github.com/Sternrassler/uplift-export-client/pkg/poller"
	"github.com/Sternrassler/uplift-export-client/pkg/sink"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete export configuration
type Config struct {
	API        APIConfig        `yaml:"api"`
	Retry      RetryConfig      `yaml:"retry"`
	Polling    PollingConfig    `yaml:"polling"`
	Pagination PaginationConfig `yaml:"pagination"`
	Output     OutputConfig     `yaml:"output"`
	Logging    LoggingConfig    `yaml:"logging"`
	Redis      RedisConfig      `yaml:"redis"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Requests   []RequestConfig  `yaml:"requests"`
}

// APIConfig contains the export service endpoint settings
type APIConfig struct {
	Key        string        `yaml:"key"`
	BaseURL    string        `yaml:"base_url"`
	SubmitPath string        `yaml:"submit_path"`
	JobPath    string        `yaml:"job_path"`
	ResultPath string        `yaml:"result_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RetryConfig contains the gateway timeout retry settings
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	RetryableStatus int           `yaml:"retryable_status"`
}

// PollingConfig contains job status polling settings
type PollingConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// PaginationConfig contains result paging settings
type PaginationConfig struct {
	Offset    int           `yaml:"offset"`
	Limit     int           `yaml:"limit"`
	PageDelay time.Duration `yaml:"page_delay"`
}

// OutputConfig contains the partitioned file settings
type OutputConfig struct {
	Directory string `yaml:"directory"`
	Format    string `yaml:"format"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// RedisConfig contains the job progress store settings
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// MetricsConfig contains the metrics server settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RequestConfig describes one export request.
type RequestConfig struct {
	Activity  string         `yaml:"activity"`
	Movement  string         `yaml:"movement"`
	StartTime int64          `yaml:"start_time"`
	EndTime   *int64         `yaml:"end_time"`
	DateMode  string         `yaml:"date_mode"`
	Filters   map[string]any `yaml:"filters"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			JobPath:    "/job/{jobId}",
			ResultPath: "/job/{jobId}/result",
			Timeout:    30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			BaseDelay:       2 * time.Second,
			RetryableStatus: 504,
		},
		Polling: PollingConfig{
			Interval: 5 * time.Second,
		},
		Pagination: PaginationConfig{
			Offset:    0,
			Limit:     pagination.MaxLimit,
			PageDelay: 1 * time.Second,
		},
		Output: OutputConfig{
			Directory: "data",
			Format:    sink.FormatCSV,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     7 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Requests: []RequestConfig{
			{Activity: "baseball", Movement: "hitting"},
			{Activity: "baseball", Movement: "pitching"},
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied and the result is not yet
// validated, so an env.json can still supply credentials.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables are kept.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadEnvJSON fills the API key and base URL from an env.json file with the
// keys UPLIFT_API_KEY and UPLIFT_DATA_URL. Values already set win. A missing
// file is not an error.
func (c *Config) LoadEnvJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var env struct {
		APIKey  string `json:"UPLIFT_API_KEY"`
		DataURL string `json:"UPLIFT_DATA_URL"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if c.API.Key == "" {
		c.API.Key = env.APIKey
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = env.DataURL
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if val := os.Getenv("UPLIFT_API_KEY"); val != "" {
		c.API.Key = val
	}
	if val := os.Getenv("UPLIFT_DATA_URL"); val != "" {
		c.API.BaseURL = val
	}
	if val := os.Getenv("UPLIFT_DATA_EXPORT_URL"); val != "" {
		c.API.BaseURL = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("REDIS_URL"); val != "" {
		c.Redis.Addr = val
		c.Redis.Enabled = true
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.API.Key == "" {
		return fmt.Errorf("api key is required (api.key, UPLIFT_API_KEY or env.json)")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("base url is required (api.base_url, UPLIFT_DATA_URL or env.json)")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive")
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}
	if c.Pagination.Offset < 0 {
		return fmt.Errorf("pagination offset cannot be negative")
	}
	if c.Pagination.Limit < 1 || c.Pagination.Limit > pagination.MaxLimit {
		return fmt.Errorf("pagination limit must be between 1 and %d", pagination.MaxLimit)
	}
	if c.Pagination.PageDelay < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if _, err := sink.New(c.Output.Format, c.Output.Directory); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if len(c.Requests) == 0 {
		return fmt.Errorf("at least one export request is required")
	}
	for i, r := range c.Requests {
		if r.Activity == "" || r.Movement == "" {
			return fmt.Errorf("request %d: activity and movement are required", i)
		}
		switch r.DateMode {
		case "", client.DateModeLastModified, client.DateModeCaptureTime:
		default:
			return fmt.Errorf("request %d: unknown date mode %q", i, r.DateMode)
		}
	}
	return nil
}

// ClientConfig returns the export client configuration.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.API.Key, strings.TrimRight(c.API.BaseURL, "/"))
	cfg.SubmitPath = c.API.SubmitPath
	if c.API.JobPath != "" {
		cfg.JobPath = c.API.JobPath
	}
	if c.API.ResultPath != "" {
		cfg.ResultPath = c.API.ResultPath
	}
	cfg.Timeout = c.API.Timeout
	cfg.MaxRetries = c.Retry.MaxRetries
	cfg.BaseDelay = c.Retry.BaseDelay
	cfg.RetryableStatus = c.Retry.RetryableStatus
	return cfg
}

// PollerConfig returns the job poller configuration.
func (c *Config) PollerConfig() poller.Config {
	return poller.Config{Interval: c.Polling.Interval}
}

// ReaderConfig returns the result reader configuration.
func (c *Config) ReaderConfig() pagination.Config {
	return pagination.Config{
		Offset:    c.Pagination.Offset,
		Limit:     c.Pagination.Limit,
		PageDelay: c.Pagination.PageDelay,
	}
}

// LoggingSetup returns the logger configuration.
func (c *Config) LoggingSetup() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

// ExportRequests builds the requests. A zero start time means 24 hours before
// now; an empty date mode means last_modified.
func (c *Config) ExportRequests(now time.Time) []client.ExportRequest {
	out := make([]client.ExportRequest, len(c.Requests))
	for i, r := range c.Requests {
		start := r.StartTime
		if start == 0 {
			start = now.Add(-24 * time.Hour).Unix()
		}
		mode := r.DateMode
		if mode == "" {
			mode = client.DateModeLastModified
		}
		out[i] = client.ExportRequest{
			Activity:  r.Activity,
			Movement:  r.Movement,
			StartTime: start,
			EndTime:   r.EndTime,
			DateMode:  mode,
			Filters:   r.Filters,
		}
	}
	return out
}
