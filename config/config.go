package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"restbridge/models"
)

type Config struct {
	Adapter   AdapterConfig             `yaml:"adapter"`
	Base      BaseConfig                `yaml:"base"`
	Headers   map[string]string         `yaml:"headers"`
	Symbol    SymbolConfig              `yaml:"symbol"`
	Periods   map[string]string         `yaml:"periods"`
	Side      SideConfig                `yaml:"side"`
	Error     ErrorConfig               `yaml:"error"`
	Market    MarketConfig              `yaml:"market"`
	History   HistoryConfig             `yaml:"history"`
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Channels  ChannelsConfig            `yaml:"channels"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Dashboard DashboardConfig           `yaml:"dashboard"`
	Storage   StorageConfig             `yaml:"storage"`
	Export    ExportConfig              `yaml:"export"`
	Logging   LoggingConfig             `yaml:"logging"`
}

type AdapterConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type BaseConfig struct {
	Host               string               `yaml:"host"`
	AccountID          string               `yaml:"account_id"`
	Broker             string               `yaml:"broker"`
	SslVerify          bool                 `yaml:"ssl_verify"`
	TimeFormat         string               `yaml:"time_format"`
	AdjustmentTimezone int                  `yaml:"adjustment_timezone"`
	Parallel           bool                 `yaml:"parallel"`
	Timeout            time.Duration        `yaml:"timeout"`
	LocalIP            string               `yaml:"local_ip"`
	RequestsPerSecond  float64              `yaml:"requests_per_second"`
	Burst              int                  `yaml:"burst"`
	MaxParallel        int                  `yaml:"max_parallel"`
	ConnectionPool     ConnectionPoolConfig `yaml:"connection_pool"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// SymbolConfig describes how instrument names look on the wire.
type SymbolConfig struct {
	Combination string `yaml:"combination"`
	Delimiter   string `yaml:"delimiter"`
}

// SideConfig holds the broker's buy and sell tokens. Empty tokens mean the
// side travels as the sign of the amount.
type SideConfig struct {
	Buy  string `yaml:"B"`
	Sell string `yaml:"S"`
}

type ErrorConfig struct {
	Message string `yaml:"message"`
}

// MarketConfig is the weekly trading session. Weekdays count from Sunday = 0.
type MarketConfig struct {
	OpenWday  int `yaml:"open_wday"`
	OpenHour  int `yaml:"open_hour"`
	CloseWday int `yaml:"close_wday"`
	CloseHour int `yaml:"close_hour"`
	OffWday   int `yaml:"off_wday"`
}

type HistoryConfig struct {
	MaxBatch     int      `yaml:"max_batch"`
	BenignErrors []string `yaml:"benign_errors"`
}

type EndpointConfig struct {
	Path     string `yaml:"path"`
	Method   string `yaml:"method"`
	Request  string `yaml:"request"`
	Response string `yaml:"response"`
	// Refresh is the polling interval in milliseconds; 0 disables polling.
	Refresh int `yaml:"refresh"`
}

// RefreshInterval returns Refresh as a duration.
func (e EndpointConfig) RefreshInterval() time.Duration {
	return time.Duration(e.Refresh) * time.Millisecond
}

type SchedulerConfig struct {
	Tick            time.Duration `yaml:"tick"`
	WaitCeiling     time.Duration `yaml:"wait_ceiling"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ChannelsConfig struct {
	EventBuffer int `yaml:"event_buffer"`
}

type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Address    string           `yaml:"address"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type DashboardConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"`
	LogHistory     int           `yaml:"log_history"`
	MetricsHistory int           `yaml:"metrics_history"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ExportConfig struct {
	Directory   string `yaml:"directory"`
	Compression string `yaml:"compression"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// ConfigurationError reports a missing or invalid configuration value.
type ConfigurationError struct {
	Section string
	Key     string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", e.Section, e.Reason)
	}
	return fmt.Sprintf("%s.%s %s", e.Section, e.Key, e.Reason)
}

func missing(section, key string) error {
	return &ConfigurationError{Section: section, Key: key, Reason: "is required"}
}

// Default returns a configuration carrying every built-in default.
func Default() Config {
	return Config{
		Adapter: AdapterConfig{Name: "restbridge", Version: "dev"},
		Base: BaseConfig{
			Timeout:     30 * time.Second,
			Burst:       1,
			MaxParallel: 8,
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    16,
				MaxConnsPerHost: 8,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		Headers: map[string]string{},
		Periods: map[string]string{},
		Market: MarketConfig{
			OpenWday:  int(time.Sunday),
			OpenHour:  19,
			CloseWday: int(time.Friday),
			CloseHour: 21,
			OffWday:   int(time.Saturday),
		},
		History: HistoryConfig{
			MaxBatch:     2000,
			BenignErrors: []string{"unsupported scope"},
		},
		Endpoints: map[string]EndpointConfig{},
		Scheduler: SchedulerConfig{
			Tick:            100 * time.Millisecond,
			WaitCeiling:     time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Channels: ChannelsConfig{EventBuffer: 1024},
		Metrics:  MetricsConfig{Address: "0.0.0.0:2112"},
		Dashboard: DashboardConfig{
			Address:        "0.0.0.0:8080",
			LogHistory:     200,
			MetricsHistory: 500,
			SampleInterval: 5 * time.Second,
		},
		Export:  ExportConfig{Directory: "exports", Compression: "snappy"},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&config)

	config.Base.Host = strings.TrimRight(strings.TrimSpace(config.Base.Host), "/")
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnv(config *Config) {
	if v := os.Getenv("BROKER_HOST"); v != "" {
		config.Base.Host = strings.TrimSpace(v)
	}
	if v := os.Getenv("BROKER_ACCOUNT_ID"); v != "" {
		config.Base.AccountID = strings.TrimSpace(v)
	}
	if v := os.Getenv("BROKER_AUTH_TOKEN"); v != "" {
		if config.Headers == nil {
			config.Headers = map[string]string{}
		}
		config.Headers["Authorization"] = "Bearer " + strings.TrimSpace(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

// Validate checks the values the adapter cannot run without. Endpoint
// sections are checked when the registry is built.
func Validate(cfg *Config) error {
	if cfg.Adapter.Name == "" {
		return missing("adapter", "name")
	}
	if cfg.Base.Host == "" {
		return missing("base", "host")
	}
	if !strings.HasPrefix(cfg.Base.Host, "http://") && !strings.HasPrefix(cfg.Base.Host, "https://") {
		return &ConfigurationError{Section: "base", Key: "host", Reason: "must start with http:// or https://"}
	}
	if cfg.Base.Timeout <= 0 {
		return &ConfigurationError{Section: "base", Key: "timeout", Reason: "must be greater than 0"}
	}
	if cfg.Base.RequestsPerSecond < 0 {
		return &ConfigurationError{Section: "base", Key: "requests_per_second", Reason: "must not be negative"}
	}
	if cfg.Scheduler.Tick <= 0 {
		return &ConfigurationError{Section: "scheduler", Key: "tick", Reason: "must be greater than 0"}
	}
	if cfg.Channels.EventBuffer <= 0 {
		return &ConfigurationError{Section: "channels", Key: "event_buffer", Reason: "must be greater than 0"}
	}
	if cfg.History.MaxBatch <= 0 {
		return &ConfigurationError{Section: "history", Key: "max_batch", Reason: "must be greater than 0"}
	}
	for _, wd := range []int{cfg.Market.OpenWday, cfg.Market.CloseWday, cfg.Market.OffWday} {
		if wd < 0 || wd > 6 {
			return &ConfigurationError{Section: "market", Reason: fmt.Sprintf("weekday %d out of range 0-6", wd)}
		}
	}
	for code := range cfg.Periods {
		if _, ok := models.PeriodDuration(code); !ok {
			return &ConfigurationError{Section: "periods", Key: code, Reason: "is not a known period code"}
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
