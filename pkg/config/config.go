package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/tartarus-sandbox/pythia/pkg/erebus"
	"github.com/tartarus-sandbox/pythia/pkg/persephone"
	"github.com/tartarus-sandbox/pythia/pkg/themis"
)

const (
	EnvPrefix = "PYTHIA"
	FileName  = "pythia"

	OnSiteErrorAbort   = "abort"
	OnSiteErrorExclude = "exclude"

	BackendLocal = "local"
	BackendRedis = "redis"
	BackendS3    = "s3"
)

type Config struct {
	SeasonLength int              `mapstructure:"season_length"`
	HorizonDays  int              `mapstructure:"horizon_days"`
	Fallback     string           `mapstructure:"fallback"`
	OnSiteError  string           `mapstructure:"on_site_error"`
	Parallelism  int              `mapstructure:"parallelism"`
	Backtest     BacktestConfig   `mapstructure:"backtest"`
	Risk         RiskConfig       `mapstructure:"risk"`
	Log          LogConfig        `mapstructure:"log"`
	Store        StoreConfig      `mapstructure:"store"`
	Redis        RedisConfig      `mapstructure:"redis"`
	Artifacts    ArtifactsConfig  `mapstructure:"artifacts"`
	S3           S3Config         `mapstructure:"s3"`
	Server       ServerConfig     `mapstructure:"server"`
	Prometheus   PrometheusConfig `mapstructure:"prometheus"`
	Ingest       IngestConfig     `mapstructure:"ingest"`
	Audit        AuditConfig      `mapstructure:"audit"`
}

type BacktestConfig struct {
	WindowDays int `mapstructure:"window_days"`
}

type RiskConfig struct {
	GreenYellow float64 `mapstructure:"green_yellow"`
	YellowRed   float64 `mapstructure:"yellow_red"`
	PolicyFile  string  `mapstructure:"policy_file"`
	TopN        int     `mapstructure:"top_n"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects where observation history, capacities and the policy live
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

type ArtifactsConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Schedule string `mapstructure:"schedule"` // cron spec, empty disables scheduled runs
	APIKey   string `mapstructure:"api_key"`  // bearer token, empty leaves the API open
}

type PrometheusConfig struct {
	URL   string  `mapstructure:"url"`
	Query string  `mapstructure:"query"`
	QPS   float64 `mapstructure:"qps"`
}

type IngestConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	LookbackDays int           `mapstructure:"lookback_days"`
}

type AuditConfig struct {
	File   string `mapstructure:"file"`
	Secret string `mapstructure:"secret"`
}

// SetDefaults registers every key so env overrides reach Unmarshal
func SetDefaults(v *viper.Viper) {
	v.SetDefault("season_length", persephone.DefaultSeasonLength)
	v.SetDefault("horizon_days", 14)
	v.SetDefault("fallback", string(persephone.FallbackLastObserved))
	v.SetDefault("on_site_error", OnSiteErrorAbort)
	v.SetDefault("parallelism", 4)
	v.SetDefault("backtest.window_days", 56)
	v.SetDefault("risk.green_yellow", themis.DefaultThresholds().GreenYellow)
	v.SetDefault("risk.yellow_red", themis.DefaultThresholds().YellowRed)
	v.SetDefault("risk.policy_file", "")
	v.SetDefault("risk.top_n", 25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("store.backend", BackendLocal)
	v.SetDefault("store.dir", "./data")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("artifacts.backend", BackendLocal)
	v.SetDefault("artifacts.dir", "./outputs")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.schedule", "")
	v.SetDefault("server.api_key", "")
	v.SetDefault("prometheus.url", "")
	v.SetDefault("prometheus.query", "")
	v.SetDefault("prometheus.qps", 5.0)
	v.SetDefault("ingest.interval", "1h")
	v.SetDefault("ingest.lookback_days", 2)
	v.SetDefault("audit.file", "")
	v.SetDefault("audit.secret", "")
}

// New returns a viper instance reading PYTHIA_* env vars and pythia.yaml
// from the working directory or $HOME/.pythia. A .env file is loaded first.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.pythia")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile reads the given config file, or the default search path when
// path is empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values a run cannot start with
func (c *Config) Validate() error {
	var errs []error

	if c.SeasonLength < 1 {
		errs = append(errs, fmt.Errorf("season_length: %w", errInvalid(c.SeasonLength)))
	}
	if c.HorizonDays < 1 {
		errs = append(errs, fmt.Errorf("horizon_days: %w", errInvalid(c.HorizonDays)))
	}
	if c.Backtest.WindowDays < 1 {
		errs = append(errs, fmt.Errorf("backtest.window_days: %w", errInvalid(c.Backtest.WindowDays)))
	}
	if c.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism: %w", errInvalid(c.Parallelism)))
	}
	switch persephone.FallbackPolicy(c.Fallback) {
	case persephone.FallbackLastObserved, persephone.FallbackTrailingMean:
	default:
		errs = append(errs, fmt.Errorf("fallback: %w", errInvalid(c.Fallback)))
	}
	switch c.OnSiteError {
	case OnSiteErrorAbort, OnSiteErrorExclude:
	default:
		errs = append(errs, fmt.Errorf("on_site_error: %w", errInvalid(c.OnSiteError)))
	}
	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Backend {
	case BackendLocal, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("store.backend: %w", errInvalid(c.Store.Backend)))
	}
	switch c.Artifacts.Backend {
	case BackendLocal:
	case BackendS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket is required when artifacts.backend is s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("artifacts.backend: %w", errInvalid(c.Artifacts.Backend)))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %w", errInvalid(c.Server.Port)))
	}
	if c.Server.Schedule != "" {
		if _, err := cron.ParseStandard(c.Server.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("server.schedule: %w", err))
		}
	}
	if c.Prometheus.QPS < 0 {
		errs = append(errs, fmt.Errorf("prometheus.qps: %w", errInvalid(c.Prometheus.QPS)))
	}
	if c.Audit.File != "" && c.Audit.Secret == "" {
		errs = append(errs, errors.New("audit.secret is required when audit.file is set"))
	}

	return errors.Join(errs...)
}

func errInvalid(v any) error {
	return fmt.Errorf("invalid value %v", v)
}

// EngineConfig is the forecast engine configuration
func (c *Config) EngineConfig() persephone.EngineConfig {
	return persephone.EngineConfig{
		SeasonLength: c.SeasonLength,
		Fallback:     persephone.FallbackPolicy(c.Fallback),
	}
}

// Thresholds are the configured tier cut points, used when no policy is stored
func (c *Config) Thresholds() themis.Thresholds {
	return themis.Thresholds{GreenYellow: c.Risk.GreenYellow, YellowRed: c.Risk.YellowRed}
}

func (c *Config) S3Store() erebus.S3Config {
	return erebus.S3Config{
		Endpoint:  c.S3.Endpoint,
		Region:    c.S3.Region,
		Bucket:    c.S3.Bucket,
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
	}
}
