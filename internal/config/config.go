package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Universe   []string `mapstructure:"universe"`
	Database   DatabaseConfig
	Oracle     OracleConfig
	Feed       FeedConfig
	Scoring    ScoringConfig
	Consensus  ConsensusConfig
	Resolution ResolutionConfig
	Metrics    MetricsConfig
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string `mapstructure:"dbname"`
}

// URL builds a postgres connection string from the settings.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
}

// OracleConfig defines settings for the external price oracle client.
type OracleConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RequestsPerSec  int           `mapstructure:"requests_per_sec"`
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed"`
}

// FeedConfig defines settings for the websocket price feed.
type FeedConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// ScoringConfig defines the accuracy scoring settings.
type ScoringConfig struct {
	DecayFactor     float64 `mapstructure:"decay_factor"`
	MaxLookbackDays int     `mapstructure:"max_lookback_days"`
}

// ConsensusConfig defines the consensus weighting policy.
type ConsensusConfig struct {
	MinResolved       int    `mapstructure:"min_resolved"`
	EqualMethod       string `mapstructure:"equal_method"`
	FallbackWeight    string `mapstructure:"fallback_weight"`
	MarketPriceSource string `mapstructure:"market_price_source"`
}

// ResolutionConfig defines the resolution batch job settings.
type ResolutionConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	Workers        int           `mapstructure:"workers"`
	SnapshotWindow time.Duration `mapstructure:"snapshot_window"`
}

// MetricsConfig defines the prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool
	Addr    string
	Path    string
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("scoring.decay_factor", 0.95)
	viper.SetDefault("scoring.max_lookback_days", 365)
	viper.SetDefault("consensus.min_resolved", 20)
	viper.SetDefault("consensus.equal_method", "mean")
	viper.SetDefault("consensus.fallback_weight", "neutral")
	viper.SetDefault("consensus.market_price_source", "snapshot")
	viper.SetDefault("resolution.interval", 5*time.Minute)
	viper.SetDefault("resolution.workers", 4)
	viper.SetDefault("resolution.snapshot_window", 30*time.Minute)
	viper.SetDefault("oracle.request_timeout", 10*time.Second)
	viper.SetDefault("oracle.requests_per_sec", 5)
	viper.SetDefault("oracle.max_retry_elapsed", 30*time.Second)
	viper.SetDefault("feed.snapshot_interval", time.Minute)
	viper.SetDefault("metrics.path", "/metrics")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	err = config.Validate()
	return
}

// Validate checks the policy settings that have a closed set of values.
func (c *Config) Validate() error {
	if len(c.Universe) == 0 {
		return fmt.Errorf("universe cannot be empty")
	}
	switch c.Consensus.EqualMethod {
	case "mean", "trimmed":
	default:
		return fmt.Errorf("consensus.equal_method must be 'mean' or 'trimmed', got '%s'", c.Consensus.EqualMethod)
	}
	switch c.Consensus.FallbackWeight {
	case "neutral", "half_median":
	default:
		return fmt.Errorf("consensus.fallback_weight must be 'neutral' or 'half_median', got '%s'", c.Consensus.FallbackWeight)
	}
	switch c.Consensus.MarketPriceSource {
	case "snapshot", "live":
	default:
		return fmt.Errorf("consensus.market_price_source must be 'snapshot' or 'live', got '%s'", c.Consensus.MarketPriceSource)
	}
	if c.Scoring.DecayFactor <= 0 || c.Scoring.DecayFactor > 1 {
		return fmt.Errorf("scoring.decay_factor must be in (0,1], got %v", c.Scoring.DecayFactor)
	}
	if c.Resolution.Workers < 1 {
		return fmt.Errorf("resolution.workers must be >= 1, got %d", c.Resolution.Workers)
	}
	return nil
}
