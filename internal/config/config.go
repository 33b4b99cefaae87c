// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Poll     PollConfig     `mapstructure:"poll"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	State    StateConfig    `mapstructure:"state"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Debug    DebugConfig    `mapstructure:"debug"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig identifies the watched site and the fetch behavior against it.
type SourceConfig struct {
	RootURL        string `mapstructure:"root_url"`
	ListURL        string `mapstructure:"list_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// Human-like delay bounds, in seconds, applied before each list fetch.
	FetchDelayMinSec float64 `mapstructure:"fetch_delay_min_seconds"`
	FetchDelayMaxSec float64 `mapstructure:"fetch_delay_max_seconds"`
	// Delay bounds after a fresh session warm-up.
	WarmupDelayMinSec float64 `mapstructure:"warmup_delay_min_seconds"`
	WarmupDelayMaxSec float64 `mapstructure:"warmup_delay_max_seconds"`
}

// PollConfig governs the scheduler loop and its failure policy.
type PollConfig struct {
	MinIntervalSeconds  int `mapstructure:"min_interval_seconds"`
	MaxIntervalSeconds  int `mapstructure:"max_interval_seconds"`
	MaxAttempts         int `mapstructure:"max_attempts"`
	RetryBaseSeconds    int `mapstructure:"retry_base_seconds"`
	MaxConsecutiveFails int `mapstructure:"max_consecutive_fails"`
	ReloadEveryCycles   int `mapstructure:"reload_every_cycles"`
	RestartAfterCycles  int `mapstructure:"restart_after_cycles"`
}

// MemoryConfig controls the memory-pressure watch.
type MemoryConfig struct {
	ThresholdMB      int `mapstructure:"threshold_mb"`
	CheckEveryCycles int `mapstructure:"check_every_cycles"`
}

// StateConfig sets the durable state and pid marker locations.
type StateConfig struct {
	Path    string `mapstructure:"path"`
	PIDPath string `mapstructure:"pid_path"`
}

// TelegramConfig overrides the credentials stored in the state file.
// Values set here win over the persisted ones.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// HeadlessConfig configures the browser-based challenge solver.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DebugConfig controls the optional ops HTTP listener.
type DebugConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NODEWATCH")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.root_url", "https://www.nodeseek.com")
	v.SetDefault("source.list_url", "https://www.nodeseek.com/?sortBy=postTime")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("source.timeout_seconds", 30)
	v.SetDefault("source.fetch_delay_min_seconds", 3.0)
	v.SetDefault("source.fetch_delay_max_seconds", 7.0)
	v.SetDefault("source.warmup_delay_min_seconds", 2.0)
	v.SetDefault("source.warmup_delay_max_seconds", 4.0)
	v.SetDefault("poll.min_interval_seconds", 30)
	v.SetDefault("poll.max_interval_seconds", 40)
	v.SetDefault("poll.max_attempts", 3)
	v.SetDefault("poll.retry_base_seconds", 10)
	v.SetDefault("poll.max_consecutive_fails", 5)
	v.SetDefault("poll.reload_every_cycles", 10)
	v.SetDefault("poll.restart_after_cycles", 10)
	v.SetDefault("memory.threshold_mb", 200)
	v.SetDefault("memory.check_every_cycles", 5)
	v.SetDefault("state.path", "nodewatch.json")
	v.SetDefault("state.pid_path", "nodewatch.pid")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("debug.listen_addr", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.RootURL == "" || c.Source.ListURL == "" {
		return fmt.Errorf("source.root_url and source.list_url must be set")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Poll.MinIntervalSeconds <= 0 || c.Poll.MaxIntervalSeconds < c.Poll.MinIntervalSeconds {
		return fmt.Errorf("poll interval bounds must satisfy 0 < min <= max")
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("poll.max_attempts must be > 0")
	}
	if c.Memory.ThresholdMB <= 0 {
		return fmt.Errorf("memory.threshold_mb must be > 0")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path must be set")
	}
	if c.Source.FetchDelayMaxSec < c.Source.FetchDelayMinSec {
		return fmt.Errorf("source fetch delay bounds must satisfy min <= max")
	}
	return nil
}

// FetchTimeout converts the source timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// RetryBase converts the retry base delay into a duration.
func (c Config) RetryBase() time.Duration {
	return time.Duration(c.Poll.RetryBaseSeconds) * time.Second
}
