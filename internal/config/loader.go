package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Default values for Config.
const (
	DefaultThreshold              = 0.92
	MinThreshold                  = 0.88
	MaxThreshold                  = 0.97
	DefaultTimeoutSec             = 10.0
	DefaultRetries                = 2
	DefaultPollMS                 = 250
	DefaultMaxRecipientsPerRun    = 50
	DefaultDailyCap               = 200
	DefaultJumpCap                = 1000
	DefaultLogsDir                = ".autoa"
	DefaultAppWindow              = "LINE"
	DefaultDriverTimeoutSec       = 30.0
	DefaultConfigFile             = "autoa.yaml"
	EnvPrefix                     = "AUTOA"
	DefaultMaxConsecutiveFailures = 0
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Vision: Vision{
			DefaultThreshold: DefaultThreshold,
			TimeoutSec:       DefaultTimeoutSec,
			Retries:          DefaultRetries,
			PollMS:           DefaultPollMS,
		},
		Delays: Delays{
			ClickMS:        []int{60, 120},
			TypeMS:         []int{30, 80},
			RandomJitterMS: []int{0, 250},
		},
		Throttle: Throttle{
			MaxRecipientsPerRun: DefaultMaxRecipientsPerRun,
			MinIntervalSec:      []float64{2, 5},
			DailyCap:            DefaultDailyCap,
			MatchPolicy:         MatchIDThenName,
		},
		Logs: Logs{
			ScreenshotOnFail: true,
			Dir:              DefaultLogsDir,
			Level:            "warn",
		},
		Run: Run{
			JumpCap:                DefaultJumpCap,
			MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
			AppWindow:              DefaultAppWindow,
		},
		Driver: Driver{
			TimeoutSec: DefaultDriverTimeoutSec,
		},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("vision.default_threshold", d.Vision.DefaultThreshold)
	v.SetDefault("vision.timeout_sec", d.Vision.TimeoutSec)
	v.SetDefault("vision.retries", d.Vision.Retries)
	v.SetDefault("vision.poll_ms", d.Vision.PollMS)
	v.SetDefault("delays.click_ms", d.Delays.ClickMS)
	v.SetDefault("delays.type_ms", d.Delays.TypeMS)
	v.SetDefault("delays.random_jitter_ms", d.Delays.RandomJitterMS)
	v.SetDefault("throttle.max_recipients_per_run", d.Throttle.MaxRecipientsPerRun)
	v.SetDefault("throttle.min_interval_sec", d.Throttle.MinIntervalSec)
	v.SetDefault("throttle.daily_cap", d.Throttle.DailyCap)
	v.SetDefault("throttle.match_policy", d.Throttle.MatchPolicy)
	v.SetDefault("throttle.counter_key", "")
	v.SetDefault("logs.screenshot_on_fail", d.Logs.ScreenshotOnFail)
	v.SetDefault("logs.dir", d.Logs.Dir)
	v.SetDefault("logs.level", d.Logs.Level)
	v.SetDefault("run.max_duration_min", d.Run.MaxDurationMin)
	v.SetDefault("run.jump_cap", d.Run.JumpCap)
	v.SetDefault("run.max_consecutive_failures", d.Run.MaxConsecutiveFailures)
	v.SetDefault("run.seed", d.Run.Seed)
	v.SetDefault("run.app_window", d.Run.AppWindow)
	v.SetDefault("driver.command", d.Driver.Command)
	v.SetDefault("driver.timeout_sec", d.Driver.TimeoutSec)
	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
}

// LoadConfig reads and parses the config file at path.
// If the file doesn't exist, returns default config.
// AUTOA_<SECTION>_<KEY> environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	if cfg.Vision.DefaultThreshold < MinThreshold || cfg.Vision.DefaultThreshold > MaxThreshold {
		return ValidationError{Field: "vision.default_threshold", Message: fmt.Sprintf("must be between %.2f and %.2f", MinThreshold, MaxThreshold)}
	}
	if cfg.Vision.TimeoutSec <= 0 {
		return ValidationError{Field: "vision.timeout_sec", Message: "must be positive"}
	}
	if cfg.Vision.Retries < 0 {
		return ValidationError{Field: "vision.retries", Message: "must not be negative"}
	}
	if cfg.Vision.PollMS <= 0 {
		return ValidationError{Field: "vision.poll_ms", Message: "must be positive"}
	}
	if n := len(cfg.Vision.SearchRegion); n != 0 {
		if n != 4 {
			return ValidationError{Field: "vision.search_region", Message: "must be [x, y, width, height]"}
		}
		if cfg.Vision.SearchRegion[2] <= 0 || cfg.Vision.SearchRegion[3] <= 0 {
			return ValidationError{Field: "vision.search_region", Message: "width and height must be positive"}
		}
	}

	intRanges := map[string][]int{
		"delays.click_ms":         cfg.Delays.ClickMS,
		"delays.type_ms":          cfg.Delays.TypeMS,
		"delays.random_jitter_ms": cfg.Delays.RandomJitterMS,
	}
	for field, r := range intRanges {
		if len(r) != 2 || r[0] < 0 || r[0] > r[1] {
			return ValidationError{Field: field, Message: "must be [min, max] with 0 <= min <= max"}
		}
	}
	if r := cfg.Throttle.MinIntervalSec; len(r) != 2 || r[0] < 0 || r[0] > r[1] {
		return ValidationError{Field: "throttle.min_interval_sec", Message: "must be [min, max] with 0 <= min <= max"}
	}

	if cfg.Throttle.MaxRecipientsPerRun < 0 {
		return ValidationError{Field: "throttle.max_recipients_per_run", Message: "must not be negative"}
	}
	if cfg.Throttle.DailyCap < 0 {
		return ValidationError{Field: "throttle.daily_cap", Message: "must not be negative"}
	}
	switch cfg.Throttle.MatchPolicy {
	case MatchIDOnly, MatchIDThenName, MatchIDOrName:
	default:
		return ValidationError{Field: "throttle.match_policy", Message: fmt.Sprintf("unknown policy %q", cfg.Throttle.MatchPolicy)}
	}

	if cfg.Run.JumpCap <= 0 {
		return ValidationError{Field: "run.jump_cap", Message: "must be positive"}
	}
	if cfg.Run.MaxDurationMin < 0 {
		return ValidationError{Field: "run.max_duration_min", Message: "must not be negative"}
	}
	if cfg.Run.MaxConsecutiveFailures < 0 {
		return ValidationError{Field: "run.max_consecutive_failures", Message: "must not be negative"}
	}
	if cfg.Driver.TimeoutSec < 0 {
		return ValidationError{Field: "driver.timeout_sec", Message: "must not be negative"}
	}

	return nil
}

// LoadEnvFile reads <dir>/.env into a map of variable overrides.
// A missing file yields an empty map.
func LoadEnvFile(dir string) (map[string]string, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to stat env file: %w", err)
	}

	env, err := godotenv.Read(envPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse env file: %w", err)
	}
	return env, nil
}

// ParseVars parses "key=value" pairs as given on the command line.
func ParseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		idx := strings.Index(p, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("invalid variable %q: expected key=value", p)
		}
		vars[strings.TrimSpace(p[:idx])] = p[idx+1:]
	}
	return vars, nil
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
