package config

import "time"

// Vision configures template matching for locate-based steps.
type Vision struct {
	DefaultThreshold float64 `mapstructure:"default_threshold" yaml:"default_threshold"`
	TimeoutSec       float64 `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	Retries          int     `mapstructure:"retries" yaml:"retries"`
	PollMS           int     `mapstructure:"poll_ms" yaml:"poll_ms"`
	SearchRegion     []int   `mapstructure:"search_region" yaml:"search_region,omitempty"` // nil or [x, y, w, h]
}

// Delays holds humanization jitter ranges, each [min, max] in milliseconds.
type Delays struct {
	ClickMS        []int `mapstructure:"click_ms" yaml:"click_ms"`
	TypeMS         []int `mapstructure:"type_ms" yaml:"type_ms"`
	RandomJitterMS []int `mapstructure:"random_jitter_ms" yaml:"random_jitter_ms"`
}

// Throttle limits how many recipients are processed and how fast.
type Throttle struct {
	MaxRecipientsPerRun int       `mapstructure:"max_recipients_per_run" yaml:"max_recipients_per_run"`
	MinIntervalSec      []float64 `mapstructure:"min_interval_sec" yaml:"min_interval_sec"`
	DailyCap            int       `mapstructure:"daily_cap" yaml:"daily_cap"`
	MatchPolicy         string    `mapstructure:"match_policy" yaml:"match_policy"`
	CounterKey          string    `mapstructure:"counter_key" yaml:"counter_key,omitempty"`
}

// Logs configures log verbosity and evidence capture.
type Logs struct {
	ScreenshotOnFail bool   `mapstructure:"screenshot_on_fail" yaml:"screenshot_on_fail"`
	Dir              string `mapstructure:"dir" yaml:"dir"`
	Level            string `mapstructure:"level" yaml:"level"`
}

// Run holds run-level safety limits.
type Run struct {
	MaxDurationMin         float64 `mapstructure:"max_duration_min" yaml:"max_duration_min"`
	JumpCap                int     `mapstructure:"jump_cap" yaml:"jump_cap"`
	MaxConsecutiveFailures int     `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	Seed                   int64   `mapstructure:"seed" yaml:"seed"`
	AppWindow              string  `mapstructure:"app_window" yaml:"app_window"`
}

// Driver selects the capability driver.
type Driver struct {
	Command    string   `mapstructure:"command" yaml:"command"`
	Args       []string `mapstructure:"args" yaml:"args,omitempty"`
	TimeoutSec float64  `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// Telemetry toggles the metrics exporter.
type Telemetry struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Config represents the autoa.yaml file.
type Config struct {
	Vision    Vision    `mapstructure:"vision" yaml:"vision"`
	Delays    Delays    `mapstructure:"delays" yaml:"delays"`
	Throttle  Throttle  `mapstructure:"throttle" yaml:"throttle"`
	Logs      Logs      `mapstructure:"logs" yaml:"logs"`
	Run       Run       `mapstructure:"run" yaml:"run"`
	Driver    Driver    `mapstructure:"driver" yaml:"driver"`
	Telemetry Telemetry `mapstructure:"telemetry" yaml:"telemetry"`
}

// VisionTimeout returns vision.timeout_sec as a duration.
func (c *Config) VisionTimeout() time.Duration {
	return seconds(c.Vision.TimeoutSec)
}

// PollInterval returns vision.poll_ms as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Vision.PollMS) * time.Millisecond
}

// MaxDuration returns the run wall-clock budget, zero when disabled.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Run.MaxDurationMin * float64(time.Minute))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Match policy values for throttle.match_policy.
const (
	MatchIDOnly     = "id_only"
	MatchIDThenName = "id_then_name"
	MatchIDOrName   = "id_or_name"
)
