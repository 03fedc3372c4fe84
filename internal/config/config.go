package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vehicle-telemetry/internal/analytics/domain/rolling"
)

// EnvConfigPath names the YAML file loaded by Load.
const EnvConfigPath = "TELEMETRY_CONFIG"

var (
	minLiveTick = 16 * time.Millisecond
	maxLiveTick = 50 * time.Millisecond
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Config is the pipeline configuration.
type Config struct {
	Source      SourceConfig      `yaml:"source"`
	Windows     WindowsConfig     `yaml:"windows"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Live        LiveConfig        `yaml:"live"`
	Storage     StorageConfig     `yaml:"storage"`
	Logbook     LogbookConfig     `yaml:"logbook"`
}

// SourceConfig selects the sensor stream.
type SourceConfig struct {
	Device           string        `yaml:"device"`
	Baud             int           `yaml:"baud"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	Simulate         bool          `yaml:"simulate"`
	SimulateFallback bool          `yaml:"simulate_fallback"`
	SimulateInterval time.Duration `yaml:"simulate_interval"`
}

// WindowConfig is the cadence and look-back of one window.
type WindowConfig struct {
	Interval time.Duration `yaml:"interval"`
	Duration time.Duration `yaml:"duration"`
}

// WindowsConfig holds both windows.
type WindowsConfig struct {
	Fast WindowConfig `yaml:"fast"`
	Slow WindowConfig `yaml:"slow"`
}

// AggregationConfig controls the scheduler loop.
type AggregationConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
}

// LiveConfig controls the broadcaster.
type LiveConfig struct {
	Tick      time.Duration `yaml:"tick"`
	QueueSize int           `yaml:"queue_size"`
}

// StorageConfig controls writes at the storage boundary. Omitted means are
// stored as MissingValue unless NullForMissing is set.
type StorageConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MissingValue   float64       `yaml:"missing_value"`
	NullForMissing bool          `yaml:"null_for_missing"`
}

// LogbookConfig controls the raw log recorder. A zero interval disables it.
type LogbookConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Source: SourceConfig{
			Device:           "/dev/serial0",
			Baud:             115200,
			RetryInterval:    2 * time.Second,
			DialTimeout:      5 * time.Second,
			SimulateFallback: true,
			SimulateInterval: 200 * time.Millisecond,
		},
		Windows: WindowsConfig{
			Fast: WindowConfig{Interval: time.Second, Duration: time.Second},
			Slow: WindowConfig{Interval: 10 * time.Second, Duration: 10 * time.Second},
		},
		Aggregation: AggregationConfig{CheckInterval: 100 * time.Millisecond},
		Live:        LiveConfig{Tick: 33 * time.Millisecond, QueueSize: 16},
		Storage:     StorageConfig{WriteTimeout: 5 * time.Second},
		Logbook:     LogbookConfig{Interval: 5 * time.Second},
	}
}

// Load reads the file named by TELEMETRY_CONFIG, if any, then applies
// environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv(EnvConfigPath))
}

// LoadFile reads path (empty means defaults only), then applies environment
// overrides, fills defaults and validates.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Specs returns the window specs with the fixed field groups.
func (c Config) Specs() []rolling.Spec {
	return []rolling.Spec{
		{Window: rolling.WindowFast, Interval: c.Windows.Fast.Interval, Duration: c.Windows.Fast.Duration, Fields: rolling.FastFields},
		{Window: rolling.WindowSlow, Interval: c.Windows.Slow.Interval, Duration: c.Windows.Slow.Duration, Fields: rolling.SlowFields},
	}
}

// MissingValue returns the value stored for omitted means, nil for NULL.
func (c Config) MissingValue() *float64 {
	if c.Storage.NullForMissing {
		return nil
	}
	value := c.Storage.MissingValue
	return &value
}

func (c *Config) applyEnv() error {
	if value := os.Getenv("SERIAL_DEVICE"); value != "" {
		c.Source.Device = value
	}
	if value := os.Getenv("SERIAL_BAUD"); value != "" {
		baud, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: SERIAL_BAUD: %v", ErrInvalidConfig, err)
		}
		c.Source.Baud = baud
	}
	if value := os.Getenv("SIMULATE"); value != "" {
		simulate, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: SIMULATE: %v", ErrInvalidConfig, err)
		}
		c.Source.Simulate = simulate
	}
	for key, target := range map[string]*time.Duration{
		"SOURCE_RETRY_INTERVAL": &c.Source.RetryInterval,
		"LIVE_TICK":             &c.Live.Tick,
		"STORAGE_WRITE_TIMEOUT": &c.Storage.WriteTimeout,
		"LOGBOOK_INTERVAL":      &c.Logbook.Interval,
	} {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
		*target = parsed
	}
	// set but empty means NULL
	if value, ok := os.LookupEnv("STORAGE_MISSING_VALUE"); ok {
		value = strings.TrimSpace(value)
		if value == "" {
			c.Storage.NullForMissing = true
		} else {
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("%w: STORAGE_MISSING_VALUE: %v", ErrInvalidConfig, err)
			}
			c.Storage.MissingValue = parsed
			c.Storage.NullForMissing = false
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	defaults := Default()
	if c.Source.Device == "" {
		c.Source.Device = defaults.Source.Device
	}
	if c.Source.Baud == 0 {
		c.Source.Baud = defaults.Source.Baud
	}
	if c.Source.RetryInterval == 0 {
		c.Source.RetryInterval = defaults.Source.RetryInterval
	}
	if c.Source.DialTimeout == 0 {
		c.Source.DialTimeout = defaults.Source.DialTimeout
	}
	if c.Source.SimulateInterval == 0 {
		c.Source.SimulateInterval = defaults.Source.SimulateInterval
	}
	if c.Aggregation.CheckInterval == 0 {
		c.Aggregation.CheckInterval = defaults.Aggregation.CheckInterval
	}
	if c.Live.Tick == 0 {
		c.Live.Tick = defaults.Live.Tick
	}
	if c.Live.QueueSize == 0 {
		c.Live.QueueSize = defaults.Live.QueueSize
	}
	if c.Storage.WriteTimeout == 0 {
		c.Storage.WriteTimeout = defaults.Storage.WriteTimeout
	}
}

func (c Config) validate() error {
	if c.Source.Baud < 0 {
		return fmt.Errorf("%w: source.baud must be positive", ErrInvalidConfig)
	}
	if c.Source.RetryInterval < 0 || c.Source.DialTimeout < 0 || c.Source.SimulateInterval < 0 {
		return fmt.Errorf("%w: source durations must be positive", ErrInvalidConfig)
	}
	for _, spec := range c.Specs() {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("%w: windows.%s: %v", ErrInvalidConfig, spec.Window, err)
		}
	}
	if c.Aggregation.CheckInterval < 0 {
		return fmt.Errorf("%w: aggregation.check_interval must be positive", ErrInvalidConfig)
	}
	if c.Live.Tick < minLiveTick || c.Live.Tick > maxLiveTick {
		return fmt.Errorf("%w: live.tick must be between %s and %s", ErrInvalidConfig, minLiveTick, maxLiveTick)
	}
	if c.Live.QueueSize < 0 {
		return fmt.Errorf("%w: live.queue_size must be positive", ErrInvalidConfig)
	}
	if c.Storage.WriteTimeout < 0 {
		return fmt.Errorf("%w: storage.write_timeout must be positive", ErrInvalidConfig)
	}
	if c.Logbook.Interval < 0 {
		return fmt.Errorf("%w: logbook.interval must not be negative", ErrInvalidConfig)
	}
	return nil
}
