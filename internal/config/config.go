// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	Adapter      string       `yaml:"adapter"`      // preferred hci device, e.g. "hci0"
	DeviceName   string       `yaml:"device_name"`  // advertised local name / adapter alias
	Manufacturer string       `yaml:"manufacturer"` // Device Information service
	Model        string       `yaml:"model"`
	USB          USBConfig    `yaml:"usb"`
	FIFOPath     string       `yaml:"fifo_path"`
	ReadyFlag    string       `yaml:"ready_flag"`
	Timing       TimingConfig `yaml:"timing"`
	QueueSize    int          `yaml:"queue_size"` // max buffered runes while no host is subscribed
	LogLevel     string       `yaml:"log_level"`
}

// USBConfig feeds the PnP ID characteristic.
type USBConfig struct {
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`
	Version   uint16 `yaml:"version"`
}

// TimingConfig holds the empirically tuned inter-frame delays. Common
// host stacks drop back-to-back notifications, so these are
// configuration, not constants.
type TimingConfig struct {
	PressHoldMs      int `yaml:"press_hold_ms"`      // press frame -> release frame
	ReleaseSettleMs  int `yaml:"release_settle_ms"`  // release frame -> next press
	RegisterRetrySec int `yaml:"register_retry_sec"` // interval between GATT registration attempts
}

// PressHold returns the press->release delay as a duration.
func (t TimingConfig) PressHold() time.Duration {
	return time.Duration(t.PressHoldMs) * time.Millisecond
}

// ReleaseSettle returns the release->next-press delay as a duration.
func (t TimingConfig) ReleaseSettle() time.Duration {
	return time.Duration(t.ReleaseSettleMs) * time.Millisecond
}

// RegisterRetry returns the registration retry interval as a duration.
func (t TimingConfig) RegisterRetry() time.Duration {
	return time.Duration(t.RegisterRetrySec) * time.Second
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	return "/etc/blekbd"
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Adapter:      "hci0",
		DeviceName:   "IPR Keyboard",
		Manufacturer: "IPR",
		Model:        "IPR Keyboard",
		USB: USBConfig{
			VendorID:  0x1209,
			ProductID: 0x0001,
			Version:   0x0100,
		},
		FIFOPath:  "/run/ipr_bt_keyboard_fifo",
		ReadyFlag: "/run/ipr_bt_keyboard_ready",
		Timing: TimingConfig{
			PressHoldMs:      12,
			ReleaseSettleMs:  8,
			RegisterRetrySec: 1,
		},
		QueueSize: 4096,
		LogLevel:  "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.FIFOPath = expandTilde(cfg.FIFOPath)
	cfg.ReadyFlag = expandTilde(cfg.ReadyFlag)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Adapter == "" {
		return fmt.Errorf("adapter must not be empty")
	}

	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}

	if c.FIFOPath == "" {
		return fmt.Errorf("fifo_path must not be empty")
	}

	if c.ReadyFlag == "" {
		return fmt.Errorf("ready_flag must not be empty")
	}

	if c.FIFOPath == c.ReadyFlag {
		return fmt.Errorf("fifo_path and ready_flag must differ")
	}

	if c.Timing.PressHoldMs <= 0 {
		return fmt.Errorf("timing.press_hold_ms must be > 0")
	}

	if c.Timing.ReleaseSettleMs <= 0 {
		return fmt.Errorf("timing.release_settle_ms must be > 0")
	}

	if c.Timing.RegisterRetrySec <= 0 {
		return fmt.Errorf("timing.register_retry_sec must be > 0")
	}

	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// SlogLevel maps the configured level string onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
