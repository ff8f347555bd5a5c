package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Transport names accepted by the monitor.
const (
	TransportLocal    = "local"
	TransportWS       = "ws"
	TransportMQTT     = "mqtt"
	TransportLoopback = "loopback"
)

// Config holds all configuration options for the smartstick binary
type Config struct {
	// Device Configuration
	DeviceID string `yaml:"device_id"` // Identifies the stick on the MQTT link
	Seed     int64  `yaml:"seed"`      // Random seed for the simulator (0 = time based)

	// Application Configuration
	Verbose bool   `yaml:"verbose"`  // Enable verbose logging
	LogFile string `yaml:"log_file"` // Optional rotated log file

	// Link Configuration
	Transport string `yaml:"transport"` // local, ws, mqtt or loopback
	URL       string `yaml:"url"`       // WebSocket URL of a simulator host
	MQTTUrl   string `yaml:"mqtt_url"`  // MQTT broker URL (ws, wss, mqtt, mqtts)
	Listen    string `yaml:"listen"`    // Host HTTP listen address

	// Timing
	SensorPeriod   time.Duration `yaml:"sensor_period"`
	AlertPeriod    time.Duration `yaml:"alert_period"`
	SOSClearDelay  time.Duration `yaml:"sos_clear_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	StatusInterval time.Duration `yaml:"status_interval"`

	// Monitor
	HistorySize int           `yaml:"history_size"`
	Calibrate   time.Duration `yaml:"calibrate"` // Run a calibration of this length after connecting (0 = off)
	Notify      bool          `yaml:"notify"`    // Post Android notifications for alerts

	// Set holds device config fields to patch after connecting, keyed by
	// wire name (e.g. obstacle_threshold_mm).
	Set map[string]float64 `yaml:"set"`
}

// GetDefaultConfig returns a configuration with sensible defaults
func GetDefaultConfig() *Config {
	return &Config{
		DeviceID:       "smartstick",
		Transport:      TransportLocal,
		URL:            "ws://localhost:3001/simulator",
		Listen:         DefaultListen,
		SensorPeriod:   SensorPeriod,
		AlertPeriod:    AlertPeriod,
		SOSClearDelay:  SOSClearDelay,
		RequestTimeout: ConfigTimeout,
		StatusInterval: StatusInterval,
		HistorySize:    HistorySize,
	}
}

// Load builds a configuration from defaults, an optional YAML file and
// SMARTSTICK_* environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := GetDefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SMARTSTICK_DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("SMARTSTICK_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("SMARTSTICK_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("SMARTSTICK_MQTT_URL"); v != "" {
		cfg.MQTTUrl = v
	}
	if v := os.Getenv("SMARTSTICK_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("SMARTSTICK_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("SMARTSTICK_VERBOSE"); v != "" {
		cfg.Verbose = v == "true"
	}
	if v := os.Getenv("SMARTSTICK_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = seed
		}
	}
	if d, ok := envDuration("SMARTSTICK_SENSOR_PERIOD"); ok {
		cfg.SensorPeriod = d
	}
	if d, ok := envDuration("SMARTSTICK_ALERT_PERIOD"); ok {
		cfg.AlertPeriod = d
	}
	if d, ok := envDuration("SMARTSTICK_REQUEST_TIMEOUT"); ok {
		cfg.RequestTimeout = d
	}
}

// envDuration accepts Go durations ("200ms") or bare seconds ("5").
func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportLocal, TransportLoopback:
	case TransportWS:
		if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
			return fmt.Errorf("websocket URL must use ws:// or wss://")
		}
	case TransportMQTT:
		if c.MQTTUrl == "" {
			return fmt.Errorf("MQTT URL is required for the mqtt transport")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}

	// MQTT validation - support both WebSocket and standard MQTT protocols
	if c.MQTTUrl != "" {
		if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
			!strings.HasPrefix(c.MQTTUrl, "wss://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
			return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
		}
		if c.DeviceID == "" {
			return fmt.Errorf("device ID is required")
		}
	}

	// Set defaults for invalid values
	if c.SensorPeriod <= 0 {
		c.SensorPeriod = SensorPeriod
	}
	if c.AlertPeriod <= 0 {
		c.AlertPeriod = AlertPeriod
	}
	if c.SOSClearDelay <= 0 {
		c.SOSClearDelay = SOSClearDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = ConfigTimeout
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = StatusInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = HistorySize
	}
	return nil
}

// HasMQTT returns true if MQTT is configured
func (c *Config) HasMQTT() bool {
	return c.MQTTUrl != ""
}
