package config

import "time"

// Central place for all application-wide timing constants and other defaults.
// Changing a value here immediately affects all components that import
// github.com/jkaberg/smartstick/internal/config.

const (
	// Producer periods
	SensorPeriod = 200 * time.Millisecond // Telemetry sample cadence
	AlertPeriod  = 1 * time.Second        // Alert engine cadence

	// Deferred actions / round-trips
	SOSClearDelay      = 5 * time.Second // SOS auto-clear
	ConfigTimeout      = 5 * time.Second // Remote request/response round-trip
	CalibrationDefault = 5 * time.Second // Recording window when none is given
	DialTimeout        = 5 * time.Second // Link establishment

	// Monitor
	HistorySize    = 50               // Rolling telemetry window
	StatusInterval = 10 * time.Second // Periodic status log line

	// Host
	DefaultListen   = ":3001"
	SensorLogEvery  = 25 // Log every Nth forwarded sensor frame
	ShutdownTimeout = 5 * time.Second
)
