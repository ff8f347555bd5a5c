package device

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Config holds the stick's runtime thresholds. Every field always carries a
// value; partial updates go through ConfigPatch.
type Config struct {
	SensorPeriodMs      float64 `json:"sensor_period_ms"`      // Sensor sampling period
	ObstacleThresholdMm float64 `json:"obstacle_threshold_mm"` // Obstacle alert distance
	FallAxThreshold     float64 `json:"fall_ax_threshold"`     // Impact threshold in g
	FallMotionThreshold float64 `json:"fall_motion_threshold"` // Stillness threshold in g
	FallStillnessMs     float64 `json:"fall_stillness_ms"`     // Duration to confirm a fall
	BLETxPower          float64 `json:"ble_tx_power"`          // Radio transmit power (dBm)
}

// DefaultConfig returns the configuration a freshly connected simulator starts with.
func DefaultConfig() Config {
	return Config{
		SensorPeriodMs:      200,
		ObstacleThresholdMm: 800,
		FallAxThreshold:     0.96,
		FallMotionThreshold: 1.22,
		FallStillnessMs:     300,
		BLETxPower:          7,
	}
}

// ConfigPatch is a merge-patch over Config. A nil field is absent and keeps
// the current value. JSON null decodes to nil and unknown keys are ignored.
type ConfigPatch struct {
	SensorPeriodMs      *float64 `json:"sensor_period_ms,omitempty"`
	ObstacleThresholdMm *float64 `json:"obstacle_threshold_mm,omitempty"`
	FallAxThreshold     *float64 `json:"fall_ax_threshold,omitempty"`
	FallMotionThreshold *float64 `json:"fall_motion_threshold,omitempty"`
	FallStillnessMs     *float64 `json:"fall_stillness_ms,omitempty"`
	BLETxPower          *float64 `json:"ble_tx_power,omitempty"`
}

// Empty reports whether the patch carries no fields at all.
func (p ConfigPatch) Empty() bool {
	return p.SensorPeriodMs == nil && p.ObstacleThresholdMm == nil &&
		p.FallAxThreshold == nil && p.FallMotionThreshold == nil &&
		p.FallStillnessMs == nil && p.BLETxPower == nil
}

// Apply returns c with every present field of p replacing the old value.
func (p ConfigPatch) Apply(c Config) Config {
	if p.SensorPeriodMs != nil {
		c.SensorPeriodMs = *p.SensorPeriodMs
	}
	if p.ObstacleThresholdMm != nil {
		c.ObstacleThresholdMm = *p.ObstacleThresholdMm
	}
	if p.FallAxThreshold != nil {
		c.FallAxThreshold = *p.FallAxThreshold
	}
	if p.FallMotionThreshold != nil {
		c.FallMotionThreshold = *p.FallMotionThreshold
	}
	if p.FallStillnessMs != nil {
		c.FallStillnessMs = *p.FallStillnessMs
	}
	if p.BLETxPower != nil {
		c.BLETxPower = *p.BLETxPower
	}
	return c
}

// ConfigResult is the reply to a config read/patch. The embedded Config is
// encoded flat: {"ok":true,"sensor_period_ms":200,...}. OK=false signals a
// protocol-level rejection such as an unparsable payload.
type ConfigResult struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
	Config
}

// IMU is one accelerometer + gyroscope reading.
type IMU struct {
	AX float64 `json:"ax"`
	AY float64 `json:"ay"`
	AZ float64 `json:"az"`
	GX float64 `json:"gx"`
	GY float64 `json:"gy"`
	GZ float64 `json:"gz"`
}

// Battery reports pack voltage and state of charge.
type Battery struct {
	V   float64 `json:"v"`
	Pct float64 `json:"pct"`
}

// SensorSample is a single telemetry frame.
type SensorSample struct {
	TS      int64   `json:"ts"` // Unix milliseconds
	IMU     IMU     `json:"imu"`
	DistMm  int     `json:"dist_mm"`
	RFID    *string `json:"rfid"` // null until the first tag scan
	Battery Battery `json:"battery"`
}

// AlertType tags an Alert.
type AlertType string

const (
	AlertFall     AlertType = "FALL"
	AlertObstacle AlertType = "OBSTACLE"
	AlertRFID     AlertType = "RFID"
	AlertSOS      AlertType = "SOS"
)

// Alert is a discrete device event. Only the payload matching Type is set.
type Alert struct {
	Type   AlertType `json:"type"`
	TS     int64     `json:"ts"`
	AX     *float64  `json:"ax,omitempty"`      // FALL
	DistMm *int      `json:"dist_mm,omitempty"` // OBSTACLE
	UID    string    `json:"uid,omitempty"`     // RFID
}

// CalibrationStatus is the wire name of the calibration state.
type CalibrationStatus string

const (
	CalibrationIdle     CalibrationStatus = "idle"
	CalibrationActive   CalibrationStatus = "active"
	CalibrationComplete CalibrationStatus = "complete"
)

// CalibrationResult is the calibration notification payload.
type CalibrationResult struct {
	Status                   CalibrationStatus `json:"status"`
	PeakAcceleration         float64           `json:"peak_acceleration"`
	MinMotion                float64           `json:"min_motion"`
	PeakAX                   float64           `json:"peak_ax"`
	PeakAY                   float64           `json:"peak_ay"`
	PeakAZ                   float64           `json:"peak_az"`
	SuggestedImpactThreshold *float64          `json:"suggested_impact_threshold,omitempty"`
	SuggestedMotionThreshold *float64          `json:"suggested_motion_threshold,omitempty"`
}

// Calibration command names.
const (
	CalibrationCmdStart  = "start"
	CalibrationCmdStop   = "stop"
	CalibrationCmdStatus = "status"
)

// CalibrationCommand is sent by a client to drive the calibration machine.
type CalibrationCommand struct {
	Cmd        string `json:"cmd"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
}

// Duration returns the requested recording window, or def when absent.
func (c CalibrationCommand) Duration(def time.Duration) time.Duration {
	if c.DurationMs == nil || *c.DurationMs <= 0 {
		return def
	}
	return time.Duration(*c.DurationMs) * time.Millisecond
}

// RFIDLatch holds the last RFID tag seen. The alert engine writes it and the
// telemetry generator mirrors it into every sample.
type RFIDLatch struct {
	mu   sync.RWMutex
	last *string
}

// Set records uid as the most recent tag.
func (l *RFIDLatch) Set(uid string) {
	l.mu.Lock()
	l.last = &uid
	l.mu.Unlock()
}

// Get returns the last tag or nil before the first scan.
func (l *RFIDLatch) Get() *string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return nil
	}
	v := *l.last
	return &v
}

// Random is the uniform [0,1) source behind every simulated draw.
// *math/rand.Rand satisfies it; tests substitute scripted sequences.
type Random interface {
	Float64() float64
}

// NewRandom returns a seeded source. A zero seed picks one from the wall clock.
func NewRandom(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Float returns a pointer to v, for optional payload fields.
func Float(v float64) *float64 { return &v }
