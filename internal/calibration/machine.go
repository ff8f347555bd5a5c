package calibration

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jkaberg/smartstick/internal/device"
)

const (
	// DefaultDuration is the recording window when a start command omits one.
	DefaultDuration = 5 * time.Second

	// SpikeThreshold is the magnitude (g) that counts as an impact.
	SpikeThreshold = 1.5

	restingG     = 1.0
	impactMargin = 0.8
	motionMargin = 1.2
	minSentinel  = 999.0
)

// State of the calibration machine.
type State int

const (
	Idle State = iota
	Recording
	Complete
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Complete:
		return "complete"
	default:
		return "idle"
	}
}

// Record is the raw accumulator of one calibration run.
type Record struct {
	State            State
	StartTime        time.Time
	Duration         time.Duration
	PeakAcceleration float64
	PeakAX           float64
	PeakAY           float64
	PeakAZ           float64
	MinMotion        float64
	PeakDetected     bool
}

// Machine records an impact spike and the stillness that follows it, then
// derives suggested fall thresholds. Invalid calls are ignored; it never
// fails.
type Machine struct {
	mu  sync.Mutex
	clk clock.Clock
	rec Record
}

// NewMachine returns an idle machine timed by clk.
func NewMachine(clk clock.Clock) *Machine {
	return &Machine{clk: clk, rec: Record{MinMotion: minSentinel}}
}

// Start resets all accumulators and begins recording for d.
func (m *Machine) Start(d time.Duration) {
	if d <= 0 {
		d = DefaultDuration
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = Record{
		State:     Recording,
		StartTime: m.clk.Now(),
		Duration:  d,
		MinMotion: minSentinel,
	}
}

// Update feeds one acceleration sample. Expiry is checked here rather than by
// a timer, so a run ends at most one sample period late.
func (m *Machine) Update(ax, ay, az float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rec.State != Recording {
		return
	}
	if m.clk.Since(m.rec.StartTime) >= m.rec.Duration {
		m.rec.State = Complete
		return
	}

	mag := math.Sqrt(ax*ax + ay*ay + az*az)
	if mag > m.rec.PeakAcceleration {
		m.rec.PeakAcceleration = mag
		m.rec.PeakAX, m.rec.PeakAY, m.rec.PeakAZ = ax, ay, az
		if mag > SpikeThreshold {
			m.rec.PeakDetected = true
		}
	}
	// Stillness only counts once the impact has been seen.
	if m.rec.PeakDetected && mag < m.rec.MinMotion {
		m.rec.MinMotion = mag
	}
}

// Stop ends a recording run. Calling it when not recording does nothing.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec.State == Recording {
		m.rec.State = Complete
	}
}

// Reset returns the machine to idle and discards the last run.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = Record{MinMotion: minSentinel}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.State
}

// Snapshot returns the raw accumulator.
func (m *Machine) Snapshot() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// Results reports the run in wire form. Suggested thresholds are present
// only for a completed run that saw an impact.
func (m *Machine) Results() device.CalibrationResult {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()

	res := device.CalibrationResult{
		Status:           wireStatus(rec.State),
		PeakAcceleration: device.Round(rec.PeakAcceleration, 3),
		PeakAX:           device.Round(rec.PeakAX, 3),
		PeakAY:           device.Round(rec.PeakAY, 3),
		PeakAZ:           device.Round(rec.PeakAZ, 3),
	}
	if rec.MinMotion < minSentinel {
		res.MinMotion = device.Round(rec.MinMotion, 3)
	}
	if rec.State == Complete && rec.PeakAcceleration > SpikeThreshold {
		res.SuggestedImpactThreshold = device.Float(device.Round((rec.PeakAcceleration-restingG)*impactMargin, 2))
		res.SuggestedMotionThreshold = device.Float(device.Round(rec.MinMotion*motionMargin, 2))
	}
	return res
}

func wireStatus(s State) device.CalibrationStatus {
	switch s {
	case Recording:
		return device.CalibrationActive
	case Complete:
		return device.CalibrationComplete
	default:
		return device.CalibrationIdle
	}
}
