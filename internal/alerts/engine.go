package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jkaberg/smartstick/internal/device"
)

const (
	// DefaultSOSClear is how long an SOS suppresses random alerts.
	DefaultSOSClear = 5 * time.Second

	alertP = 0.85 // draw above this produces an alert candidate

	fallDemoAX       = 15.5
	obstacleDemoDist = 350
)

// ObstacleSensor exposes the telemetry generator's proximity state.
type ObstacleSensor interface {
	ObstacleNear() bool
}

// Engine emits probabilistic device events and handles explicit SOS
// triggers. It never fails.
type Engine struct {
	mu        sync.Mutex
	rnd       device.Random
	clk       clock.Clock
	obstacle  ObstacleSensor
	rfid      *device.RFIDLatch
	sosClear  time.Duration
	sosActive bool
	sosTimer  *clock.Timer
	sosGen    uint64
	closed    bool
}

// NewEngine wires an engine to its random source, clock, proximity sensor and
// the RFID latch it shares with the generator.
func NewEngine(rnd device.Random, clk clock.Clock, obstacle ObstacleSensor, rfid *device.RFIDLatch, sosClear time.Duration) *Engine {
	if sosClear <= 0 {
		sosClear = DefaultSOSClear
	}
	return &Engine{
		rnd:      rnd,
		clk:      clk,
		obstacle: obstacle,
		rfid:     rfid,
		sosClear: sosClear,
	}
}

// Check runs one alert tick and reports whether an alert was produced.
//
// Buckets for the sub-draw s (only reached when the first draw exceeds 0.85):
//
//	[0, 0.25)    FALL
//	[0.25, 0.7)  OBSTACLE, only while an obstacle is near; otherwise nothing
//	[0.7, 0.95)  RFID
//	[0.95, 1]    nothing
func (e *Engine) Check() (device.Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sosActive {
		return device.Alert{}, false
	}
	if e.rnd.Float64() <= alertP {
		return device.Alert{}, false
	}

	now := e.clk.Now().UnixMilli()
	s := e.rnd.Float64()
	switch {
	case s < 0.25:
		return device.Alert{Type: device.AlertFall, TS: now, AX: device.Float(fallDemoAX)}, true
	case s < 0.7:
		// An OBSTACLE draw without a near obstacle is swallowed rather than
		// falling through to the RFID bucket.
		if !e.obstacle.ObstacleNear() {
			return device.Alert{}, false
		}
		dist := obstacleDemoDist
		return device.Alert{Type: device.AlertObstacle, TS: now, DistMm: &dist}, true
	case s < 0.95:
		uid := fmt.Sprintf("RFID_%04d", int(e.rnd.Float64()*1000))
		e.rfid.Set(uid)
		return device.Alert{Type: device.AlertRFID, TS: now, UID: uid}, true
	}
	return device.Alert{}, false
}

// TriggerSOS marks SOS active and schedules the automatic clear. Triggering
// again while active re-arms the clear timer.
func (e *Engine) TriggerSOS() device.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert := device.Alert{Type: device.AlertSOS, TS: e.clk.Now().UnixMilli()}
	if e.closed {
		return alert
	}
	e.sosActive = true
	if e.sosTimer != nil {
		e.sosTimer.Stop()
	}
	e.sosGen++
	gen := e.sosGen
	e.sosTimer = e.clk.AfterFunc(e.sosClear, func() { e.clearSOS(gen) })
	return alert
}

func (e *Engine) clearSOS(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// Ignore a stale timer that fired while being replaced or after Close.
	if e.closed || e.sosGen != gen {
		return
	}
	e.sosActive = false
	e.sosTimer = nil
}

// SOSActive reports whether an SOS is currently suppressing alerts.
func (e *Engine) SOSActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sosActive
}

// Close cancels a pending SOS clear. The engine's state is frozen afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.sosTimer != nil {
		e.sosTimer.Stop()
		e.sosTimer = nil
	}
}
