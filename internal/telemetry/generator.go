package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jkaberg/smartstick/internal/device"
)

// Signal shape of the simulated stick.
const (
	gravity        = 9.8  // resting z-axis acceleration
	walkStep       = 0.2  // radians per sample while walking
	gyroPhaseRatio = 0.8  // gyro tilt phase relative to walkCycle
	walkingP       = 0.3  // draw above this means walking (P=0.7)
	obstacleP      = 0.5  // draw above this puts an obstacle in range
	obstacleClearP = 0.3  // second draw above this clears a near obstacle
	farBaseMm      = 1500 // centre of the far-range distance band
	farSpreadMm    = 500

	batteryStart = 85.0
	batteryDrain = 0.0001 // percent per sample
	batteryFloor = 20.0
	batteryCeil  = 100.0
)

// WalkState is the phase accumulator driving the gait signal. WalkCycle only
// advances while walking and is never reset within a session.
type WalkState struct {
	Walking   bool
	WalkCycle float64
}

// Generator synthesises one SensorSample per sensor period. It never fails.
type Generator struct {
	mu           sync.Mutex
	rnd          device.Random
	clk          clock.Clock
	rfid         *device.RFIDLatch
	walk         WalkState
	obstacleNear bool
	battery      float64
	elapsed      time.Duration
}

// Option tweaks a Generator at construction.
type Option func(*Generator)

// WithBattery sets the starting state of charge, clamped to [20, 100].
func WithBattery(pct float64) Option {
	return func(g *Generator) {
		g.battery = math.Min(batteryCeil, math.Max(batteryFloor, pct))
	}
}

// NewGenerator creates a generator drawing from rnd and stamping samples
// with clk. rfid is the latch shared with the alert engine.
func NewGenerator(rnd device.Random, clk clock.Clock, rfid *device.RFIDLatch, opts ...Option) *Generator {
	g := &Generator{
		rnd:     rnd,
		clk:     clk,
		rfid:    rfid,
		battery: batteryStart,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next advances the simulation by one sensor period and returns the sample.
func (g *Generator) Next(period time.Duration) device.SensorSample {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.elapsed += period

	// No debouncing: each sample redraws the gait state independently.
	g.walk.Walking = g.rnd.Float64() > walkingP

	ax, ay, az := g.accel()
	gx, gy, gz := g.gyro()
	dist := g.distance()

	g.battery = math.Max(batteryFloor, g.battery-batteryDrain)
	pct := math.Round(g.battery)

	return device.SensorSample{
		TS: g.clk.Now().UnixMilli(),
		IMU: device.IMU{
			AX: device.Round(ax, 2),
			AY: device.Round(ay, 2),
			AZ: device.Round(az, 2),
			GX: device.Round(gx, 1),
			GY: device.Round(gy, 1),
			GZ: device.Round(gz, 1),
		},
		DistMm: dist,
		RFID:   g.rfid.Get(),
		Battery: device.Battery{
			V:   device.Round(3.7+(g.battery/100)*0.5, 2),
			Pct: pct,
		},
	}
}

func (g *Generator) accel() (x, y, z float64) {
	if g.walk.Walking {
		g.walk.WalkCycle += walkStep
		step := math.Sin(g.walk.WalkCycle)
		return 0.1 + step*0.3, 0.05 + math.Abs(step)*0.2, gravity + step*0.5
	}
	return g.noise(0.1), g.noise(0.1), gravity + g.noise(0.2)
}

func (g *Generator) gyro() (x, y, z float64) {
	if g.walk.Walking {
		tilt := math.Sin(g.walk.WalkCycle * gyroPhaseRatio)
		return tilt * 15, g.noise(5), g.noise(3)
	}
	return g.noise(2), g.noise(2), g.noise(1)
}

// distance applies obstacle hysteresis: a near obstacle persists until a
// second independent draw clears it.
func (g *Generator) distance() int {
	if g.rnd.Float64() > obstacleP {
		g.obstacleNear = true
		return int(math.Floor(300 + g.rnd.Float64()*400))
	}
	if g.obstacleNear && g.rnd.Float64() > obstacleClearP {
		g.obstacleNear = false
	}
	if g.obstacleNear {
		return int(math.Floor(400 + g.rnd.Float64()*300))
	}
	return int(math.Floor(farBaseMm + g.noise(farSpreadMm)))
}

// noise returns a uniform value in [-amp/2, amp/2).
func (g *Generator) noise(amp float64) float64 {
	return (g.rnd.Float64() - 0.5) * amp
}

// ObstacleNear reports the current hysteresis state.
func (g *Generator) ObstacleNear() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.obstacleNear
}

// State returns the gait accumulator.
func (g *Generator) State() WalkState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.walk
}

// Elapsed is the simulated time covered by all samples so far.
func (g *Generator) Elapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.elapsed
}
