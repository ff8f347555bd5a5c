package calibration

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jkaberg/smartstick/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(m *Machine, clk *clock.Mock, mags ...float64) {
	for _, g := range mags {
		m.Update(0, 0, g)
		clk.Add(200 * time.Millisecond)
	}
}

func TestMachine_ImpactThenStillness(t *testing.T) {
	clk := clock.NewMock()
	m := NewMachine(clk)
	m.Start(5 * time.Second)

	feed(m, clk, 0.9, 2.0, 0.3, 0.1, 0.1)
	m.Stop()

	rec := m.Snapshot()
	assert.Equal(t, Complete, rec.State)
	assert.True(t, rec.PeakDetected)
	assert.InDelta(t, 2.0, rec.PeakAcceleration, 1e-9)
	assert.InDelta(t, 0.1, rec.MinMotion, 1e-9)

	res := m.Results()
	assert.Equal(t, device.CalibrationComplete, res.Status)
	assert.Equal(t, 2.0, res.PeakAcceleration)
	assert.Equal(t, 2.0, res.PeakAZ)
	assert.Equal(t, 0.1, res.MinMotion)
	require.NotNil(t, res.SuggestedImpactThreshold)
	require.NotNil(t, res.SuggestedMotionThreshold)
	assert.InDelta(t, 0.80, *res.SuggestedImpactThreshold, 1e-9)
	assert.InDelta(t, 0.12, *res.SuggestedMotionThreshold, 1e-9)
}

func TestMachine_StopIsIdempotent(t *testing.T) {
	m := NewMachine(clock.NewMock())
	m.Start(time.Second)

	m.Stop()
	assert.Equal(t, device.CalibrationComplete, m.Results().Status)
	m.Stop()
	assert.Equal(t, device.CalibrationComplete, m.Results().Status)
}

func TestMachine_IgnoresUpdatesWhenIdle(t *testing.T) {
	m := NewMachine(clock.NewMock())
	m.Update(3, 3, 3)
	m.Stop()

	res := m.Results()
	assert.Equal(t, device.CalibrationIdle, res.Status)
	assert.Zero(t, res.PeakAcceleration)
	assert.Zero(t, res.MinMotion)
	assert.Nil(t, res.SuggestedImpactThreshold)
}

func TestMachine_TimesOutOnNextSample(t *testing.T) {
	clk := clock.NewMock()
	m := NewMachine(clk)
	m.Start(time.Second)

	feed(m, clk, 0.5, 0.5, 0.5, 0.5, 0.5) // t = 0 .. 800ms
	assert.Equal(t, Recording, m.State())

	// t = 1000ms: expiry is detected and this sample is not recorded.
	m.Update(0, 0, 3.0)
	assert.Equal(t, Complete, m.State())
	assert.Equal(t, 0.5, m.Results().PeakAcceleration)

	m.Update(0, 0, 4.0)
	assert.Equal(t, 0.5, m.Results().PeakAcceleration)
}

func TestMachine_NoSuggestionsWithoutSpike(t *testing.T) {
	clk := clock.NewMock()
	m := NewMachine(clk)
	m.Start(time.Second)
	feed(m, clk, 1.0, 1.2, 0.8)
	m.Stop()

	res := m.Results()
	assert.Equal(t, device.CalibrationComplete, res.Status)
	assert.Equal(t, 1.2, res.PeakAcceleration)
	assert.Zero(t, res.MinMotion)
	assert.Nil(t, res.SuggestedImpactThreshold)
	assert.Nil(t, res.SuggestedMotionThreshold)
}

func TestMachine_RecordingReportsActive(t *testing.T) {
	clk := clock.NewMock()
	m := NewMachine(clk)
	m.Start(0) // falls back to the default window
	assert.Equal(t, DefaultDuration, m.Snapshot().Duration)

	feed(m, clk, 2.5)
	res := m.Results()
	assert.Equal(t, device.CalibrationActive, res.Status)
	assert.Nil(t, res.SuggestedImpactThreshold, "suggestions only once complete")
}

func TestMachine_RestartClearsAccumulators(t *testing.T) {
	clk := clock.NewMock()
	m := NewMachine(clk)
	m.Start(time.Second)
	feed(m, clk, 3.0, 0.2)
	m.Stop()

	m.Start(time.Second)
	rec := m.Snapshot()
	assert.Equal(t, Recording, rec.State)
	assert.Zero(t, rec.PeakAcceleration)
	assert.False(t, rec.PeakDetected)

	m.Reset()
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, "idle", m.State().String())
}
