package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jkaberg/smartstick/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted replays fixed draws, then repeats the fallback value.
type scripted struct {
	draws    []float64
	fallback float64
}

func (s *scripted) Float64() float64 {
	if len(s.draws) == 0 {
		return s.fallback
	}
	v := s.draws[0]
	s.draws = s.draws[1:]
	return v
}

const period = 200 * time.Millisecond

func TestGenerator_BatteryBoundedAndNonIncreasing(t *testing.T) {
	g := NewGenerator(device.NewRandom(42), clock.NewMock(), &device.RFIDLatch{}, WithBattery(20.00015))

	prev := 101.0
	for i := 0; i < 5000; i++ {
		s := g.Next(period)
		require.GreaterOrEqual(t, s.Battery.Pct, 20.0)
		require.LessOrEqual(t, s.Battery.Pct, 100.0)
		require.LessOrEqual(t, s.Battery.Pct, prev)
		prev = s.Battery.Pct
	}
	assert.Equal(t, 20.0, prev)
	assert.Equal(t, 5000*period, g.Elapsed())
}

func TestGenerator_BatteryCeiling(t *testing.T) {
	g := NewGenerator(device.NewRandom(1), clock.NewMock(), &device.RFIDLatch{}, WithBattery(150))
	s := g.Next(period)
	assert.Equal(t, 100.0, s.Battery.Pct)
	assert.Equal(t, 4.2, s.Battery.V)
}

func TestGenerator_WalkingAdvancesCycle(t *testing.T) {
	// walking draw, then gyro gy/gz, then distance far (0.2) + spread (0.5)
	rnd := &scripted{draws: []float64{0.9, 0.5, 0.5, 0.2, 0.5}}
	g := NewGenerator(rnd, clock.NewMock(), &device.RFIDLatch{})

	s := g.Next(period)
	st := g.State()
	require.True(t, st.Walking)
	assert.InDelta(t, 0.2, st.WalkCycle, 1e-9)

	step := math.Sin(0.2)
	assert.Equal(t, device.Round(0.1+step*0.3, 2), s.IMU.AX)
	assert.Equal(t, device.Round(0.05+math.Abs(step)*0.2, 2), s.IMU.AY)
	assert.Equal(t, device.Round(9.8+step*0.5, 2), s.IMU.AZ)
	assert.Equal(t, device.Round(math.Sin(0.2*0.8)*15, 1), s.IMU.GX)
	assert.Equal(t, 0.0, s.IMU.GY)
	assert.Equal(t, 1500, s.DistMm)
}

func TestGenerator_IdleKeepsCycle(t *testing.T) {
	rnd := &scripted{draws: []float64{0.9}, fallback: 0.1}
	g := NewGenerator(rnd, clock.NewMock(), &device.RFIDLatch{})
	g.Next(period) // walking
	cycle := g.State().WalkCycle

	for i := 0; i < 10; i++ {
		s := g.Next(period) // fallback 0.1 => not walking
		assert.InDelta(t, 9.8, s.IMU.AZ, 0.1)
		assert.InDelta(t, 0, s.IMU.AX, 0.05)
	}
	assert.False(t, g.State().Walking)
	assert.Equal(t, cycle, g.State().WalkCycle)
}

func TestGenerator_ObstacleHysteresis(t *testing.T) {
	idle := []float64{0.1, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5} // not walking + 6 noise draws
	draws := func(dist ...float64) []float64 {
		return append(append([]float64{}, idle...), dist...)
	}

	var all []float64
	all = append(all, draws(0.9, 0.5)...)      // near: 300 + 0.5*400
	all = append(all, draws(0.4, 0.2, 0.0)...) // near stays (clear draw 0.2 <= 0.3)
	all = append(all, draws(0.4, 0.9, 0.5)...) // cleared, far range
	all = append(all, draws(0.4, 0.5)...)      // still far, no clear draw consumed

	g := NewGenerator(&scripted{draws: all}, clock.NewMock(), &device.RFIDLatch{})

	s := g.Next(period)
	assert.Equal(t, 500, s.DistMm)
	assert.True(t, g.ObstacleNear())

	s = g.Next(period)
	assert.Equal(t, 400, s.DistMm)
	assert.True(t, g.ObstacleNear())

	s = g.Next(period)
	assert.Equal(t, 1500, s.DistMm)
	assert.False(t, g.ObstacleNear())

	s = g.Next(period)
	assert.Equal(t, 1500, s.DistMm)
	assert.False(t, g.ObstacleNear())
}

func TestGenerator_DistanceRanges(t *testing.T) {
	g := NewGenerator(device.NewRandom(7), clock.NewMock(), &device.RFIDLatch{})
	for i := 0; i < 2000; i++ {
		s := g.Next(period)
		if g.ObstacleNear() {
			require.GreaterOrEqual(t, s.DistMm, 300)
			require.Less(t, s.DistMm, 700)
		} else {
			require.GreaterOrEqual(t, s.DistMm, 1250)
			require.Less(t, s.DistMm, 1750)
		}
	}
}

func TestGenerator_MirrorsRFIDAndClock(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	latch := &device.RFIDLatch{}
	g := NewGenerator(device.NewRandom(3), clk, latch)

	s := g.Next(period)
	assert.Nil(t, s.RFID)
	assert.Equal(t, int64(1_700_000_000_000), s.TS)

	latch.Set("RFID_0123")
	s = g.Next(period)
	require.NotNil(t, s.RFID)
	assert.Equal(t, "RFID_0123", *s.RFID)
}

func TestGenerator_SeededIsReproducible(t *testing.T) {
	a := NewGenerator(device.NewRandom(99), clock.NewMock(), &device.RFIDLatch{})
	b := NewGenerator(device.NewRandom(99), clock.NewMock(), &device.RFIDLatch{})
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Next(period), b.Next(period))
	}
}
