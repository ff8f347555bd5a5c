package history

import (
	"math"

	"github.com/jkaberg/smartstick/internal/device"
)

// Jitter tolerated by Changed.
const (
	distThreshold    = 50  // mm
	batteryThreshold = 1.0 // percent
)

// Changed returns true if cur differs from prev beyond sensor jitter. The
// timestamp and the IMU readings, which move on every sample, are ignored;
// a new RFID tag, a distance step or a battery step counts as a change.
func Changed(prev, cur *device.SensorSample) bool {
	if prev == nil && cur == nil {
		return false
	}
	if prev == nil || cur == nil {
		return true
	}

	if !sameTag(prev.RFID, cur.RFID) {
		return true
	}
	if abs(prev.DistMm-cur.DistMm) >= distThreshold {
		return true
	}
	return math.Abs(prev.Battery.Pct-cur.Battery.Pct) >= batteryThreshold
}

func sameTag(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
