package device

import "fmt"

// ValidationError reports a configuration value outside the range the stick
// firmware accepts.
type ValidationError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s=%g out of range [%g, %g]", e.Field, e.Value, e.Min, e.Max)
}

type fieldRange struct {
	name     string
	min, max float64
	get      func(ConfigPatch) *float64
}

// Firmware limits (Config::validate on the stick).
var ranges = []fieldRange{
	{"sensor_period_ms", 100, 1000, func(p ConfigPatch) *float64 { return p.SensorPeriodMs }},
	{"obstacle_threshold_mm", 200, 2000, func(p ConfigPatch) *float64 { return p.ObstacleThresholdMm }},
	{"fall_ax_threshold", 0.5, 5.0, func(p ConfigPatch) *float64 { return p.FallAxThreshold }},
	{"fall_motion_threshold", 0.1, 1.0, func(p ConfigPatch) *float64 { return p.FallMotionThreshold }},
	{"fall_stillness_ms", 200, 5000, func(p ConfigPatch) *float64 { return p.FallStillnessMs }},
	{"ble_tx_power", -12, 9, func(p ConfigPatch) *float64 { return p.BLETxPower }},
}

// ValidatePatch range-checks every field present in p. It is meant for the
// editing boundary (CLI, UI); the session core accepts any value.
func ValidatePatch(p ConfigPatch) error {
	for _, r := range ranges {
		v := r.get(p)
		if v == nil {
			continue
		}
		if *v < r.min || *v > r.max {
			return &ValidationError{Field: r.name, Value: *v, Min: r.min, Max: r.max}
		}
	}
	return nil
}

// SetField sets the patch field named by its wire name. It returns false for
// unknown names.
func (p *ConfigPatch) SetField(name string, v float64) bool {
	switch name {
	case "sensor_period_ms":
		p.SensorPeriodMs = &v
	case "obstacle_threshold_mm":
		p.ObstacleThresholdMm = &v
	case "fall_ax_threshold":
		p.FallAxThreshold = &v
	case "fall_motion_threshold":
		p.FallMotionThreshold = &v
	case "fall_stillness_ms":
		p.FallStillnessMs = &v
	case "ble_tx_power":
		p.BLETxPower = &v
	default:
		return false
	}
	return true
}
