package device

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_PatchKeepsAbsentFields(t *testing.T) {
	s := NewConfigStore(DefaultConfig())

	res := s.Update(ConfigPatch{ObstacleThresholdMm: Float(500)})
	require.True(t, res.OK)
	assert.Equal(t, 500.0, res.ObstacleThresholdMm)

	got := s.Get()
	assert.Equal(t, 200.0, got.SensorPeriodMs)
	assert.Equal(t, 500.0, got.ObstacleThresholdMm)
	assert.Equal(t, 0.96, got.FallAxThreshold)
	assert.Equal(t, 7.0, got.BLETxPower)
}

func TestConfigStore_EmptyPatchIsNoop(t *testing.T) {
	s := NewConfigStore(DefaultConfig())
	res := s.Update(ConfigPatch{})
	require.True(t, res.OK)
	assert.Equal(t, DefaultConfig(), res.Config)
}

func TestConfigPatch_DecodeIgnoresUnknownAndNull(t *testing.T) {
	var p ConfigPatch
	raw := `{"sensor_period_ms":250,"fall_ax_threshold":null,"colour":"red"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	require.NotNil(t, p.SensorPeriodMs)
	assert.Equal(t, 250.0, *p.SensorPeriodMs)
	assert.Nil(t, p.FallAxThreshold)

	merged := p.Apply(DefaultConfig())
	assert.Equal(t, 250.0, merged.SensorPeriodMs)
	assert.Equal(t, 0.96, merged.FallAxThreshold)
}

func TestConfigResult_EncodesFlat(t *testing.T) {
	b, err := json.Marshal(ConfigResult{OK: true, Config: DefaultConfig()})
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, true, m["ok"])
	assert.Equal(t, 800.0, m["obstacle_threshold_mm"])
	assert.NotContains(t, m, "err")
	assert.NotContains(t, m, "Config")
}

func TestConfigStore_ConcurrentUpdates(t *testing.T) {
	s := NewConfigStore(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Update(ConfigPatch{FallStillnessMs: Float(float64(300 + i))})
			_ = s.Get()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 200.0, s.Get().SensorPeriodMs)
}

func TestValidatePatch(t *testing.T) {
	require.NoError(t, ValidatePatch(ConfigPatch{SensorPeriodMs: Float(500), BLETxPower: Float(-12)}))

	err := ValidatePatch(ConfigPatch{ObstacleThresholdMm: Float(100)})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "obstacle_threshold_mm", verr.Field)
	assert.Equal(t, 200.0, verr.Min)

	require.Error(t, ValidatePatch(ConfigPatch{FallMotionThreshold: Float(1.5)}))
}

func TestConfigPatch_SetField(t *testing.T) {
	var p ConfigPatch
	require.True(t, p.SetField("ble_tx_power", 3))
	require.False(t, p.SetField("volume", 3))
	require.NotNil(t, p.BLETxPower)
	assert.Equal(t, 3.0, *p.BLETxPower)
	assert.False(t, p.Empty())
}

func TestRFIDLatch(t *testing.T) {
	var l RFIDLatch
	assert.Nil(t, l.Get())
	l.Set("RFID_0042")
	got := l.Get()
	require.NotNil(t, got)
	assert.Equal(t, "RFID_0042", *got)
}

func TestSensorSample_NullRFID(t *testing.T) {
	b, err := json.Marshal(SensorSample{TS: 1})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"rfid":null`)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.8, Round(0.8000001, 2))
	assert.Equal(t, 1.235, Round(1.23456, 3))
}
