package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jkaberg/smartstick/internal/device"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) (*LocalSession, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	s := NewLocal(LocalOptions{Clock: mock, Seed: 42}, logger)
	t.Cleanup(func() { _ = s.Disconnect() })
	return s, mock
}

func TestLocal_NotConnected(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()

	_, err := s.ReadConfig(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = s.UpdateConfig(ctx, device.ConfigPatch{})
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = s.StartCalibration(ctx, time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, s.TriggerSOS(ctx), ErrNotConnected)
	assert.NoError(t, s.Disconnect())
}

func TestLocal_ConfigRoundTrip(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Connect(ctx), "second connect is a no-op")

	before, err := s.ReadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, device.DefaultConfig(), before)

	res, err := s.UpdateConfig(ctx, device.ConfigPatch{ObstacleThresholdMm: device.Float(500)})
	require.NoError(t, err)
	assert.True(t, res.OK)

	after, err := s.ReadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Config, after)
	assert.Equal(t, 500.0, after.ObstacleThresholdMm)
	assert.Equal(t, before.FallAxThreshold, after.FallAxThreshold)
}

func TestLocal_TelemetryStream(t *testing.T) {
	s, mock := newTestLocal(t)
	var samples atomic.Int64
	var lastTS atomic.Int64
	s.SubscribeSensor(func(sample device.SensorSample) {
		samples.Add(1)
		lastTS.Store(sample.TS)
	})
	require.NoError(t, s.Connect(context.Background()))

	require.Eventually(t, func() bool {
		mock.Add(200 * time.Millisecond)
		return samples.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, lastTS.Load(), mock.Now().UnixMilli())

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	assert.False(t, s.Connected())

	stopped := samples.Load()
	mock.Add(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, samples.Load(), "no samples after disconnect")
}

func TestLocal_AlertsArrive(t *testing.T) {
	s, mock := newTestLocal(t)
	var got atomic.Int64
	s.SubscribeAlerts(func(a device.Alert) {
		if a.Type != device.AlertSOS {
			got.Add(1)
		}
	})
	require.NoError(t, s.Connect(context.Background()))

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return got.Load() > 0
	}, 3*time.Second, 5*time.Millisecond)
}

func TestLocal_TriggerSOS(t *testing.T) {
	s, _ := newTestLocal(t)
	alerts := make(chan device.Alert, 4)
	unsubscribe := s.SubscribeAlerts(func(a device.Alert) { alerts <- a })
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.TriggerSOS(context.Background()))
	select {
	case a := <-alerts:
		assert.Equal(t, device.AlertSOS, a.Type)
	case <-time.After(time.Second):
		t.Fatal("SOS not published")
	}

	unsubscribe()
	require.NoError(t, s.TriggerSOS(context.Background()))
	select {
	case a := <-alerts:
		t.Fatalf("unexpected alert after unsubscribe: %v", a)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLocal_Calibration(t *testing.T) {
	s, mock := newTestLocal(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	res, err := s.StartCalibration(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, device.CalibrationActive, res.Status)

	require.Eventually(t, func() bool {
		mock.Add(200 * time.Millisecond)
		st, err := s.CalibrationStatus(ctx)
		return err == nil && st.Status == device.CalibrationComplete
	}, 2*time.Second, 5*time.Millisecond)

	first, err := s.StopCalibration(ctx)
	require.NoError(t, err)
	second, err := s.StopCalibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Greater(t, first.PeakAcceleration, 0.0)
}

func TestLocal_ReconnectStartsFresh(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	_, err := s.UpdateConfig(ctx, device.ConfigPatch{BLETxPower: device.Float(3)})
	require.NoError(t, err)
	require.NoError(t, s.Disconnect())

	require.NoError(t, s.Connect(ctx))
	cfg, err := s.ReadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, device.DefaultConfig(), cfg)
}
