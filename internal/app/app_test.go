package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jkaberg/smartstick/internal/config"
	"github.com/jkaberg/smartstick/internal/device"
	"github.com/jkaberg/smartstick/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(title, content string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *recordingNotifier) has(title string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.titles {
		if t == title {
			return true
		}
	}
	return false
}

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.SensorPeriod = 5 * time.Millisecond
	cfg.AlertPeriod = 10 * time.Millisecond
	cfg.StatusInterval = 20 * time.Millisecond
	cfg.HistorySize = 10
	return cfg
}

func newLocal(cfg *config.Config, logger *logrus.Logger) *session.LocalSession {
	return session.NewLocal(session.LocalOptions{
		Seed:         3,
		SensorPeriod: cfg.SensorPeriod,
		AlertPeriod:  cfg.AlertPeriod,
	}, logger)
}

func hasMessage(hook *test.Hook, msg string) func() bool {
	return func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == msg {
				return true
			}
		}
		return false
	}
}

func TestBuildPatch(t *testing.T) {
	patch, err := BuildPatch(map[string]float64{"obstacle_threshold_mm": 500, "ble_tx_power": -3})
	require.NoError(t, err)
	require.NotNil(t, patch.ObstacleThresholdMm)
	assert.Equal(t, 500.0, *patch.ObstacleThresholdMm)
	assert.Equal(t, -3.0, *patch.BLETxPower)
	assert.Nil(t, patch.FallAxThreshold)

	_, err = BuildPatch(map[string]float64{"warp_factor": 9})
	assert.ErrorContains(t, err, "warp_factor")

	_, err = BuildPatch(map[string]float64{"obstacle_threshold_mm": 10})
	var verr *device.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRun_MonitorsUntilCancelled(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	cfg := testConfig()
	cfg.Set = map[string]float64{"obstacle_threshold_mm": 500}
	cfg.Calibrate = 30 * time.Millisecond

	sess := newLocal(cfg, logger)
	notifier := &recordingNotifier{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, sess, notifier, logger) }()

	require.Eventually(t, sess.Connected, time.Second, 5*time.Millisecond)
	require.Eventually(t, hasMessage(hook, "Config updated"), time.Second, 5*time.Millisecond)
	got, err := sess.ReadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500.0, got.ObstacleThresholdMm)

	require.NoError(t, sess.TriggerSOS(context.Background()))
	require.Eventually(t, func() bool { return notifier.has("SOS Alert!") }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return hasMessage(hook, "Calibration complete")() ||
			hasMessage(hook, "Calibration complete, no impact recorded")()
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, hasMessage(hook, "Stick status"), time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, sess.Connected())
}

func TestRun_InvalidPatchFailsBeforeConnecting(t *testing.T) {
	logger := logrus.New()
	cfg := testConfig()
	cfg.Set = map[string]float64{"fall_ax_threshold": 99}
	sess := newLocal(cfg, logger)

	err := Run(context.Background(), cfg, sess, nil, logger)
	var verr *device.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "fall_ax_threshold", verr.Field)
	assert.False(t, sess.Connected())
}

// lostSession reports a dropped link after connecting.
type lostSession struct {
	*session.LocalSession
}

func (lostSession) Connected() bool { return false }

func TestRun_ReturnsWhenSessionIsLost(t *testing.T) {
	logger := logrus.New()
	cfg := testConfig()
	sess := lostSession{newLocal(cfg, logger)}

	err := Run(context.Background(), cfg, sess, nil, logger)
	assert.ErrorIs(t, err, session.ErrDisconnected)
}
