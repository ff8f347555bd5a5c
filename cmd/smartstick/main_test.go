package main

import (
	"context"
	"testing"
	"time"

	"github.com/jkaberg/smartstick/internal/config"
	"github.com/jkaberg/smartstick/internal/device"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSet(t *testing.T) {
	set, err := parseSet([]string{"obstacle_threshold_mm=500", " ble_tx_power = -3 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"obstacle_threshold_mm": 500, "ble_tx_power": -3}, set)

	for _, bad := range []string{"novalue", "=5", "x=abc"} {
		_, err := parseSet([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestBuildSession_Loopback(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Transport = config.TransportLoopback
	cfg.SensorPeriod = 10 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second

	sess, release, err := buildSession(cfg, logrus.New())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, sess.Connect(ctx))

	res, err := sess.UpdateConfig(ctx, device.ConfigPatch{FallStillnessMs: device.Float(900)})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 900.0, res.FallStillnessMs)

	require.NoError(t, sess.Disconnect())
	release()
}

func TestBuildSession_UnknownTransport(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Transport = "carrier-pigeon"
	_, _, err := buildSession(cfg, logrus.New())
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, setupLogger(true, "").GetLevel())
	assert.Equal(t, logrus.InfoLevel, setupLogger(false, "").GetLevel())
}
