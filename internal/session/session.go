// Package session exposes a smart stick as a uniform capability set, backed
// either by an in-process simulator (LocalSession) or by a framed link to a
// remote simulator host (RemoteSession).
package session

import (
	"context"
	"errors"
	"time"

	"github.com/jkaberg/smartstick/internal/device"
)

// Session is the capability surface shared by both backends. Every session
// is single-consumer and owns all of its state; nothing is shared between
// sessions.
type Session interface {
	// Connect establishes the session and starts its producers.
	Connect(ctx context.Context) error
	// Disconnect stops producers and cancels pending deferred work before
	// returning. It is idempotent and never reports a peer-initiated close
	// as an error.
	Disconnect() error
	Connected() bool

	SubscribeSensor(fn func(device.SensorSample)) (unsubscribe func())
	SubscribeAlerts(fn func(device.Alert)) (unsubscribe func())

	ReadConfig(ctx context.Context) (device.Config, error)
	UpdateConfig(ctx context.Context, patch device.ConfigPatch) (device.ConfigResult, error)

	StartCalibration(ctx context.Context, d time.Duration) (device.CalibrationResult, error)
	StopCalibration(ctx context.Context) (device.CalibrationResult, error)
	CalibrationStatus(ctx context.Context) (device.CalibrationResult, error)

	TriggerSOS(ctx context.Context) error
}

var (
	// ErrConnection means the transport is unreachable or the device was not
	// found. Fatal to the connect attempt; not retried.
	ErrConnection = errors.New("connection error")
	// ErrTimeout means a request/response round-trip did not complete in time.
	ErrTimeout = errors.New("request timed out")
	// ErrProtocol marks a malformed or schema-violating message.
	ErrProtocol = errors.New("protocol error")
	// ErrNotConnected is returned by operations on a session that is not connected.
	ErrNotConnected = errors.New("session not connected")
	// ErrDisconnected resolves a pending request whose session went away.
	ErrDisconnected = errors.New("session disconnected")
)
