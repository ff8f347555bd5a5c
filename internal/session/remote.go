package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jkaberg/smartstick/internal/bus"
	"github.com/jkaberg/smartstick/internal/config"
	"github.com/jkaberg/smartstick/internal/device"
	"github.com/jkaberg/smartstick/internal/link"
	"github.com/sirupsen/logrus"
)

// RemoteSession talks to a simulator host over a framed link. Responses are
// correlated by message type, so at most one round-trip is in flight.
type RemoteSession struct {
	dialer  link.Dialer
	clk     clock.Clock
	timeout time.Duration
	logger  *logrus.Logger

	sensors *bus.Bus[device.SensorSample]
	alerts  *bus.Bus[device.Alert]

	// reqMu serialises round-trips.
	reqMu sync.Mutex

	mu         sync.Mutex
	connected  bool
	conn       link.Conn
	stop       chan struct{}
	readerDone chan struct{}
	pending    *waiter
}

// waiter is a single pending round-trip.
type waiter struct {
	msgType string
	decode  func(link.Envelope) error
	timer   *clock.Timer
	done    chan struct{}
	err     error
	once    sync.Once
}

func (w *waiter) resolve(err error) {
	w.once.Do(func() {
		w.err = err
		if w.timer != nil {
			w.timer.Stop()
		}
		close(w.done)
	})
}

// NewRemote creates a disconnected RemoteSession. A nil clock means wall
// time; a non-positive timeout means config.ConfigTimeout.
func NewRemote(dialer link.Dialer, clk clock.Clock, timeout time.Duration, logger *logrus.Logger) *RemoteSession {
	if clk == nil {
		clk = clock.New()
	}
	if timeout <= 0 {
		timeout = config.ConfigTimeout
	}
	return &RemoteSession{
		dialer:  dialer,
		clk:     clk,
		timeout: timeout,
		logger:  logger,
		sensors: bus.New[device.SensorSample](),
		alerts:  bus.New[device.Alert](),
	}
}

// Connect dials the device and starts the reader. A failed dial is not
// retried.
func (s *RemoteSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to dial device: %w: %w", ErrConnection, err)
	}

	s.conn = conn
	s.stop = make(chan struct{})
	s.readerDone = make(chan struct{})
	s.connected = true
	go s.read(conn, s.stop, s.readerDone)

	s.logger.Info("Remote session connected")
	return nil
}

// eventBuffer bounds stream events decoded but not yet handed to subscribers.
const eventBuffer = 64

// read decodes frames and resolves round-trips. Stream events go to a
// separate delivery goroutine, so a subscriber may itself make a round-trip.
func (s *RemoteSession) read(conn link.Conn, stop <-chan struct{}, done chan<- struct{}) {
	events := make(chan func(), eventBuffer)
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for fn := range events {
			fn()
		}
	}()
	defer func() {
		close(events)
		<-delivered
		close(done)
	}()

	emit := func(fn func()) {
		select {
		case events <- fn:
		case <-stop:
		}
	}
	for {
		select {
		case <-stop:
			return
		case frame := <-conn.Frames():
			s.dispatch(frame, emit)
		case <-conn.Done():
			s.drain(conn, emit)
			if s.teardown(conn) {
				s.logger.Info("Link closed by peer")
			}
			return
		}
	}
}

// drain handles frames that were queued before the link closed.
func (s *RemoteSession) drain(conn link.Conn, emit func(func())) {
	for {
		select {
		case frame := <-conn.Frames():
			s.dispatch(frame, emit)
		default:
			return
		}
	}
}

func (s *RemoteSession) dispatch(frame []byte, emit func(func())) {
	env, err := link.Decode(frame)
	if err != nil {
		s.logger.WithError(fmt.Errorf("%w: %w", ErrProtocol, err)).Warn("Dropping frame")
		return
	}

	switch env.Type {
	case link.TypeSensorData:
		var sample device.SensorSample
		if err := env.Payload(&sample); err != nil {
			s.logger.WithError(fmt.Errorf("%w: %w", ErrProtocol, err)).Warn("Dropping sensor frame")
			return
		}
		emit(func() { s.sensors.Publish(sample) })
	case link.TypeAlert:
		var alert device.Alert
		if err := env.Payload(&alert); err != nil {
			s.logger.WithError(fmt.Errorf("%w: %w", ErrProtocol, err)).Warn("Dropping alert frame")
			return
		}
		emit(func() { s.alerts.Publish(alert) })
	case link.TypeConfig, link.TypeConfigResponse, link.TypeCalibration:
		s.deliver(env)
	default:
		s.logger.WithField("type", env.Type).Debug("Ignoring unexpected message type")
	}
}

// deliver hands a response to the pending waiter if it wants this type.
// The waiter is cleared before it resolves, so a second match is dropped.
func (s *RemoteSession) deliver(env link.Envelope) {
	s.mu.Lock()
	w := s.pending
	if w == nil || w.msgType != env.Type {
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{"type": env.Type, "id": env.ID}).Debug("Dropping unsolicited response")
		return
	}
	if err := w.decode(env); err != nil {
		s.mu.Unlock()
		s.logger.WithError(fmt.Errorf("%w: %w", ErrProtocol, err)).Warn("Dropping response")
		return
	}
	s.pending = nil
	s.mu.Unlock()
	w.resolve(nil)
}

// teardown marks the session disconnected if conn is still current and
// fails the pending waiter. It reports whether anything changed.
func (s *RemoteSession) teardown(conn link.Conn) bool {
	s.mu.Lock()
	if !s.connected || s.conn != conn {
		s.mu.Unlock()
		return false
	}
	s.connected = false
	w := s.pending
	s.pending = nil
	s.mu.Unlock()

	_ = conn.Close()
	if w != nil {
		w.resolve(ErrDisconnected)
	}
	return true
}

// Disconnect fails any pending round-trip with ErrDisconnected, closes the
// link and waits for the reader and any running subscriber callback.
// Callbacks must not call it synchronously.
func (s *RemoteSession) Disconnect() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	conn, stop, readerDone, w := s.conn, s.stop, s.readerDone, s.pending
	s.pending = nil
	s.mu.Unlock()

	if w != nil {
		w.resolve(ErrDisconnected)
	}
	close(stop)
	err := conn.Close()
	<-readerDone

	s.logger.Info("Remote session disconnected")
	if err != nil && !errors.Is(err, link.ErrClosed) {
		s.logger.WithError(err).Debug("Error closing link")
	}
	return nil
}

// Connected reports whether the link is up.
func (s *RemoteSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SubscribeSensor registers fn for every sensorData frame.
func (s *RemoteSession) SubscribeSensor(fn func(device.SensorSample)) func() {
	return s.sensors.Subscribe(fn)
}

// SubscribeAlerts registers fn for every alert frame.
func (s *RemoteSession) SubscribeAlerts(fn func(device.Alert)) func() {
	return s.alerts.Subscribe(fn)
}

// roundTrip sends frame and waits for the next response of type want,
// which decode consumes.
func (s *RemoteSession) roundTrip(ctx context.Context, want string, frame []byte, decode func(link.Envelope) error) error {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	w := &waiter{msgType: want, decode: decode, done: make(chan struct{})}
	w.timer = s.clk.Timer(s.timeout)
	s.pending = w
	s.mu.Unlock()

	if err := conn.Send(ctx, frame); err != nil {
		s.abandon(w)
		if errors.Is(err, link.ErrClosed) {
			return fmt.Errorf("failed to send request: %w", ErrDisconnected)
		}
		return fmt.Errorf("failed to send request: %w: %w", ErrConnection, err)
	}

	select {
	case <-w.done:
		return w.err
	case <-w.timer.C:
		if s.abandon(w) {
			w.resolve(ErrTimeout)
		}
	case <-ctx.Done():
		if s.abandon(w) {
			w.resolve(ctx.Err())
		}
	}
	// Either abandon won, or the waiter was resolved concurrently.
	<-w.done
	if errors.Is(w.err, ErrTimeout) {
		return fmt.Errorf("no %s within %s: %w", want, s.timeout, ErrTimeout)
	}
	return w.err
}

// abandon deregisters w if it is still pending.
func (s *RemoteSession) abandon(w *waiter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != w {
		return false
	}
	s.pending = nil
	w.timer.Stop()
	return true
}

// ReadConfig sends getConfig and waits for the config notification.
func (s *RemoteSession) ReadConfig(ctx context.Context) (device.Config, error) {
	frame, err := link.Encode(link.TypeGetConfig, link.NewID(), nil)
	if err != nil {
		return device.Config{}, err
	}
	var cfg device.Config
	err = s.roundTrip(ctx, link.TypeConfig, frame, func(env link.Envelope) error {
		return env.Payload(&cfg)
	})
	return cfg, err
}

// UpdateConfig sends a merge patch. A rejection by the device is returned
// as a result with OK false, not as an error.
func (s *RemoteSession) UpdateConfig(ctx context.Context, patch device.ConfigPatch) (device.ConfigResult, error) {
	frame, err := link.EncodeConfigPatch(link.NewID(), patch)
	if err != nil {
		return device.ConfigResult{}, err
	}
	var res device.ConfigResult
	err = s.roundTrip(ctx, link.TypeConfigResponse, frame, func(env link.Envelope) error {
		return env.Payload(&res)
	})
	if err == nil && !res.OK {
		s.logger.WithField("err", res.Err).Warn("Device rejected config update")
	}
	return res, err
}

func (s *RemoteSession) calibration(ctx context.Context, cmd device.CalibrationCommand) (device.CalibrationResult, error) {
	frame, err := link.Encode(link.TypeCalibration, link.NewID(), cmd)
	if err != nil {
		return device.CalibrationResult{}, err
	}
	var res device.CalibrationResult
	err = s.roundTrip(ctx, link.TypeCalibration, frame, func(env link.Envelope) error {
		var r device.CalibrationResult
		if err := env.Payload(&r); err != nil {
			return err
		}
		if r.Status == "" {
			return fmt.Errorf("%w: calibration without status", link.ErrMalformed)
		}
		res = r
		return nil
	})
	return res, err
}

// StartCalibration starts a recording run of length d on the device.
func (s *RemoteSession) StartCalibration(ctx context.Context, d time.Duration) (device.CalibrationResult, error) {
	ms := d.Milliseconds()
	return s.calibration(ctx, device.CalibrationCommand{Cmd: device.CalibrationCmdStart, DurationMs: &ms})
}

// StopCalibration stops the device's recording run.
func (s *RemoteSession) StopCalibration(ctx context.Context) (device.CalibrationResult, error) {
	return s.calibration(ctx, device.CalibrationCommand{Cmd: device.CalibrationCmdStop})
}

// CalibrationStatus asks the device for its current results.
func (s *RemoteSession) CalibrationStatus(ctx context.Context) (device.CalibrationResult, error) {
	return s.calibration(ctx, device.CalibrationCommand{Cmd: device.CalibrationCmdStatus})
}

// TriggerSOS asks the device to raise an SOS. The alert itself arrives on
// the alert stream.
func (s *RemoteSession) TriggerSOS(ctx context.Context) error {
	s.mu.Lock()
	conn, connected := s.conn, s.connected
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	frame, err := link.Encode(link.TypeTriggerSOS, link.NewID(), nil)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, frame); err != nil {
		if errors.Is(err, link.ErrClosed) {
			return fmt.Errorf("failed to send SOS: %w", ErrDisconnected)
		}
		return fmt.Errorf("failed to send SOS: %w: %w", ErrConnection, err)
	}
	return nil
}

var (
	_ Session = (*RemoteSession)(nil)
	_ Session = (*LocalSession)(nil)
)
