package session

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jkaberg/smartstick/internal/alerts"
	"github.com/jkaberg/smartstick/internal/bus"
	"github.com/jkaberg/smartstick/internal/calibration"
	"github.com/jkaberg/smartstick/internal/config"
	"github.com/jkaberg/smartstick/internal/device"
	"github.com/jkaberg/smartstick/internal/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// LocalOptions configures a LocalSession. Zero values take the defaults
// from internal/config.
type LocalOptions struct {
	Clock         clock.Clock
	Seed          int64 // 0 = time based
	SensorPeriod  time.Duration
	AlertPeriod   time.Duration
	SOSClearDelay time.Duration
	InitialConfig *device.Config
}

// LocalSession drives an in-process simulator: a telemetry generator, an
// alert engine, a calibration machine and a config store, all created on
// Connect and discarded on Disconnect.
type LocalSession struct {
	opts   LocalOptions
	logger *logrus.Logger

	sensors *bus.Bus[device.SensorSample]
	alerts  *bus.Bus[device.Alert]

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	grp       *errgroup.Group
	store     *device.ConfigStore
	gen       *telemetry.Generator
	engine    *alerts.Engine
	cal       *calibration.Machine
}

// NewLocal creates a disconnected LocalSession.
func NewLocal(opts LocalOptions, logger *logrus.Logger) *LocalSession {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.SensorPeriod <= 0 {
		opts.SensorPeriod = config.SensorPeriod
	}
	if opts.AlertPeriod <= 0 {
		opts.AlertPeriod = config.AlertPeriod
	}
	if opts.SOSClearDelay <= 0 {
		opts.SOSClearDelay = config.SOSClearDelay
	}
	return &LocalSession{
		opts:    opts,
		logger:  logger,
		sensors: bus.New[device.SensorSample](),
		alerts:  bus.New[device.Alert](),
	}
}

// Connect builds fresh simulator state and starts the telemetry and alert
// producers. Connecting an already connected session is a no-op.
func (s *LocalSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	seed := s.opts.Seed
	if seed == 0 {
		seed = s.opts.Clock.Now().UnixNano()
	}
	cfg := device.DefaultConfig()
	if s.opts.InitialConfig != nil {
		cfg = *s.opts.InitialConfig
	}

	latch := &device.RFIDLatch{}
	s.store = device.NewConfigStore(cfg)
	s.gen = telemetry.NewGenerator(device.NewRandom(seed), s.opts.Clock, latch)
	s.engine = alerts.NewEngine(device.NewRandom(seed+1), s.opts.Clock, s.gen, latch, s.opts.SOSClearDelay)
	s.cal = calibration.NewMachine(s.opts.Clock)

	// Producers are scoped to the session, not to the caller's ctx.
	runCtx, cancel := context.WithCancel(context.Background())
	grp, runCtx := errgroup.WithContext(runCtx)
	s.cancel = cancel
	s.grp = grp

	gen, engine, cal := s.gen, s.engine, s.cal
	grp.Go(func() error {
		return s.runTicker(runCtx, s.opts.SensorPeriod, func() {
			sample := gen.Next(s.opts.SensorPeriod)
			cal.Update(sample.IMU.AX, sample.IMU.AY, sample.IMU.AZ)
			s.sensors.Publish(sample)
		})
	})
	grp.Go(func() error {
		return s.runTicker(runCtx, s.opts.AlertPeriod, func() {
			if alert, ok := engine.Check(); ok {
				s.logger.WithField("type", alert.Type).Debug("Simulated alert")
				s.alerts.Publish(alert)
			}
		})
	})

	s.connected = true
	s.logger.WithFields(logrus.Fields{
		"seed":          seed,
		"sensor_period": s.opts.SensorPeriod,
		"alert_period":  s.opts.AlertPeriod,
	}).Info("Local session connected")
	return nil
}

func (s *LocalSession) runTicker(ctx context.Context, period time.Duration, tick func()) error {
	ticker := s.opts.Clock.Ticker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// A tick racing with cancellation must not publish.
			if ctx.Err() != nil {
				return nil
			}
			tick()
		}
	}
}

// Disconnect stops both producers, waits for them to exit and cancels a
// pending SOS clear. Handlers must not call it synchronously from a
// subscription callback.
func (s *LocalSession) Disconnect() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	cancel, grp, engine := s.cancel, s.grp, s.engine
	s.mu.Unlock()

	cancel()
	_ = grp.Wait()
	engine.Close()

	s.logger.Info("Local session disconnected")
	return nil
}

// Connected reports whether the producers are running.
func (s *LocalSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SubscribeSensor registers fn for every telemetry sample.
func (s *LocalSession) SubscribeSensor(fn func(device.SensorSample)) func() {
	return s.sensors.Subscribe(fn)
}

// SubscribeAlerts registers fn for every alert.
func (s *LocalSession) SubscribeAlerts(fn func(device.Alert)) func() {
	return s.alerts.Subscribe(fn)
}

type localState struct {
	store  *device.ConfigStore
	engine *alerts.Engine
	cal    *calibration.Machine
}

func (s *LocalSession) state() (localState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return localState{}, ErrNotConnected
	}
	return localState{store: s.store, engine: s.engine, cal: s.cal}, nil
}

// ReadConfig returns the current configuration.
func (s *LocalSession) ReadConfig(ctx context.Context) (device.Config, error) {
	st, err := s.state()
	if err != nil {
		return device.Config{}, err
	}
	return st.store.Get(), nil
}

// UpdateConfig merge-patches the configuration.
func (s *LocalSession) UpdateConfig(ctx context.Context, patch device.ConfigPatch) (device.ConfigResult, error) {
	st, err := s.state()
	if err != nil {
		return device.ConfigResult{}, err
	}
	res := st.store.Update(patch)
	s.logger.WithField("config", res.Config).Debug("Config updated")
	return res, nil
}

// StartCalibration begins a recording run of length d.
func (s *LocalSession) StartCalibration(ctx context.Context, d time.Duration) (device.CalibrationResult, error) {
	st, err := s.state()
	if err != nil {
		return device.CalibrationResult{}, err
	}
	st.cal.Start(d)
	s.logger.WithField("duration", d).Info("Calibration started")
	return st.cal.Results(), nil
}

// StopCalibration ends a recording run; stopping twice is harmless.
func (s *LocalSession) StopCalibration(ctx context.Context) (device.CalibrationResult, error) {
	st, err := s.state()
	if err != nil {
		return device.CalibrationResult{}, err
	}
	st.cal.Stop()
	return st.cal.Results(), nil
}

// CalibrationStatus reports the current run.
func (s *LocalSession) CalibrationStatus(ctx context.Context) (device.CalibrationResult, error) {
	st, err := s.state()
	if err != nil {
		return device.CalibrationResult{}, err
	}
	return st.cal.Results(), nil
}

// TriggerSOS raises an SOS and publishes it on the alert stream.
func (s *LocalSession) TriggerSOS(ctx context.Context) error {
	st, err := s.state()
	if err != nil {
		return err
	}
	alert := st.engine.TriggerSOS()
	s.logger.Warn("SOS triggered")
	s.alerts.Publish(alert)
	return nil
}
