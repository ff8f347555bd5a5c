// Package host serves simulated sticks over a link: each connection gets its
// own LocalSession whose streams are forwarded as frames and whose
// request/response operations answer the peer's requests.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jkaberg/smartstick/internal/config"
	"github.com/jkaberg/smartstick/internal/device"
	"github.com/jkaberg/smartstick/internal/link"
	"github.com/jkaberg/smartstick/internal/session"
	"github.com/sirupsen/logrus"
)

// Host creates one simulator per served connection.
type Host struct {
	opts   session.LocalOptions
	logger *logrus.Logger

	active atomic.Int64
	served atomic.Uint64
	wg     sync.WaitGroup
}

// New returns a Host whose sessions are built from opts.
func New(opts session.LocalOptions, logger *logrus.Logger) *Host {
	return &Host{opts: opts, logger: logger}
}

// Active reports the number of connections being served.
func (h *Host) Active() int64 { return h.active.Load() }

// Serve runs a simulator for conn until the link closes or ctx is done. The
// session is always disconnected and the link closed on return.
func (h *Host) Serve(ctx context.Context, conn link.Conn) error {
	h.wg.Add(1)
	defer h.wg.Done()

	id := h.served.Add(1)
	log := h.logger.WithField("conn", id)

	opts := h.opts
	if opts.Seed != 0 {
		// Distinct but reproducible streams per connection.
		opts.Seed += int64(id-1) * 1000
	}
	sess := session.NewLocal(opts, h.logger)
	s := &served{ctx: ctx, conn: conn, sess: sess, log: log}
	defer sess.SubscribeSensor(s.forwardSample)()
	defer sess.SubscribeAlerts(s.forwardAlert)()

	if err := sess.Connect(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to start simulator: %w", err)
	}

	h.active.Add(1)
	log.Info("Client connected")
	defer func() {
		// Closing the link first unblocks producers stuck in Send.
		_ = conn.Close()
		_ = sess.Disconnect()
		h.active.Add(-1)
		log.Info("Client disconnected")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return nil
		case frame := <-conn.Frames():
			s.handle(frame)
		}
	}
}

// served is the per-connection state.
type served struct {
	ctx     context.Context
	conn    link.Conn
	sess    session.Session
	log     *logrus.Entry
	samples atomic.Uint64
}

func (s *served) send(msgType, id string, payload interface{}) {
	frame, err := link.Encode(msgType, id, payload)
	if err != nil {
		s.log.WithError(err).Error("Failed to encode frame")
		return
	}
	if err := s.conn.Send(s.ctx, frame); err != nil {
		s.log.WithError(err).WithField("type", msgType).Debug("Failed to send frame")
	}
}

func (s *served) forwardSample(sample device.SensorSample) {
	s.send(link.TypeSensorData, "", sample)
	if n := s.samples.Add(1); n%config.SensorLogEvery == 0 {
		s.log.WithFields(logrus.Fields{
			"frames":  n,
			"dist_mm": sample.DistMm,
			"battery": sample.Battery.Pct,
		}).Debug("Forwarded sensor frames")
	}
}

func (s *served) forwardAlert(alert device.Alert) {
	s.log.WithField("type", alert.Type).Info("Forwarding alert")
	s.send(link.TypeAlert, "", alert)
}

func (s *served) handle(frame []byte) {
	env, err := link.Decode(frame)
	if err != nil {
		s.log.WithError(err).Warn("Dropping frame")
		return
	}

	switch env.Type {
	case link.TypeGetConfig:
		cfg, err := s.sess.ReadConfig(s.ctx)
		if err != nil {
			s.log.WithError(err).Warn("Failed to read config")
			return
		}
		s.send(link.TypeConfig, env.ID, cfg)

	case link.TypeUpdateConfig:
		var patch device.ConfigPatch
		if len(env.Config) == 0 || json.Unmarshal(env.Config, &patch) != nil {
			s.log.Warn("Rejecting unparsable config patch")
			s.send(link.TypeConfigResponse, env.ID, device.ConfigResult{OK: false, Err: "Invalid JSON"})
			return
		}
		res, err := s.sess.UpdateConfig(s.ctx, patch)
		if err != nil {
			s.log.WithError(err).Warn("Failed to update config")
			return
		}
		s.log.WithField("config", res.Config).Info("Config updated")
		s.send(link.TypeConfigResponse, env.ID, res)

	case link.TypeTriggerSOS:
		if err := s.sess.TriggerSOS(s.ctx); err != nil {
			s.log.WithError(err).Warn("Failed to trigger SOS")
		}

	case link.TypeCalibration:
		s.calibrate(env)

	default:
		s.log.WithField("type", env.Type).Debug("Ignoring unexpected message type")
	}
}

func (s *served) calibrate(env link.Envelope) {
	var cmd device.CalibrationCommand
	if err := env.Payload(&cmd); err != nil {
		s.log.WithError(err).Warn("Dropping calibration command")
		return
	}

	var (
		res device.CalibrationResult
		err error
	)
	switch cmd.Cmd {
	case device.CalibrationCmdStart:
		res, err = s.sess.StartCalibration(s.ctx, cmd.Duration(config.CalibrationDefault))
	case device.CalibrationCmdStop:
		res, err = s.sess.StopCalibration(s.ctx)
	case device.CalibrationCmdStatus:
		res, err = s.sess.CalibrationStatus(s.ctx)
	default:
		s.log.WithField("cmd", cmd.Cmd).Warn("Unknown calibration command")
		return
	}
	if err != nil {
		s.log.WithError(err).Warn("Calibration command failed")
		return
	}
	s.send(link.TypeCalibration, env.ID, res)
}

// ServeMQTT serves the device end of deviceID's topic pair until ctx is done.
// Losing the broker is an error, since nothing will reopen the topic pair.
func (h *Host) ServeMQTT(ctx context.Context, client link.PubSub, deviceID string) error {
	conn, err := link.ListenMQTT(client, deviceID)
	if err != nil {
		return err
	}
	h.logger.WithField("device_id", deviceID).Info("Serving simulator over MQTT")
	if err := h.Serve(ctx, conn); err != nil {
		return err
	}
	if ctx.Err() == nil && !client.IsConnected() {
		return errors.New("MQTT broker connection lost")
	}
	return nil
}

// Wait blocks until every Serve call has returned.
func (h *Host) Wait() { h.wg.Wait() }
