package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/jkaberg/smartstick/internal/config"
	"github.com/jkaberg/smartstick/internal/device"
	"github.com/jkaberg/smartstick/internal/history"
	"github.com/jkaberg/smartstick/internal/notify"
	"github.com/jkaberg/smartstick/internal/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const alertQueue = 16

// Option customises Run.
type Option func(*options)

type options struct {
	clk clock.Clock
}

// WithClock times the status reporter and calibration run with clk.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clk = clk }
}

// BuildPatch turns wire-name/value pairs into a validated config patch.
func BuildPatch(set map[string]float64) (device.ConfigPatch, error) {
	var patch device.ConfigPatch
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !patch.SetField(k, set[k]) {
			return device.ConfigPatch{}, fmt.Errorf("unknown config field %q", k)
		}
	}
	if err := device.ValidatePatch(patch); err != nil {
		return device.ConfigPatch{}, err
	}
	return patch, nil
}

// Run connects sess and monitors it until ctx is cancelled: samples are kept
// in a rolling window, alerts are logged and passed to notifier, and a
// status line is logged periodically. A configured patch is applied and a
// configured calibration run is performed once after connecting. The
// session is always disconnected on return.
func Run(
	parentCtx context.Context,
	cfg *config.Config,
	sess session.Session,
	notifier notify.Notifier,
	logger *logrus.Logger,
	opts ...Option,
) error {
	o := options{clk: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	var patch *device.ConfigPatch
	if len(cfg.Set) > 0 {
		p, err := BuildPatch(cfg.Set)
		if err != nil {
			return fmt.Errorf("invalid config patch: %w", err)
		}
		patch = &p
	}

	window := history.NewWindow[device.SensorSample](cfg.HistorySize)
	alerts := make(chan device.Alert, alertQueue)
	defer sess.SubscribeSensor(window.Push)()
	defer sess.SubscribeAlerts(func(a device.Alert) {
		select {
		case alerts <- a:
		default:
			logger.WithField("type", a.Type).Warn("Alert queue full, dropping alert")
		}
	})()

	if err := sess.Connect(parentCtx); err != nil {
		return fmt.Errorf("failed to connect to stick: %w", err)
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			logger.WithError(err).Warn("Disconnect failed")
		}
	}()

	grp, ctx := errgroup.WithContext(parentCtx)

	// Alerts ---------------------------------------------------------------
	grp.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case a := <-alerts:
				title, content := notify.AlertMessage(a)
				logger.WithFields(alertFields(a)).Debug("Alert received")
				if notifier != nil {
					notifier.Notify(title, content)
				}
			}
		}
	})

	// Setup ----------------------------------------------------------------
	grp.Go(func() error {
		if patch != nil {
			applyPatch(ctx, sess, *patch, logger)
		}
		if cfg.Calibrate > 0 {
			calibrate(ctx, sess, cfg, o.clk, logger)
		}
		return nil
	})

	// Status reporter ------------------------------------------------------
	grp.Go(func() error {
		ticker := o.clk.Ticker(cfg.StatusInterval)
		defer ticker.Stop()
		var last *device.SensorSample
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if !sess.Connected() {
					return fmt.Errorf("lost connection to stick: %w", session.ErrDisconnected)
				}
				latest, ok := window.Latest()
				if !ok {
					logger.Info("Waiting for telemetry")
					continue
				}
				entry := logger.WithFields(logrus.Fields{
					"dist_mm": latest.DistMm,
					"battery": latest.Battery.Pct,
					"rfid":    rfidField(latest.RFID),
					"samples": window.Len(),
				})
				if history.Changed(last, &latest) {
					entry.Info("Stick status")
				} else {
					entry.Debug("Stick status unchanged")
				}
				last = &latest
			}
		}
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func applyPatch(ctx context.Context, sess session.Session, patch device.ConfigPatch, logger *logrus.Logger) {
	res, err := sess.UpdateConfig(ctx, patch)
	if err != nil {
		logger.WithError(err).Warn("Config update failed")
		return
	}
	if !res.OK {
		logger.WithField("err", res.Err).Warn("Config update rejected")
		return
	}
	logger.WithField("config", res.Config).Info("Config updated")
}

func calibrate(ctx context.Context, sess session.Session, cfg *config.Config, clk clock.Clock, logger *logrus.Logger) {
	if _, err := sess.StartCalibration(ctx, cfg.Calibrate); err != nil {
		logger.WithError(err).Warn("Calibration start failed")
		return
	}
	logger.WithField("duration", cfg.Calibrate).Info("Calibration running, simulate a fall now")

	// One extra sample period lets the machine observe its own expiry.
	select {
	case <-ctx.Done():
		return
	case <-clk.After(cfg.Calibrate + cfg.SensorPeriod):
	}

	res, err := sess.StopCalibration(ctx)
	if err != nil {
		logger.WithError(err).Warn("Calibration stop failed")
		return
	}
	fields := logrus.Fields{
		"peak_acceleration": res.PeakAcceleration,
		"min_motion":        res.MinMotion,
	}
	if res.SuggestedImpactThreshold == nil {
		logger.WithFields(fields).Info("Calibration complete, no impact recorded")
		return
	}
	fields["suggested_impact_threshold"] = *res.SuggestedImpactThreshold
	fields["suggested_motion_threshold"] = *res.SuggestedMotionThreshold
	logger.WithFields(fields).Info("Calibration complete")
}

func alertFields(a device.Alert) logrus.Fields {
	f := logrus.Fields{"type": a.Type, "ts": a.TS}
	if a.AX != nil {
		f["ax"] = *a.AX
	}
	if a.DistMm != nil {
		f["dist_mm"] = *a.DistMm
	}
	if a.UID != "" {
		f["uid"] = a.UID
	}
	return f
}

func rfidField(uid *string) string {
	if uid == nil {
		return "-"
	}
	return *uid
}
