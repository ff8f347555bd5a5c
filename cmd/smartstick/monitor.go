package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jkaberg/smartstick/internal/app"
	"github.com/jkaberg/smartstick/internal/config"
	"github.com/jkaberg/smartstick/internal/host"
	"github.com/jkaberg/smartstick/internal/link"
	"github.com/jkaberg/smartstick/internal/mqtt"
	"github.com/jkaberg/smartstick/internal/notify"
	"github.com/jkaberg/smartstick/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newMonitorCmd() *cobra.Command {
	var (
		transport string
		url       string
		mqttURL   string
		deviceID  string
		sets      []string
		calibrate time.Duration
		notifyOn  bool
		seed      int64
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Connect to a stick and monitor telemetry and alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("transport") {
				cfg.Transport = transport
			}
			if flags.Changed("url") {
				cfg.URL = url
			}
			if flags.Changed("mqtt-url") {
				cfg.MQTTUrl = mqttURL
			}
			if flags.Changed("device-id") {
				cfg.DeviceID = deviceID
			}
			if flags.Changed("calibrate") {
				cfg.Calibrate = calibrate
			}
			if flags.Changed("notify") {
				cfg.Notify = notifyOn
			}
			if flags.Changed("seed") {
				cfg.Seed = seed
			}
			if len(sets) > 0 {
				set, err := parseSet(sets)
				if err != nil {
					return err
				}
				if cfg.Set == nil {
					cfg.Set = map[string]float64{}
				}
				for k, v := range set {
					cfg.Set[k] = v
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			// Reject bad patches before touching the stick.
			if _, err := app.BuildPatch(cfg.Set); err != nil {
				return err
			}
			return runMonitor(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&transport, "transport", config.TransportLocal, "local, ws, mqtt or loopback")
	f.StringVar(&url, "url", "ws://localhost:3001/simulator", "Simulator host WebSocket URL")
	f.StringVar(&mqttURL, "mqtt-url", "", "MQTT broker URL")
	f.StringVar(&deviceID, "device-id", "smartstick", "Device identifier on MQTT")
	f.StringArrayVar(&sets, "set", nil, "Patch a device setting after connecting (key=value, repeatable)")
	f.DurationVar(&calibrate, "calibrate", 0, "Run a fall calibration of this length after connecting")
	f.BoolVar(&notifyOn, "notify", false, "Post Android notifications (Termux) for alerts")
	f.Int64Var(&seed, "seed", 0, "Simulator random seed (0 = time based)")
	return cmd
}

// parseSet parses key=value pairs.
func parseSet(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", p)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --set %q: %w", p, err)
		}
		out[strings.TrimSpace(k)] = f
	}
	return out, nil
}

// cleanup releases transport resources once the session is done.
type cleanup func()

func buildSession(cfg *config.Config, logger *logrus.Logger) (session.Session, cleanup, error) {
	switch cfg.Transport {
	case config.TransportLocal:
		return session.NewLocal(localOptions(cfg), logger), func() {}, nil

	case config.TransportLoopback:
		// Full protocol path against an in-process host.
		h := host.New(localOptions(cfg), logger)
		dialer := link.DialerFunc(func(ctx context.Context) (link.Conn, error) {
			client, dev := link.Pipe()
			go func() {
				if err := h.Serve(ctx, dev); err != nil {
					logger.WithError(err).Warn("Loopback host failed")
				}
			}()
			return client, nil
		})
		return session.NewRemote(dialer, nil, cfg.RequestTimeout, logger), h.Wait, nil

	case config.TransportWS:
		dialer := &link.WSDialer{URL: cfg.URL, DialTimeout: config.DialTimeout, Logger: logger}
		return session.NewRemote(dialer, nil, cfg.RequestTimeout, logger), func() {}, nil

	case config.TransportMQTT:
		client, err := mqtt.NewClient(cfg.MQTTUrl, cfg.DeviceID, "monitor", logger)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", session.ErrConnection, err)
		}
		dialer := &link.MQTTDialer{Client: client, DeviceID: cfg.DeviceID}
		return session.NewRemote(dialer, nil, cfg.RequestTimeout, logger), func() { client.Disconnect(250) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func runMonitor(cfg *config.Config) error {
	logger := setupLogger(cfg.Verbose, cfg.LogFile)
	logger.WithFields(logrus.Fields{
		"version":   version,
		"transport": cfg.Transport,
		"calibrate": cfg.Calibrate,
		"notify":    cfg.Notify,
	}).Info("Starting SmartStick monitor")

	ctx, cancel := signalContext(logger)
	defer cancel()

	sess, release, err := buildSession(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notify {
		notifier = notify.Multi{notifier, notify.NewTermuxNotifier(logger)}
	}

	if err := app.Run(ctx, cfg, sess, notifier, logger); err != nil {
		logger.WithError(err).Error("Monitor stopped")
		return err
	}
	logger.Info("SmartStick monitor stopped")
	return nil
}
