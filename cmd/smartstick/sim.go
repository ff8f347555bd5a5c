package main

import (
	"github.com/jkaberg/smartstick/internal/config"
	"github.com/jkaberg/smartstick/internal/host"
	"github.com/jkaberg/smartstick/internal/mqtt"
	"github.com/jkaberg/smartstick/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newSimCmd() *cobra.Command {
	var listen, mqttURL, deviceID string

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run the simulator host (HTTP/WebSocket and optional MQTT endpoint)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("mqtt-url") {
				cfg.MQTTUrl = mqttURL
			}
			if cmd.Flags().Changed("device-id") {
				cfg.DeviceID = deviceID
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runSim(cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", config.DefaultListen, "HTTP listen address")
	cmd.Flags().StringVar(&mqttURL, "mqtt-url", "", "MQTT broker URL for the device endpoint")
	cmd.Flags().StringVar(&deviceID, "device-id", "smartstick", "Device identifier on MQTT")
	return cmd
}

func localOptions(cfg *config.Config) session.LocalOptions {
	return session.LocalOptions{
		Seed:          cfg.Seed,
		SensorPeriod:  cfg.SensorPeriod,
		AlertPeriod:   cfg.AlertPeriod,
		SOSClearDelay: cfg.SOSClearDelay,
	}
}

func runSim(cfg *config.Config) error {
	logger := setupLogger(cfg.Verbose, cfg.LogFile)
	logger.WithFields(logrus.Fields{
		"version":   version,
		"listen":    cfg.Listen,
		"mqtt":      cfg.HasMQTT(),
		"device_id": cfg.DeviceID,
	}).Info("Starting SmartStick simulator")

	ctx, cancel := signalContext(logger)
	defer cancel()

	h := host.New(localOptions(cfg), logger)
	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error { return h.ListenAndServe(ctx, cfg.Listen) })

	if cfg.HasMQTT() {
		client, err := mqtt.NewClient(cfg.MQTTUrl, cfg.DeviceID, "sim", logger)
		if err != nil {
			cancel()
			_ = grp.Wait()
			return err
		}
		defer client.Disconnect(250)
		grp.Go(func() error { return h.ServeMQTT(ctx, client, cfg.DeviceID) })
	}

	err := grp.Wait()
	logger.Info("SmartStick simulator stopped")
	return err
}
