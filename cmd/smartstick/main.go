package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jkaberg/smartstick/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

// version is injected at build time via ldflags
var version = "dev"

var (
	flagConfig  string
	flagVerbose bool
	flagLogFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "smartstick",
		Short: "SmartStick - assistive walking stick simulator and monitor",
		Long: `SmartStick simulates an assistive walking stick (telemetry, fall,
obstacle, RFID and SOS alerts, fall calibration) and monitors one, either
in-process or over a WebSocket or MQTT link to a simulator host.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", getEnv("SMARTSTICK_CONFIG", ""), "YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", getEnv("SMARTSTICK_VERBOSE", "false") == "true", "Verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", getEnv("SMARTSTICK_LOG_FILE", ""), "Also log to this file (rotated)")

	rootCmd.AddCommand(newSimCmd(), newMonitorCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "smartstick %s\n", version)
		},
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// loadConfig reads the config file and environment, then applies the
// persistent flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("verbose") || flagVerbose {
		cfg.Verbose = flagVerbose
	}
	if flagLogFile != "" {
		cfg.LogFile = flagLogFile
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setupLogger(verbose bool, logFile string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	if logFile != "" {
		l.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}))
	}
	return l
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			logger.Info("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sig)
	}()
	return ctx, cancel
}
