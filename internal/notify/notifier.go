package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/jkaberg/smartstick/internal/device"
	"github.com/sirupsen/logrus"
)

// Notifier surfaces a short message to the person watching the stick.
type Notifier interface {
	Notify(title, content string)
}

// termuxNotificationPath holds the absolute path to the termux-notification
// binary. An absolute path avoids the PATH lookup, whose faccessat2 syscall
// is blocked by the seccomp policy on older Android versions. The prefix can
// be overridden with the PREFIX environment variable.
var termuxNotificationPath string

func init() {
	prefix := os.Getenv("PREFIX")
	if prefix == "" {
		prefix = "/data/data/com.termux/files/usr"
	}
	termuxNotificationPath = prefix + "/bin/termux-notification"
}

// TermuxNotifier posts Android notifications via the `termux-notification`
// CLI that ships with Termux.
//
// All alerts share one notification ID so the latest alert replaces the
// previous one. Failures (e.g. when not running on Android) are logged at
// debug level only, and a short timeout keeps a hung command from stalling
// the alert stream.
type TermuxNotifier struct {
	id     string
	logger *logrus.Logger
}

// NewTermuxNotifier returns a notifier that re-uses a constant notification ID.
func NewTermuxNotifier(logger *logrus.Logger) *TermuxNotifier {
	return &TermuxNotifier{
		id:     "1337",
		logger: logger,
	}
}

// Notify posts (or replaces) the notification.
func (n *TermuxNotifier) Notify(title, content string) {
	if title == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	// https://wiki.termux.com/wiki/Termux-notification
	args := []string{
		"--id", n.id,
		"-t", title,
		"-c", content,
		"--priority", "high",
		"--vibrate", "200,100,200",
	}

	if err := exec.CommandContext(ctx, termuxNotificationPath, args...).Run(); err != nil {
		n.logger.WithError(err).Debug("termux-notification execution failed")
	}
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier returns a Notifier backed by logger.
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs title and content at warn level.
func (n *LogNotifier) Notify(title, content string) {
	n.logger.WithField("detail", content).Warn(title)
}

// Multi fans a notification out to several notifiers in order.
type Multi []Notifier

// Notify forwards to every notifier.
func (m Multi) Notify(title, content string) {
	for _, n := range m {
		n.Notify(title, content)
	}
}

// AlertMessage renders an alert as a notification title and body.
func AlertMessage(a device.Alert) (title, content string) {
	switch a.Type {
	case device.AlertSOS:
		return "SOS Alert!", "The stick user asked for help"
	case device.AlertFall:
		if a.AX != nil {
			return "Fall Detected!", fmt.Sprintf("Impact of %.1f g", *a.AX)
		}
		return "Fall Detected!", "Impact detected"
	case device.AlertObstacle:
		if a.DistMm != nil {
			return "Obstacle", fmt.Sprintf("Obstacle at %d mm", *a.DistMm)
		}
		return "Obstacle", "Obstacle ahead"
	case device.AlertRFID:
		return "RFID", fmt.Sprintf("Tag %s scanned", a.UID)
	default:
		return string(a.Type), "Unknown alert"
	}
}
