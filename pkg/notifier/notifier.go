// Package notifier sends desktop notifications about finished builds
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/poltergeist/dockerstage/pkg/logger"
	"github.com/poltergeist/dockerstage/pkg/types"
)

// SendFunc delivers one notification
type SendFunc func(title, message string) error

// BeepFunc plays an audible alert
type BeepFunc func() error

// BuildNotifier handles build notifications
type BuildNotifier struct {
	enabled      bool
	successSound string
	failureSound string
	logger       logger.Logger
	send         SendFunc
	beep         BeepFunc
}

// Config represents notification configuration
type Config struct {
	Enabled      bool
	SuccessSound string
	FailureSound string
}

// ConfigFromJob extracts the notification settings of a job
func ConfigFromJob(cfg *types.JobConfig) Config {
	c := Config{Enabled: cfg.NotificationsEnabled()}
	if cfg.Notifications != nil {
		c.SuccessSound = cfg.Notifications.SuccessSound
		c.FailureSound = cfg.Notifications.FailureSound
	}
	return c
}

// New creates a notifier that uses the platform notification service
func New(config Config, log logger.Logger) *BuildNotifier {
	return NewWithSender(config, log,
		func(title, message string) error { return beeep.Notify(title, message, "") },
		func() error { return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration) },
	)
}

// NewWithSender creates a notifier with custom delivery, mainly for tests
func NewWithSender(config Config, log logger.Logger, send SendFunc, beep BeepFunc) *BuildNotifier {
	return &BuildNotifier{
		enabled:      config.Enabled,
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
		send:         send,
		beep:         beep,
	}
}

// NotifyBuildSuccess notifies that an image was built
func (n *BuildNotifier) NotifyBuildSuccess(image types.ImageIdentity, duration time.Duration) {
	if !n.enabled {
		return
	}

	title := "✅ Image Built"
	message := fmt.Sprintf("%s (%s) built in %s", image.Name, image.ShortID(), formatDuration(duration))
	if len(image.Tags) > 0 {
		message = fmt.Sprintf("%s:%s (%s) built in %s", image.Name, image.Tags[0], image.ShortID(), formatDuration(duration))
	}

	n.sendNotification(title, message, n.successSound)
}

// NotifyBuildFailure notifies that a workflow failed
func (n *BuildNotifier) NotifyBuildFailure(imageName string, err error) {
	if !n.enabled {
		return
	}

	title := "❌ Image Build Failed"
	message := fmt.Sprintf("%s: %v", imageName, err)

	n.sendNotification(title, message, n.failureSound)
}

func (n *BuildNotifier) sendNotification(title, message, soundName string) {
	if err := n.send(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithError(err))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}

	if soundName != "" && n.beep != nil {
		if err := n.beep(); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithError(err))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
