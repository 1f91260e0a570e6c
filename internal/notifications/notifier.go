package notifications

import (
	"github.com/containrrr/shoutrrr/pkg/router"
	"github.com/containrrr/shoutrrr/pkg/types"
	"github.com/sirupsen/logrus"
)

// Notifier handles sending notifications via Shoutrrr.
type Notifier struct {
	sr     *router.ServiceRouter
	logger *logrus.Logger
}

// NewNotifier initializes a Notifier for the configured URLs. With no URLs
// the Notifier is valid and Send does nothing.
func NewNotifier(cfg *NotificationConfig, logger *logrus.Logger) (*Notifier, error) {
	n := &Notifier{logger: logger}
	if len(cfg.ShoutrrrURLs) == 0 {
		return n, nil
	}

	sr, err := router.New(nil, cfg.ShoutrrrURLs...)
	if err != nil {
		return nil, err
	}
	n.sr = sr
	return n, nil
}

// Enabled reports whether any service is configured.
func (n *Notifier) Enabled() bool {
	return n.sr != nil
}

// Send sends a notification message to all configured services.
func (n *Notifier) Send(title, message string) {
	if n.sr == nil {
		return
	}

	params := types.Params{
		"title": title,
	}
	failed := 0
	for _, err := range n.sr.Send(message, &params) {
		if err != nil {
			failed++
			n.logger.WithError(err).Error("Failed to send notification")
		}
	}
	if failed == 0 {
		n.logger.WithField("title", title).Info("Notification sent successfully")
	}
}
