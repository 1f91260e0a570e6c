package notifications

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NotificationConfig holds the notification-related configuration.
type NotificationConfig struct {
	ShoutrrrURLs []string
}

// LoadNotificationConfig loads notification configuration from environment
// variables. Notifications are optional; without SHOUTRRR_URLS none are sent.
func LoadNotificationConfig() (*NotificationConfig, error) {
	shoutrrrURLsStr := os.Getenv("SHOUTRRR_URLS")
	if shoutrrrURLsStr == "" {
		logrus.Info("SHOUTRRR_URLS not set. Notifications are disabled.")
	}

	return &NotificationConfig{
		ShoutrrrURLs: parseShoutrrrURLs(shoutrrrURLsStr),
	}, nil
}

// parseShoutrrrURLs parses a comma-separated list of Shoutrrr URLs.
func parseShoutrrrURLs(urls string) []string {
	var result []string
	for _, url := range strings.Split(urls, ",") {
		trimmed := strings.TrimSpace(url)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
