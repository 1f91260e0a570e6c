package notifications

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShoutrrrURLs(t *testing.T) {
	urls := parseShoutrrrURLs(" logger:// , ,generic://example.org/hook ")
	assert.Equal(t, []string{"logger://", "generic://example.org/hook"}, urls)
	assert.Empty(t, parseShoutrrrURLs(""))
}

func TestLoadNotificationConfigOptional(t *testing.T) {
	t.Setenv("SHOUTRRR_URLS", "")
	cfg, err := LoadNotificationConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.ShoutrrrURLs)
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	n, err := NewNotifier(&NotificationConfig{}, logger)
	require.NoError(t, err)
	assert.False(t, n.Enabled())
	n.Send("title", "message")
}

func TestNotifierRejectsUnknownService(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	_, err := NewNotifier(&NotificationConfig{ShoutrrrURLs: []string{"nosuchservice://x"}}, logger)
	assert.Error(t, err)
}
