package contentscan

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config holds the scanning pipeline configuration.
type Config struct {
	MediaBaseURL       string
	TempDirectory      string
	ScanCommand        string
	FetchTimeout       time.Duration
	ScanTimeout        time.Duration
	MaxConcurrentScans int64
	MaxFileSize        int64
	AcceptedMimeTypes  []string
	FetchRateLimit     *RateLimitConfig
}

// RateLimitConfig defines the limiter applied to media repository requests.
type RateLimitConfig struct {
	Rate  rate.Limit // Requests per second
	Burst int        // Maximum burst size
}

// LoadConfig loads the pipeline configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		MediaBaseURL:  os.Getenv("MEDIA_BASE_URL"),
		TempDirectory: os.Getenv("TEMP_DIRECTORY"),
		ScanCommand:   os.Getenv("SCAN_COMMAND"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(cfg.MediaBaseURL); err != nil {
		return nil, fmt.Errorf("invalid MEDIA_BASE_URL: %v", err)
	}

	cfg.FetchTimeout = envDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.ScanTimeout = envDuration("SCAN_TIMEOUT", 60*time.Second)
	cfg.MaxConcurrentScans = int64(envInt("MAX_CONCURRENT_SCANS", 5))

	maxFileSizeStr := os.Getenv("MAX_FILE_SIZE")
	if maxFileSizeStr != "" {
		maxFileSize, err := strconv.ParseInt(maxFileSizeStr, 10, 64)
		if err != nil || maxFileSize < 0 {
			return nil, fmt.Errorf("invalid MAX_FILE_SIZE value: %s", maxFileSizeStr)
		}
		cfg.MaxFileSize = maxFileSize
	}

	cfg.AcceptedMimeTypes = parseMimeTypes(os.Getenv("ACCEPTED_MIMETYPES"))

	rateLimit, err := parseRateLimit(os.Getenv("FETCH_RATE_LIMIT"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse FETCH_RATE_LIMIT: %v", err)
	}
	cfg.FetchRateLimit = rateLimit

	return cfg, nil
}

// Validate reports the required settings that are missing.
func (c *Config) Validate() error {
	var missing []string
	if c.MediaBaseURL == "" {
		missing = append(missing, "MEDIA_BASE_URL")
	}
	if c.TempDirectory == "" {
		missing = append(missing, "TEMP_DIRECTORY")
	}
	if strings.TrimSpace(c.ScanCommand) == "" {
		missing = append(missing, "SCAN_COMMAND")
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

// AcceptsMimeType reports whether mimeType passes the allowlist. An empty
// allowlist accepts everything.
func (c *Config) AcceptsMimeType(mimeType string) bool {
	if len(c.AcceptedMimeTypes) == 0 {
		return true
	}
	for _, accepted := range c.AcceptedMimeTypes {
		if strings.EqualFold(accepted, mimeType) {
			return true
		}
	}
	return false
}

func envInt(key string, def int) int {
	valueStr := os.Getenv(key)
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		if valueStr != "" {
			logrus.Warnf("Invalid %s value %q. Defaulting to %d.", key, valueStr, def)
		} else {
			logrus.Infof("%s not set. Defaulting to %d.", key, def)
		}
		return def
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		if valueStr != "" {
			logrus.Warnf("Invalid %s value %q. Defaulting to %s.", key, valueStr, def)
		} else {
			logrus.Infof("%s not set. Defaulting to %s.", key, def)
		}
		return def
	}
	return value
}

func parseMimeTypes(input string) []string {
	var result []string
	for _, part := range strings.Split(input, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, strings.ToLower(trimmed))
		}
	}
	return result
}

// parseRateLimit parses a limiter definition of the form rate:burst.
func parseRateLimit(input string) (*RateLimitConfig, error) {
	if input == "" {
		return nil, nil // No rate limit defined
	}
	parts := strings.Split(input, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid rate limit entry: %s", input)
	}
	rateValue, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || rateValue <= 0 {
		return nil, fmt.Errorf("invalid rate value in entry '%s'", input)
	}
	burstValue, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || burstValue <= 0 {
		return nil, fmt.Errorf("invalid burst value in entry '%s'", input)
	}
	return &RateLimitConfig{
		Rate:  rate.Limit(rateValue),
		Burst: burstValue,
	}, nil
}
