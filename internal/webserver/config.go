package webserver

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// WebserverConfig holds the configuration for the webserver.
type WebserverConfig struct {
	ListenTo           string
	CorsAllowedOrigins []string
}

// NewWebserverConfig initializes the webserver configuration from environment
// variables. LISTEN_ADDR (host:port) takes precedence over PORT.
func NewWebserverConfig() (*WebserverConfig, error) {
	config := &WebserverConfig{}

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid LISTEN_ADDR %q: %v", addr, err)
		}
		config.ListenTo = addr
	} else {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
			return nil, fmt.Errorf("invalid PORT value: %s", port)
		}
		config.ListenTo = ":" + port
	}

	for _, origin := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if err := validateOrigin(origin); err != nil {
			return nil, err
		}
		config.CorsAllowedOrigins = append(config.CorsAllowedOrigins, origin)
	}

	return config, nil
}

// validateOrigin accepts "*" or a bare scheme://host[:port] origin.
func validateOrigin(origin string) error {
	if origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" ||
		(u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid CORS origin: %s", origin)
	}
	return nil
}
