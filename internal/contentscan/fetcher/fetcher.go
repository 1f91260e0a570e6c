package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/contentscan/internal/models"
	"golang.org/x/time/rate"
)

const downloadPath = "/_matrix/media/v3/download"

var (
	ErrTimeout  = errors.New("media request timed out")
	ErrTooLarge = errors.New("media exceeds the maximum file size")
)

// StatusError is returned when the media repository answers with a non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("media repository returned status: %d", e.StatusCode)
}

// RateLimiter throttles requests made to the media repository.
type RateLimiter struct {
	Limiter *rate.Limiter
	Burst   int
	Rate    rate.Limit // Requests per second
}

// NewRateLimiter builds a limiter allowing r requests per second.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		Limiter: rate.NewLimiter(r, burst),
		Burst:   burst,
		Rate:    r,
	}
}

// Fetcher downloads media from a Matrix media repository.
type Fetcher struct {
	BaseURL     string
	Client      *http.Client
	Timeout     time.Duration
	MaxSize     int64 // 0 disables the cap
	RateLimiter *RateLimiter
	Logger      *logrus.Logger
}

// NewFetcher initializes a new Fetcher.
func NewFetcher(baseURL string, timeout time.Duration, maxSize int64, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{},
		Timeout: timeout,
		MaxSize: maxSize,
		Logger:  logger,
	}
}

// SetRateLimiter sets the rate limiter for the Fetcher.
func (f *Fetcher) SetRateLimiter(limiter *RateLimiter) {
	f.RateLimiter = limiter
}

// DownloadURL maps an mxc:// locator onto the media repository.
func (f *Fetcher) DownloadURL(mxc string) (string, error) {
	server, mediaID, err := models.ParseMXC(mxc)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s/%s/%s", f.BaseURL, downloadPath, server, mediaID), nil
}

// Fetch streams the media referenced by mxc into dst and returns the number
// of bytes written. The whole exchange, body included, is bounded by Timeout.
func (f *Fetcher) Fetch(ctx context.Context, mxc string, dst io.Writer) (int64, error) {
	url, err := f.DownloadURL(mxc)
	if err != nil {
		return 0, err
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	if f.RateLimiter != nil {
		// Wait for permission to proceed based on rate limiter
		if err := f.RateLimiter.Limiter.Wait(ctx); err != nil {
			return 0, classify(ctx, fmt.Errorf("rate limiter error: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, classify(ctx, err)
	}
	defer resp.Body.Close()

	f.Logger.WithFields(logrus.Fields{
		"status": resp.StatusCode,
		"length": resp.ContentLength,
	}).Debug("Media repository response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{StatusCode: resp.StatusCode}
	}

	if f.MaxSize > 0 && resp.ContentLength > f.MaxSize {
		return 0, ErrTooLarge
	}

	body := io.Reader(resp.Body)
	if f.MaxSize > 0 {
		// One extra byte tells an oversized body apart from an exact fit.
		body = io.LimitReader(resp.Body, f.MaxSize+1)
	}
	n, err := io.Copy(dst, body)
	if err != nil {
		return n, classify(ctx, err)
	}
	if f.MaxSize > 0 && n > f.MaxSize {
		return n, ErrTooLarge
	}
	return n, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
