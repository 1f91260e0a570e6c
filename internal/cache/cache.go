package cache

import (
	"context"
	"errors"

	"github.com/y0ug/contentscan/internal/models"
)

// Cache maps fingerprints to scan verdicts for the lifetime of the process.
type Cache interface {
	// Get returns the verdict stored for f, if any.
	Get(ctx context.Context, f models.Fingerprint) (models.ScanVerdict, bool, error)

	// Put stores a verdict. Verdicts are write-once: a second Put for the same
	// fingerprint leaves the first verdict in place and returns nil.
	Put(ctx context.Context, f models.Fingerprint, verdict models.ScanVerdict) error

	// Clear drops every entry.
	Clear(ctx context.Context) error

	// Len returns the number of live entries.
	Len(ctx context.Context) (int, error)

	Close(ctx context.Context) error
}

var ErrClosed = errors.New("cache is closed")
