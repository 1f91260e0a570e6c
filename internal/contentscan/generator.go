// Package contentscan turns attachment descriptors into scan verdicts and
// serves previously computed verdicts back by secret.
package contentscan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/contentscan/internal/cache"
	"github.com/y0ug/contentscan/internal/contentscan/fetcher"
	"github.com/y0ug/contentscan/internal/contentscan/invoker"
	"github.com/y0ug/contentscan/internal/metrics"
	"github.com/y0ug/contentscan/internal/models"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const unknownMimeType = "application/octet-stream"

// Fetcher downloads the media referenced by an mxc:// locator into dst.
type Fetcher interface {
	Fetch(ctx context.Context, mxc string, dst io.Writer) (int64, error)
}

// Decryptor decrypts an encrypted attachment on disk.
type Decryptor interface {
	DecryptFile(inPath, outPath string, key models.EncryptionKey, iv, expectedHash string) error
}

// Scanner runs the content scanner against a file.
type Scanner interface {
	Run(ctx context.Context, filePath string) (invoker.Result, error)
}

// Notifier is told about unclean verdicts.
type Notifier interface {
	Send(title, message string)
}

// GeneratorConfig holds the collaborators of a ReportGenerator.
type GeneratorConfig struct {
	Config    *Config
	Cache     cache.Cache
	Fetcher   Fetcher
	Decryptor Decryptor
	Scanner   Scanner
	Notifier  Notifier // optional
	Metrics   *metrics.Metrics
	Logger    *logrus.Logger
}

// ReportGenerator produces one verdict per distinct descriptor. Concurrent
// requests for the same fingerprint share a single pipeline run.
type ReportGenerator struct {
	Config  GeneratorConfig
	flights singleflight.Group
	sem     *semaphore.Weighted
	now     func() time.Time
	create  func(path string) (*os.File, error)
}

// NewReportGenerator initializes a new ReportGenerator.
func NewReportGenerator(config GeneratorConfig) *ReportGenerator {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	maxConcurrency := int64(1)
	if config.Config != nil && config.Config.MaxConcurrentScans > 0 {
		maxConcurrency = config.Config.MaxConcurrentScans
	}
	return &ReportGenerator{
		Config: config,
		sem:    semaphore.NewWeighted(maxConcurrency),
		now:    time.Now,
		create: createScratchFile,
	}
}

// Generate returns the verdict for desc, running the fetch, decrypt and scan
// pipeline unless a verdict is already cached. Failures are never cached.
func (g *ReportGenerator) Generate(ctx context.Context, desc models.AttachmentDescriptor) (models.ScanVerdict, error) {
	if g.Config.Config == nil {
		return models.ScanVerdict{}, g.fail(newError(KindConfiguration, "generate", errors.New("no configuration supplied")))
	}
	if err := g.Config.Config.Validate(); err != nil {
		return models.ScanVerdict{}, g.fail(newError(KindConfiguration, "generate", err))
	}
	if err := desc.Validate(); err != nil {
		return models.ScanVerdict{}, g.fail(newError(KindInvalidDescriptor, "generate", err))
	}
	f, err := FingerprintOf(desc)
	if err != nil {
		return models.ScanVerdict{}, g.fail(newError(KindInvalidDescriptor, "fingerprint", err))
	}

	verdict, ok, err := g.Config.Cache.Get(ctx, f)
	if err != nil {
		return models.ScanVerdict{}, g.fail(newError(KindCache, "cache.get", err))
	}
	if ok {
		g.Config.Metrics.CacheHit()
		return verdict, nil
	}
	g.Config.Metrics.CacheMiss()

	// The run is detached so that one caller going away does not fail the
	// others waiting on the same fingerprint.
	runCtx := context.WithoutCancel(ctx)
	led := false
	ch := g.flights.DoChan(string(f), func() (interface{}, error) {
		led = true
		return g.run(runCtx, f, desc)
	})

	select {
	case res := <-ch:
		if !led {
			g.Config.Metrics.Coalesced()
		}
		if res.Err != nil {
			return models.ScanVerdict{}, res.Err
		}
		return res.Val.(models.ScanVerdict), nil
	case <-ctx.Done():
		return models.ScanVerdict{}, ctx.Err()
	}
}

func (g *ReportGenerator) run(ctx context.Context, f models.Fingerprint, desc models.AttachmentDescriptor) (models.ScanVerdict, error) {
	logger := g.Config.Logger.WithField("secret", f.Redact())

	// Another flight may have finished between our miss and acquiring the key.
	if verdict, ok, err := g.Config.Cache.Get(ctx, f); err != nil {
		return models.ScanVerdict{}, g.fail(newError(KindCache, "cache.get", err))
	} else if ok {
		return verdict, nil
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return models.ScanVerdict{}, err
	}
	defer g.sem.Release(1)

	g.Config.Metrics.PipelineStarted()
	defer g.Config.Metrics.PipelineFinished()

	wd, err := newWorkDir(g.Config.Config.TempDirectory)
	if err != nil {
		return models.ScanVerdict{}, g.fail(newError(KindConfiguration, "workdir", err))
	}
	defer func() {
		if err := wd.Remove(); err != nil {
			logger.WithError(err).Error("Failed to remove scan working directory")
		}
	}()

	start := time.Now()
	fetchedPath := wd.Path("fetched")
	fetchErr, localErr := g.fetch(ctx, desc.URL, fetchedPath)
	g.Config.Metrics.ObserveStage("fetch", start)
	if localErr != nil {
		logger.WithError(localErr).Error("Failed to store fetched media")
		return models.ScanVerdict{}, g.fail(newError(KindConfiguration, "workdir", localErr))
	}
	if fetchErr != nil {
		logger.WithError(fetchErr).Warn("Failed to fetch media")
		return models.ScanVerdict{}, g.fail(fetchError(fetchErr))
	}

	scanPath := fetchedPath
	if desc.Encrypted() {
		start = time.Now()
		scanPath = wd.Path("plaintext")
		err = g.Config.Decryptor.DecryptFile(fetchedPath, scanPath, *desc.Key, desc.IV, desc.Hashes.SHA256)
		g.Config.Metrics.ObserveStage("decrypt", start)
		if err != nil {
			logger.WithError(err).Warn("Failed to decrypt media")
			return models.ScanVerdict{}, g.fail(newError(KindDecrypt, "decrypt", err))
		}
	}

	verdict, err := g.scan(ctx, scanPath, logger)
	if err != nil {
		return models.ScanVerdict{}, g.fail(err)
	}
	verdict.Fingerprint = f
	verdict.ScannedAt = g.now().UTC()

	if err := g.Config.Cache.Put(ctx, f, verdict); err != nil {
		return models.ScanVerdict{}, g.fail(newError(KindCache, "cache.put", err))
	}
	g.Config.Metrics.Verdict(verdict.Clean)

	logger.WithFields(logrus.Fields{
		"clean":     verdict.Clean,
		"exit_code": verdict.ExitCode,
		"mimetype":  verdict.MimeType,
	}).Info("Scan completed")

	if !verdict.Clean {
		g.notifyUnclean(desc, verdict)
	}
	return verdict, nil
}

// fetch downloads mxc into path. The second return is a local storage
// failure, kept apart from upstream errors.
func (g *ReportGenerator) fetch(ctx context.Context, mxc, path string) (fetchErr, localErr error) {
	out, err := g.create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create download file: %w", err)
	}
	w := &scratchWriter{w: out}
	_, fetchErr = g.Config.Fetcher.Fetch(ctx, mxc, w)
	if err := out.Close(); err != nil && w.err == nil {
		w.err = err
	}
	if w.err != nil {
		return nil, fmt.Errorf("failed to write download file: %w", w.err)
	}
	return fetchErr, nil
}

// scratchWriter remembers the first local write error.
type scratchWriter struct {
	w   io.Writer
	err error
}

func (s *scratchWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}

func createScratchFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
}

// scan checks the detected mimetype against the allowlist, then runs the
// scanner. A rejected mimetype is an unclean verdict and the scanner is not run.
func (g *ReportGenerator) scan(ctx context.Context, path string, logger *logrus.Entry) (models.ScanVerdict, error) {
	mimeType := detectMimeType(path, logger)
	if !g.Config.Config.AcceptsMimeType(mimeType) {
		return models.ScanVerdict{
			Clean:    false,
			Info:     fmt.Sprintf("File type %s is not allowed", mimeType),
			ExitCode: -1,
			MimeType: mimeType,
		}, nil
	}

	start := time.Now()
	res, err := g.Config.Scanner.Run(ctx, path)
	g.Config.Metrics.ObserveStage("scan", start)
	if err != nil {
		logger.WithError(err).WithField("exit_code", res.ExitCode).Error("Scan command failed")
		if errors.Is(err, invoker.ErrTimeout) {
			return models.ScanVerdict{}, newError(KindUpstreamTimeout, "scan", err)
		}
		return models.ScanVerdict{}, newError(KindScanInvocation, "scan", err)
	}
	return models.ScanVerdict{
		Clean:    res.Clean,
		Info:     res.Info,
		ExitCode: res.ExitCode,
		MimeType: mimeType,
	}, nil
}

func (g *ReportGenerator) notifyUnclean(desc models.AttachmentDescriptor, verdict models.ScanVerdict) {
	if g.Config.Notifier == nil {
		return
	}
	server, _, _ := models.ParseMXC(desc.URL)
	message := fmt.Sprintf(
		"Unclean media detected\nServer: %s\nSecret: %s\nMimetype: %s\nExit code: %d\nInfo: %s",
		server, verdict.Fingerprint.Redact(), verdict.MimeType, verdict.ExitCode, verdict.Info,
	)
	g.Config.Notifier.Send("Content scan alert", message)
}

func (g *ReportGenerator) fail(err *Error) error {
	g.Config.Metrics.PipelineError(err.Kind.String())
	return err
}

func fetchError(err error) *Error {
	if errors.Is(err, fetcher.ErrTimeout) {
		return newError(KindUpstreamTimeout, "fetch", err)
	}
	return newError(KindUpstreamFetch, "fetch", err)
}

func detectMimeType(path string, logger *logrus.Entry) string {
	kind, err := filetype.MatchFile(path)
	if err != nil {
		logger.WithError(err).Debug("Failed to detect mimetype")
		return unknownMimeType
	}
	if kind == filetype.Unknown {
		return unknownMimeType
	}
	return kind.MIME.Value
}
