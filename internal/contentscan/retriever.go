package contentscan

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/contentscan/internal/cache"
	"github.com/y0ug/contentscan/internal/metrics"
	"github.com/y0ug/contentscan/internal/models"
)

const noReportInfo = "No scan report found for this secret"

// ReportRetriever redeems secrets for previously computed verdicts.
type ReportRetriever struct {
	cache   cache.Cache
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewReportRetriever initializes a new ReportRetriever.
func NewReportRetriever(c cache.Cache, m *metrics.Metrics, logger *logrus.Logger) *ReportRetriever {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReportRetriever{cache: c, metrics: m, logger: logger}
}

// Retrieve looks up the verdict stored under secret. An unknown secret is not
// an error: the report says scanned is false.
func (r *ReportRetriever) Retrieve(ctx context.Context, secret models.Fingerprint) (models.Report, error) {
	verdict, ok, err := r.cache.Get(ctx, secret)
	if err != nil {
		r.metrics.PipelineError(KindCache.String())
		return models.Report{}, newError(KindCache, "cache.get", err)
	}
	if !ok {
		r.metrics.CacheMiss()
		r.logger.WithField("secret", secret.Redact()).Debug("No report for secret")
		return models.Report{Clean: false, Scanned: false, Info: noReportInfo}, nil
	}
	r.metrics.CacheHit()
	return models.Report{Clean: verdict.Clean, Scanned: true, Info: verdict.Info}, nil
}

// Clear drops every stored verdict. Previously issued secrets become unknown.
func (r *ReportRetriever) Clear(ctx context.Context) error {
	if err := r.cache.Clear(ctx); err != nil {
		r.metrics.PipelineError(KindCache.String())
		return newError(KindCache, "cache.clear", err)
	}
	r.metrics.CacheCleared()
	r.logger.Info("Scan result cache cleared")
	return nil
}
