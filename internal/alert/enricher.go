package alert

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/riskeye/internal/metrics"
	"github.com/riskeye/internal/models"
)

const (
	defaultMaxConcurrency = 10
	defaultEnrichTimeout  = 10 * time.Second
)

// MetricSource supplies the live value an alert watches.
type MetricSource interface {
	FetchMetric(ctx context.Context, cfg *models.AlertConfig) (float64, error)
}

// NullMetricSource is used when no feed is configured. Every fetch fails
// with ErrMetricUnavailable.
type NullMetricSource struct{}

func (NullMetricSource) FetchMetric(ctx context.Context, cfg *models.AlertConfig) (float64, error) {
	return 0, fmt.Errorf("%w: no metric source configured for %s/%s", ErrMetricUnavailable, cfg.AlertType, cfg.AlertClass)
}

// MetricSourceFunc adapts a function to MetricSource.
type MetricSourceFunc func(ctx context.Context, cfg *models.AlertConfig) (float64, error)

func (f MetricSourceFunc) FetchMetric(ctx context.Context, cfg *models.AlertConfig) (float64, error) {
	return f(ctx, cfg)
}

// Enrichment is the outcome of fetching one alert's metric.
type Enrichment struct {
	Config   *models.AlertConfig
	Value    float64
	Err      error
	Duration time.Duration
}

type Enricher struct {
	source  MetricSource
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewEnricher(source MetricSource, maxConcurrency int64, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Enricher {
	if source == nil {
		source = NullMetricSource{}
	}
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	if timeout <= 0 {
		timeout = defaultEnrichTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		source:  source,
		sem:     semaphore.NewWeighted(maxConcurrency),
		timeout: timeout,
		logger:  logger.Named("enricher"),
		metrics: m,
	}
}

// EnrichAll fetches every alert's metric concurrently. Results keep the
// order of alerts; a failed fetch only affects its own entry.
func (e *Enricher) EnrichAll(ctx context.Context, alerts []models.AlertConfig) []Enrichment {
	results := make([]Enrichment, len(alerts))
	var wg sync.WaitGroup

	for i := range alerts {
		cfg := &alerts[i]
		results[i].Config = cfg

		if err := e.sem.Acquire(ctx, 1); err != nil {
			results[i].Err = fmt.Errorf("enrichment not started: %w", err)
			e.metrics.Enrichment("cancelled")
			continue
		}

		wg.Add(1)
		go func(i int, cfg *models.AlertConfig) {
			defer wg.Done()
			defer e.sem.Release(1)

			start := time.Now()
			value, err := e.fetch(ctx, cfg)
			results[i].Value = value
			results[i].Err = err
			results[i].Duration = time.Since(start)

			if err != nil {
				e.metrics.Enrichment("failed")
				e.logger.Warn("metric fetch failed",
					zap.String("alert_id", cfg.ID),
					zap.Error(err),
				)
				return
			}
			e.metrics.Enrichment("ok")
		}(i, cfg)
	}

	wg.Wait()
	return results
}

type fetchResult struct {
	value float64
	err   error
}

// fetch bounds the call even when the source ignores its context.
func (e *Enricher) fetch(ctx context.Context, cfg *models.AlertConfig) (float64, error) {
	fctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan fetchResult, 1)
	go func() {
		v, err := e.source.FetchMetric(fctx, cfg)
		ch <- fetchResult{value: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return 0, r.err
		}
		if math.IsNaN(r.value) || math.IsInf(r.value, 0) {
			return 0, fmt.Errorf("%w: non-finite value %v", ErrMetricUnavailable, r.value)
		}
		return r.value, nil
	case <-fctx.Done():
		return 0, fmt.Errorf("metric fetch: %w", fctx.Err())
	}
}
