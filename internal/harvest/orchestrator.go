// Package harvest drives one complete crawl across the ranked listing
// pages and assembles the run's observation set.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hnwatch/hnwatch/internal/hn"
)

// PageFetcher retrieves and extracts one listing page.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) ([]hn.Observation, error)
}

// RetryPolicy decides whether and when a failed page fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Config captures the recognized tunables for a harvest run.
type Config struct {
	PageCount       int
	FirstPageCutoff int
	Concurrency     int
	RetryLimit      int
	BackoffBase     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageCount <= 0 {
		c.PageCount = 10
	}
	if c.FirstPageCutoff <= 0 {
		c.FirstPageCutoff = hn.ItemsPerPage
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 250 * time.Millisecond
	}
	return c
}

// Orchestrator produces exactly one observation set per triggered run.
type Orchestrator struct {
	cfg     Config
	fetcher PageFetcher
	retry   RetryPolicy
	clock   Clock
	logger  *zap.Logger
}

// New constructs an Orchestrator. A nil retry policy gets the default
// exponential policy built from the config.
func New(cfg Config, fetcher PageFetcher, retry RetryPolicy, clock Clock, logger *zap.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	if retry == nil {
		retry = NewExponentialRetryPolicy(cfg.RetryLimit, cfg.BackoffBase)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	InitMetrics()
	return &Orchestrator{
		cfg:     cfg,
		fetcher: fetcher,
		retry:   retry,
		clock:   clock,
		logger:  logger,
	}
}

type pageResult struct {
	page         int
	observations []hn.Observation
	err          error
}

// Run fetches pages 1..PageCount with bounded concurrency and assembles
// the observation set. The snapshot moment is captured once at run start
// so every fact from this run shares a single timestamp. A run where no
// page succeeded returns a CrawlError; reconciliation must not happen.
func (o *Orchestrator) Run(ctx context.Context) (hn.ObservationSet, error) {
	start := o.clock.Now()
	set := hn.ObservationSet{
		SnapshotMoment:  start,
		FirstPageCutoff: o.cfg.FirstPageCutoff,
	}
	o.logger.Info("harvest run starting",
		zap.Time("snapshot_moment", start),
		zap.Int("pages", o.cfg.PageCount),
		zap.Int("concurrency", o.cfg.Concurrency),
	)

	results := o.fetchAll(ctx)

	if err := ctx.Err(); err != nil {
		ObserveRun("canceled")
		return hn.ObservationSet{}, fmt.Errorf("harvest run canceled: %w", err)
	}

	var lastErr error
	succeeded := 0
	seen := make(map[hn.PostID]int, o.cfg.PageCount*hn.ItemsPerPage)
	for _, res := range results {
		if res.err != nil {
			lastErr = res.err
			set.PagesFailed = append(set.PagesFailed, res.page)
			continue
		}
		succeeded++
		for _, obs := range res.observations {
			// Duplicate identifiers across pages should not happen under
			// normal pagination; the earlier rank wins when they do.
			if idx, dup := seen[obs.ID]; dup {
				if obs.Rank < set.Observations[idx].Rank {
					set.Observations[idx] = obs
				}
				continue
			}
			seen[obs.ID] = len(set.Observations)
			set.Observations = append(set.Observations, obs)
		}
	}

	if succeeded == 0 {
		ObserveRun("failed")
		return hn.ObservationSet{}, &hn.CrawlError{Pages: o.cfg.PageCount, Err: lastErr}
	}

	sort.Slice(set.Observations, func(i, j int) bool {
		return set.Observations[i].Rank < set.Observations[j].Rank
	})
	sort.Ints(set.PagesFailed)

	ObserveRun("ok")
	observeRunResult(time.Since(start).Seconds(), len(set.Observations), set.FirstPageCount())
	o.logger.Info("harvest run assembled",
		zap.Int("items", len(set.Observations)),
		zap.Int("first_page_members", set.FirstPageCount()),
		zap.Ints("pages_failed", set.PagesFailed),
	)
	return set, nil
}

// fetchAll fans page numbers out to a fixed-size worker pool and waits
// for every page (or its retries) to finish. Completion is the run's
// synchronization barrier.
func (o *Orchestrator) fetchAll(ctx context.Context) []pageResult {
	pages := make(chan int)
	results := make([]pageResult, 0, o.cfg.PageCount)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for i := 0; i < o.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range pages {
				res := o.fetchPage(ctx, page)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}

feed:
	for page := 1; page <= o.cfg.PageCount; page++ {
		select {
		case pages <- page:
		case <-ctx.Done():
			break feed
		}
	}
	close(pages)
	wg.Wait()
	return results
}

func (o *Orchestrator) fetchPage(ctx context.Context, page int) pageResult {
	incActiveFetches()
	defer decActiveFetches()

	var lastErr error
	for attempt := 0; ; attempt++ {
		observations, err := o.fetcher.FetchPage(ctx, page)
		if err == nil {
			observePage("ok")
			return pageResult{page: page, observations: observations}
		}
		lastErr = err

		var extractErr *hn.ExtractionError
		if errors.As(err, &extractErr) {
			// Structural, not transient: skip the page with a warning and
			// let the rest of the run proceed.
			observePage("skipped")
			o.logger.Warn("page skipped: layout did not match",
				zap.Int("page", page),
				zap.Error(err),
			)
			return pageResult{page: page, err: err}
		}

		if !o.retry.ShouldRetry(err, attempt) {
			break
		}
		observeRetry()
		delay := o.retry.Backoff(attempt)
		o.logger.Debug("retrying page fetch",
			zap.Int("page", page),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return pageResult{page: page, err: fmt.Errorf("page %d fetch canceled: %w", page, ctx.Err())}
		case <-time.After(delay):
		}
	}

	observePage("failed")
	o.logger.Warn("page failed after retries", zap.Int("page", page), zap.Error(lastErr))
	return pageResult{page: page, err: lastErr}
}
