// Package fetch retrieves listing pages over HTTP using gocolly.
package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/hnwatch/hnwatch/internal/hn"
	"github.com/hnwatch/hnwatch/internal/hn/extract"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RateLimitRPS caps outgoing requests across all concurrent page
	// fetches; zero disables the limiter.
	RateLimitRPS float64
	// BaseURL overrides the listing host, used by tests.
	BaseURL string
}

// Extractor is the page-content contract the fetcher delegates to.
type Extractor interface {
	Extract(body []byte, page int) ([]hn.Observation, error)
}

// Fetcher retrieves one listing page per call. Calls share no mutable
// state beyond the rate limiter, so concurrent invocation is safe.
type Fetcher struct {
	cfg           Config
	extractor     Extractor
	limiter       *rate.Limiter
	baseCollector *colly.Collector
}

// New builds a Fetcher around the given extractor.
func New(cfg Config, extractor Extractor) *Fetcher {
	if extractor == nil {
		extractor = extract.New(hn.ItemsPerPage)
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}
	return &Fetcher{
		cfg:           cfg,
		extractor:     extractor,
		limiter:       limiter,
		baseCollector: c,
	}
}

// FetchPage retrieves listing page `page` (1-based) and extracts its
// observations. Transport failures and retryable status codes surface as
// NetworkError; malformed content surfaces as ExtractionError.
func (f *Fetcher) FetchPage(ctx context.Context, page int) ([]hn.Observation, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &hn.NetworkError{Page: page, Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	body, status, err := f.fetch(ctx, f.pageURL(page))
	if err != nil {
		return nil, &hn.NetworkError{Page: page, Err: err}
	}
	if status != http.StatusOK {
		return nil, &hn.NetworkError{Page: page, Err: fmt.Errorf("unexpected status %d", status)}
	}
	return f.extractor.Extract(body, page)
}

func (f *Fetcher) pageURL(page int) string {
	if f.cfg.BaseURL != "" {
		return fmt.Sprintf("%s/news?p=%d", f.cfg.BaseURL, page)
	}
	return hn.ListingURL(page)
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, int, error) {
	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector := f.buildCollector(&body, &status, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, 0, fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			// Colly reports non-2xx responses through OnError; keep the
			// observed status so callers can classify it.
			return nil, status, fmt.Errorf("response from %s: %w", url, fetchErr)
		}
		return body, status, nil
	}
}

func (f *Fetcher) buildCollector(body *[]byte, status *int, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
		*status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
	return collector
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
