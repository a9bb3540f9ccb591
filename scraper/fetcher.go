package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-catalog/config"
)

// Page kinds label requests in metrics and logs.
const (
	KindHome    = "home"
	KindListing = "listing"
	KindDetail  = "detail"
	KindImage   = "image"
)

// Page is a successful GET response.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Document parses the page body as HTML.
func (p *Page) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.URL, err)
	}
	return doc, nil
}

type pageFetcher interface {
	Fetch(ctx context.Context, kind, rawURL string) (*Page, error)
}

// Fetcher performs blocking GETs through a shared colly backend, retrying
// transient failures.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	retry     *retryPolicy
	metrics   *Metrics

	requestCount int64
	errorCount   int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
}

// NewFetcher builds a fetcher restricted to the host of cfg.BaseURL.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	// Error statuses are delivered to OnResponse so that only non-2xx
	// codes count as failures.
	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.Parallelism,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure request limits: %w", err)
	}

	return &Fetcher{
		cfg:          cfg,
		collector:    collector,
		retry:        newRetryPolicy(cfg, metrics),
		metrics:      metrics,
		errorsByType: make(map[string]int),
	}, nil
}

// Fetch GETs rawURL. Any non-2xx response is returned as a *FetchError;
// transient failures are retried up to cfg.MaxRetries times first.
func (f *Fetcher) Fetch(ctx context.Context, kind, rawURL string) (*Page, error) {
	for attempt := 0; ; attempt++ {
		page, err := f.fetchOnce(ctx, kind, rawURL)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if f.retry.Schedule(ctx, attempt+1, err) {
			slog.Debug("retrying request",
				slog.String("kind", kind),
				slog.String("url", rawURL),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if kind != KindListing {
			f.mu.Lock()
			f.failedURLs = append(f.failedURLs, rawURL)
			f.mu.Unlock()
		}
		return nil, err
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, kind, rawURL string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := f.collector.Clone()
	if kind == KindImage {
		// Covers may live on a CDN host.
		c.AllowedDomains = nil
	}
	var (
		page   *Page
		status int
	)
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		current := atomic.AddInt64(&f.requestCount, 1)
		f.metrics.IncRequest(kind)
		if current%50 == 0 {
			slog.Debug("scraper request progress",
				slog.Int64("requests", current),
				slog.String("url", r.URL.String()),
			)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		if !successStatus(r.StatusCode) {
			return
		}
		page = &Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       r.Body,
		}
		if r.Headers != nil {
			page.Headers = r.Headers.Clone()
		}
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	start := time.Now()
	err := c.Visit(rawURL)
	f.metrics.ObserveDuration(kind, time.Since(start))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, f.recordError(kind, rawURL, status, err)
	}
	if page == nil {
		if status != 0 {
			return nil, f.recordError(kind, rawURL, status, statusError(status))
		}
		return nil, f.recordError(kind, rawURL, status, errors.New("no response"))
	}
	return page, nil
}

func successStatus(code int) bool {
	return code >= 200 && code <= 299
}

func statusError(code int) error {
	if text := http.StatusText(code); text != "" {
		return errors.New(text)
	}
	return fmt.Errorf("http status %d", code)
}

func (f *Fetcher) recordError(kind, rawURL string, status int, err error) error {
	atomic.AddInt64(&f.errorCount, 1)
	classified := classifyError(err, status)
	category := errorTypeLabel(classified)

	f.mu.Lock()
	f.errorsByType[category]++
	f.mu.Unlock()
	f.metrics.IncError(category)

	slog.Debug("request error",
		slog.String("kind", kind),
		slog.String("url", rawURL),
		slog.Int("status", status),
		slog.String("category", category),
		slog.Any("error", err),
	)
	return &FetchError{URL: rawURL, StatusCode: status, Err: classified}
}

// RequestCount returns the number of requests issued.
func (f *Fetcher) RequestCount() int {
	return int(atomic.LoadInt64(&f.requestCount))
}

// ErrorCount returns the number of failed attempts.
func (f *Fetcher) ErrorCount() int {
	return int(atomic.LoadInt64(&f.errorCount))
}

// RetryCount returns the number of retries performed.
func (f *Fetcher) RetryCount() int {
	return f.retry.TotalRetries()
}

// FailedURLs returns detail, image and home URLs that failed for good.
func (f *Fetcher) FailedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.failedURLs))
	copy(out, f.failedURLs)
	return out
}

// ErrorsByType returns failed attempts grouped by error label.
func (f *Fetcher) ErrorsByType() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}

type retryPolicy struct {
	cfg     *config.Config
	metrics *Metrics

	mu           sync.Mutex
	totalRetries int
}

func newRetryPolicy(cfg *config.Config, metrics *Metrics) *retryPolicy {
	return &retryPolicy{
		cfg:     cfg,
		metrics: metrics,
	}
}

// Schedule decides whether attempt may follow a failure with err and, if
// so, sleeps for the backoff. It returns false when the caller should give
// up, including when ctx ends during the wait.
func (rp *retryPolicy) Schedule(ctx context.Context, attempt int, err error) bool {
	if rp.cfg.MaxRetries == 0 || attempt > rp.cfg.MaxRetries {
		return false
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		err = fetchErr.Err
	}
	if !retryable(err) {
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	rp.mu.Lock()
	rp.totalRetries++
	rp.mu.Unlock()
	rp.metrics.IncRetries()

	timer := time.NewTimer(rp.backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (rp *retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rp.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rp.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (rp *retryPolicy) TotalRetries() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.totalRetries
}
