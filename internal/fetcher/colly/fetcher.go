// Package collyfetcher implements crawler.Transport using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Proxy, when set, routes every request through this absolute URL.
	Proxy string
	// MaxBodySize caps the bytes read from a response body. Zero means
	// DefaultMaxBodySize.
	MaxBodySize int
}

// DefaultMaxBodySize is the body cap when Config.MaxBodySize is unset.
const DefaultMaxBodySize = 10 << 20

// ErrBodyTooLarge reports a response body longer than Config.MaxBodySize.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Fetcher issues single GET attempts through a shared Colly collector.
// Every status code is reported back to the caller; only transport failures
// surface as errors.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	transport := newHTTPTransport()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = crawler.DefaultRequestTimeout
	}
	if cfg.MaxBodySize < 0 {
		return nil, fmt.Errorf("max body size must be >= 0, got %d", cfg.MaxBodySize)
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	// One byte past the cap so an oversized body is detectable instead of
	// silently truncated.
	c.MaxBodySize = cfg.MaxBodySize + 1
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}, nil
}

// Do executes a single HTTP GET. The attempt is bounded by request.Timeout
// (or the configured default) and by ctx.
func (f *Fetcher) Do(ctx context.Context, request crawler.TransportRequest) (crawler.TransportResponse, error) {
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		result   crawler.TransportResponse
		fetchErr error
	)
	collector := f.buildCollector(attemptCtx, request, time.Now(), &result, &fetchErr)
	if err := f.runCollector(attemptCtx, collector, request.URL, &fetchErr); err != nil {
		return crawler.TransportResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request crawler.TransportRequest,
	start time.Time,
	result *crawler.TransportResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.TransportRequest,
	start time.Time,
	result *crawler.TransportResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		if len(r.Body) > f.cfg.MaxBodySize {
			*fetchErr = fmt.Errorf("%w: more than %d bytes from %s", ErrBodyTooLarge, f.cfg.MaxBodySize, r.Request.URL)
			return
		}
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.TransportResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
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
