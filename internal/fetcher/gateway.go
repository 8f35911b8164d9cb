// Package fetcher provides the host-aware, retrying HTTP accessor used by
// source adapters.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
	"github.com/JakeFAU/omnicrawler/internal/metrics"
	"github.com/JakeFAU/omnicrawler/internal/policy/ratelimit"
)

// Default request headers sent with every attempt unless overridden.
const (
	DefaultUserAgent = "OmniCrawler/0.1 (+https://example.com)"
	DefaultAccept    = "application/json, */*;q=0.8"
)

// Response is a successful fetch. JSON is populated only for JSON-typed
// content; other bodies are left for the caller to interpret.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	JSON        any
}

// IsJSON reports whether the response carried JSON content.
func (r Response) IsJSON() bool {
	return isJSONContentType(r.ContentType)
}

// Options configures a Gateway.
type Options struct {
	Transport      crawler.Transport
	Limiter        *ratelimit.Limiter
	RetryCount     int
	BackoffBase    time.Duration
	RequestTimeout time.Duration
	Headers        map[string]string
	Logger         *zap.Logger
}

// Gateway retries failed GETs with exponential backoff and admits at most
// the limiter's per-host capacity of concurrent attempts.
type Gateway struct {
	transport      crawler.Transport
	limiter        *ratelimit.Limiter
	retryCount     int
	backoffBase    time.Duration
	requestTimeout time.Duration
	headers        http.Header
	logger         *zap.Logger

	jitter func(time.Duration) time.Duration
	sleep  func(context.Context, time.Duration) error
}

// New builds a Gateway. A nil Limiter gets a private one with the default
// per-host limit.
func New(opts Options) (*Gateway, error) {
	if opts.Transport == nil {
		return nil, errors.New("fetcher: transport is required")
	}
	if opts.RetryCount < 0 {
		return nil, fmt.Errorf("fetcher: retry count must be >= 0, got %d", opts.RetryCount)
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{PerHostLimit: crawler.DefaultPerHostLimit})
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = crawler.DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	headers := http.Header{}
	headers.Set("User-Agent", DefaultUserAgent)
	headers.Set("Accept", DefaultAccept)
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}

	return &Gateway{
		transport:      opts.Transport,
		limiter:        limiter,
		retryCount:     opts.RetryCount,
		backoffBase:    opts.BackoffBase,
		requestTimeout: timeout,
		headers:        headers,
		logger:         logger,
		jitter:         randomJitter,
		sleep:          sleepContext,
	}, nil
}

// Fetch GETs rawURL, retrying any failure up to RetryCount extra times.
// JSON-typed bodies are decoded, and a body that fails to decode counts as a
// failed attempt. Exhaustion yields a *FetchError wrapping the last cause.
func (g *Gateway) Fetch(ctx context.Context, rawURL string) (Response, error) {
	return g.fetch(ctx, rawURL, true)
}

func (g *Gateway) fetch(ctx context.Context, rawURL string, decode bool) (Response, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= g.retryCount; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.backoff(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		attempts++
		resp, err := g.attempt(ctx, rawURL, decode)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		g.logger.Debug("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", g.retryCount+1),
			zap.Error(err),
		)
	}
	g.logger.Warn("fetch failed", zap.String("url", rawURL), zap.Int("attempts", attempts), zap.Error(lastErr))
	return Response{}, &FetchError{URL: rawURL, Attempts: attempts, Err: lastErr}
}

// FetchJSON fetches rawURL and returns its decoded JSON body. A successful
// response that is not JSON-typed yields a *PermanentFetchError.
func (g *Gateway) FetchJSON(ctx context.Context, rawURL string) (any, error) {
	resp, err := g.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !resp.IsJSON() {
		return nil, &PermanentFetchError{URL: rawURL, ContentType: resp.ContentType}
	}
	return resp.JSON, nil
}

// FetchRaw fetches rawURL and returns its content type and body text
// untouched, whatever the content type claims.
func (g *Gateway) FetchRaw(ctx context.Context, rawURL string) (string, string, error) {
	resp, err := g.fetch(ctx, rawURL, false)
	if err != nil {
		return "", "", err
	}
	return resp.ContentType, string(resp.Body), nil
}

func (g *Gateway) attempt(ctx context.Context, rawURL string, decode bool) (Response, error) {
	release, err := g.limiter.Acquire(ctx, rawURL)
	if err != nil {
		return Response{}, fmt.Errorf("admission: %w", err)
	}
	defer release()

	host := ratelimit.HostOf(rawURL)
	tr, err := g.transport.Do(ctx, crawler.TransportRequest{
		URL:     rawURL,
		Headers: g.headers.Clone(),
		Timeout: g.requestTimeout,
	})
	if err != nil {
		metrics.ObserveFetchAttempt(host, "error", 0)
		return Response{}, fmt.Errorf("request %s: %w", rawURL, err)
	}
	if tr.StatusCode < http.StatusOK || tr.StatusCode >= http.StatusMultipleChoices {
		metrics.ObserveFetchAttempt(host, statusOutcome(tr.StatusCode), len(tr.Body))
		return Response{}, &StatusError{Code: tr.StatusCode}
	}

	resp := Response{
		URL:         tr.URL,
		StatusCode:  tr.StatusCode,
		ContentType: tr.Headers.Get("Content-Type"),
		Body:        tr.Body,
	}
	if decode && resp.IsJSON() {
		decoded, err := decodeJSON(tr.Body)
		if err != nil {
			metrics.ObserveFetchAttempt(host, "parse_error", len(tr.Body))
			return Response{}, fmt.Errorf("decode json from %s: %w", rawURL, err)
		}
		resp.JSON = decoded
	}
	metrics.ObserveFetchAttempt(host, "success", len(tr.Body))
	return resp, nil
}

func statusOutcome(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return "throttled"
	case code >= http.StatusInternalServerError:
		return "server_error"
	default:
		return "client_error"
	}
}

func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode: trailing data after JSON value")
	}
	return v, nil
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
