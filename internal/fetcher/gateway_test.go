package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/omnicrawler/internal/fetcher/colly"
	"github.com/JakeFAU/omnicrawler/internal/policy/ratelimit"
)

type transportFunc func(ctx context.Context, req crawler.TransportRequest) (crawler.TransportResponse, error)

func (f transportFunc) Do(ctx context.Context, req crawler.TransportRequest) (crawler.TransportResponse, error) {
	return f(ctx, req)
}

func jsonResponse(body string) crawler.TransportResponse {
	return crawler.TransportResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"application/json; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func TestGatewayRetryBudget(t *testing.T) {
	t.Parallel()

	const (
		retries = 3
		base    = 10 * time.Millisecond
	)
	var calls atomic.Int32
	g, err := New(Options{
		Transport: transportFunc(func(context.Context, crawler.TransportRequest) (crawler.TransportResponse, error) {
			calls.Add(1)
			return crawler.TransportResponse{}, errors.New("connection reset")
		}),
		RetryCount:  retries,
		BackoffBase: base,
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = g.Fetch(context.Background(), "https://flaky.example/feed")
	elapsed := time.Since(start)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, retries+1, fetchErr.Attempts)
	require.Equal(t, int32(retries+1), calls.Load())
	require.ErrorContains(t, err, "connection reset")

	var floors time.Duration
	for i := 0; i < retries; i++ {
		floors += backoffFloor(base, i)
	}
	require.Equal(t, 70*time.Millisecond, floors)
	require.GreaterOrEqual(t, elapsed, floors)
}

func TestGatewayZeroRetriesMakesOneAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	g, err := New(Options{
		Transport: transportFunc(func(context.Context, crawler.TransportRequest) (crawler.TransportResponse, error) {
			calls.Add(1)
			return crawler.TransportResponse{StatusCode: http.StatusBadGateway}, nil
		}),
	})
	require.NoError(t, err)

	_, err = g.Fetch(context.Background(), "https://down.example")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.Code)
	require.Equal(t, int32(1), calls.Load())
}

func TestGatewayRecoversAfterTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	g, err := New(Options{
		Transport: transportFunc(func(context.Context, crawler.TransportRequest) (crawler.TransportResponse, error) {
			switch calls.Add(1) {
			case 1:
				return crawler.TransportResponse{StatusCode: http.StatusTooManyRequests}, nil
			case 2:
				return jsonResponse(`{"items":`), nil
			default:
				return jsonResponse(`{"items":[{"username":"bob"}]}`), nil
			}
		}),
		RetryCount: 2,
	})
	require.NoError(t, err)
	g.jitter = func(time.Duration) time.Duration { return 0 }

	data, err := g.FetchJSON(context.Background(), "https://api.example/items")
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	obj, ok := data.(map[string]any)
	require.True(t, ok)
	require.Len(t, obj["items"], 1)
}

func TestGatewayFetchJSONRejectsMarkupWithoutRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	g, err := New(Options{
		Transport: transportFunc(func(context.Context, crawler.TransportRequest) (crawler.TransportResponse, error) {
			calls.Add(1)
			return crawler.TransportResponse{
				StatusCode: http.StatusOK,
				Headers:    http.Header{"Content-Type": {"text/html"}},
				Body:       []byte("<html></html>"),
			}, nil
		}),
		RetryCount: 2,
	})
	require.NoError(t, err)

	_, err = g.FetchJSON(context.Background(), "https://site.example")
	require.ErrorIs(t, err, ErrPermanent)
	require.Equal(t, int32(1), calls.Load())

	contentType, text, err := g.FetchRaw(context.Background(), "https://site.example")
	require.NoError(t, err)
	require.Equal(t, "text/html", contentType)
	require.Equal(t, "<html></html>", text)
}

func TestGatewayDoesNotParseNonJSONAsJSON(t *testing.T) {
	t.Parallel()

	g, err := New(Options{
		Transport: transportFunc(func(context.Context, crawler.TransportRequest) (crawler.TransportResponse, error) {
			return crawler.TransportResponse{
				StatusCode: http.StatusOK,
				Headers:    http.Header{"Content-Type": {"text/plain"}},
				Body:       []byte(`{"looks":"like json"}`),
			}, nil
		}),
	})
	require.NoError(t, err)

	resp, err := g.Fetch(context.Background(), "https://plain.example")
	require.NoError(t, err)
	require.False(t, resp.IsJSON())
	require.Nil(t, resp.JSON)
}

func TestGatewayFetchRawKeepsMalformedJSONBody(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	g, err := New(Options{
		Transport: transportFunc(func(context.Context, crawler.TransportRequest) (crawler.TransportResponse, error) {
			calls.Add(1)
			return jsonResponse(`{"items": [`), nil
		}),
		RetryCount: 2,
	})
	require.NoError(t, err)
	g.jitter = func(time.Duration) time.Duration { return 0 }

	contentType, text, err := g.FetchRaw(context.Background(), "https://api.example/broken")
	require.NoError(t, err)
	require.Equal(t, "application/json; charset=utf-8", contentType)
	require.Equal(t, `{"items": [`, text)
	require.Equal(t, int32(1), calls.Load())

	_, err = g.FetchJSON(context.Background(), "https://api.example/broken")
	require.ErrorContains(t, err, "decode json")
	require.Equal(t, int32(4), calls.Load(), "FetchJSON still retries an unparsable body")
}

func TestGatewaySendsDefaultAndConfiguredHeaders(t *testing.T) {
	t.Parallel()

	var seen http.Header
	g, err := New(Options{
		Transport: transportFunc(func(_ context.Context, req crawler.TransportRequest) (crawler.TransportResponse, error) {
			seen = req.Headers
			require.Equal(t, 3*time.Second, req.Timeout)
			return jsonResponse(`[]`), nil
		}),
		RequestTimeout: 3 * time.Second,
		Headers:        map[string]string{"accept": "application/json", "x-api-key": "k"},
	})
	require.NoError(t, err)

	_, err = g.Fetch(context.Background(), "https://api.example")
	require.NoError(t, err)
	require.Equal(t, DefaultUserAgent, seen.Get("User-Agent"))
	require.Equal(t, "application/json", seen.Get("Accept"))
	require.Equal(t, "k", seen.Get("X-Api-Key"))
}

func TestGatewayStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	g, err := New(Options{
		Transport: transportFunc(func(context.Context, crawler.TransportRequest) (crawler.TransportResponse, error) {
			calls.Add(1)
			cancel()
			return crawler.TransportResponse{}, errors.New("boom")
		}),
		RetryCount:  5,
		BackoffBase: time.Second,
	})
	require.NoError(t, err)

	_, err = g.Fetch(ctx, "https://slow.example")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestGatewayAdmissionBound(t *testing.T) {
	t.Parallel()

	const (
		limit    = 2
		requests = 6
	)
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	g, err := New(Options{
		Transport: transportFunc(func(context.Context, crawler.TransportRequest) (crawler.TransportResponse, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			return jsonResponse(`[]`), nil
		}),
		Limiter: ratelimit.New(ratelimit.Config{PerHostLimit: limit}),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Fetch(context.Background(), "https://one-host.example/page")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int32(limit))
}

func TestGatewaySlotReleasedAfterExhaustedFailure(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(ratelimit.Config{PerHostLimit: 1})
	g, err := New(Options{
		Transport: transportFunc(func(context.Context, crawler.TransportRequest) (crawler.TransportResponse, error) {
			return crawler.TransportResponse{}, errors.New("refused")
		}),
		Limiter:    limiter,
		RetryCount: 1,
	})
	require.NoError(t, err)
	g.sleep = func(context.Context, time.Duration) error { return nil }

	_, err = g.Fetch(context.Background(), "https://refused.example")
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	release, err := limiter.Acquire(ctx, "https://refused.example")
	require.NoError(t, err)
	release()
}

func TestGatewayWithCollyTransport(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"profiles":[{"username":"carol","followers":12345678901}]}`))
	}))
	defer srv.Close()

	transport, err := collyfetcher.New(collyfetcher.Config{Timeout: time.Second})
	require.NoError(t, err)
	g, err := New(Options{Transport: transport, RetryCount: 1, BackoffBase: time.Millisecond})
	require.NoError(t, err)

	data, err := g.FetchJSON(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, int32(2), hits.Load())

	profiles := data.(map[string]any)["profiles"].([]any)
	require.Len(t, profiles, 1)
	require.Equal(t, "12345678901", profiles[0].(map[string]any)["followers"].(interface{ String() string }).String())
}

func TestIsJSONContentType(t *testing.T) {
	t.Parallel()

	require.True(t, isJSONContentType("application/json"))
	require.True(t, isJSONContentType("Application/JSON; charset=utf-8"))
	require.True(t, isJSONContentType("application/ld+json"))
	require.False(t, isJSONContentType("text/html"))
	require.False(t, isJSONContentType(""))
}

func TestNewRequiresTransport(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{Transport: transportFunc(nil), RetryCount: -1})
	require.Error(t, err)
}
