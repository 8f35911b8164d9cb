// Package service runs one crawl end to end: validate the seed, build a
// gateway scoped to the crawl, resolve records and drive them through the
// worker pool.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
	"github.com/JakeFAU/omnicrawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/omnicrawler/internal/fetcher/colly"
	"github.com/JakeFAU/omnicrawler/internal/metrics"
	"github.com/JakeFAU/omnicrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/omnicrawler/internal/source"
	"github.com/JakeFAU/omnicrawler/internal/worker"
)

// ErrInvalidSeed marks seeds rejected before any work starts.
var ErrInvalidSeed = errors.New("invalid seed")

// TransportFactory builds the HTTP transport for one crawl.
type TransportFactory func(cfg crawler.CrawlConfig, userAgent string) (crawler.Transport, error)

// Options configures a Service.
type Options struct {
	Store         crawler.StoreGateway
	Archive       crawler.BlobStore
	ArchivePrefix string
	Publisher     crawler.Publisher
	Templates     map[crawler.SeedType]string
	UserAgent     string
	// HostRPS optionally throttles each host to a steady request rate.
	HostRPS   float64
	HostBurst int
	// MaxBodySize caps response bodies read by the default transport.
	MaxBodySize int
	Clock       crawler.Clock
	Logger      *zap.Logger
	// NewTransport defaults to a Colly-backed transport.
	NewTransport TransportFactory
}

// Service executes crawls.
type Service struct {
	pool         *worker.Pool
	templates    map[crawler.SeedType]string
	userAgent    string
	hostRPS      float64
	hostBurst    int
	clock        crawler.Clock
	logger       *zap.Logger
	newTransport TransportFactory
}

// New constructs a Service.
func New(opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := worker.New(worker.Options{
		Store:         opts.Store,
		Archive:       opts.Archive,
		ArchivePrefix: opts.ArchivePrefix,
		Publisher:     opts.Publisher,
		Clock:         opts.Clock,
		Logger:        logger.Named("worker"),
	})
	if err != nil {
		return nil, fmt.Errorf("build worker pool: %w", err)
	}
	newTransport := opts.NewTransport
	if newTransport == nil {
		newTransport = collyTransport(opts.MaxBodySize)
	}
	return &Service{
		pool:         pool,
		templates:    opts.Templates,
		userAgent:    opts.UserAgent,
		hostRPS:      opts.HostRPS,
		hostBurst:    opts.HostBurst,
		clock:        opts.Clock,
		logger:       logger,
		newTransport: newTransport,
	}, nil
}

func collyTransport(maxBodySize int) TransportFactory {
	return func(cfg crawler.CrawlConfig, userAgent string) (crawler.Transport, error) {
		f, err := collyfetcher.New(collyfetcher.Config{
			UserAgent:   userAgent,
			Timeout:     cfg.RequestTimeout,
			Proxy:       cfg.Proxy,
			MaxBodySize: maxBodySize,
		})
		if err != nil {
			return nil, fmt.Errorf("build colly transport: %w", err)
		}
		return f, nil
	}
}

// ValidateSeed checks the descriptor and its crawl config.
func ValidateSeed(seed crawler.SeedDescriptor) error {
	if strings.TrimSpace(string(seed.Type)) == "" {
		return fmt.Errorf("%w: seed_type is required", ErrInvalidSeed)
	}
	if strings.TrimSpace(seed.Value) == "" {
		return fmt.Errorf("%w: seed_value is required", ErrInvalidSeed)
	}
	if err := seed.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}
	return nil
}

// Run executes one crawl. It fails only for an invalid seed or when the seed
// cannot be resolved; per-record failures are reported in the Summary.
func (s *Service) Run(ctx context.Context, seed crawler.SeedDescriptor) (worker.Summary, error) {
	mode := string(seed.Config.Mode)
	if err := ValidateSeed(seed); err != nil {
		metrics.ObserveCrawl(mode, "invalid")
		return worker.Summary{}, err
	}

	adapter, err := s.adapterFor(seed.Config)
	if err != nil {
		metrics.ObserveCrawl(mode, "error")
		return worker.Summary{}, err
	}
	records, err := adapter.Resolve(ctx, seed)
	if err != nil {
		metrics.ObserveCrawl(mode, "error")
		return worker.Summary{}, fmt.Errorf("resolve seed %s:%s: %w", seed.Type, seed.Value, err)
	}

	summary := s.pool.Run(ctx, seed, records)
	metrics.ObserveCrawl(mode, "ok")
	return summary, nil
}

// adapterFor builds an Adapter whose gateway and limiter live only for one
// crawl, so concurrent crawls never share admission state.
func (s *Service) adapterFor(cfg crawler.CrawlConfig) (*source.Adapter, error) {
	opts := source.Options{
		Templates: s.templates,
		Clock:     s.clock,
		Logger:    s.logger.Named("source"),
	}
	if cfg.Mode != crawler.ModeReal {
		return source.New(nil, opts), nil
	}

	transport, err := s.newTransport(cfg, s.userAgent)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(cfg.Headers)+1)
	if s.userAgent != "" {
		headers["User-Agent"] = s.userAgent
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	gw, err := fetcher.New(fetcher.Options{
		Transport: transport,
		Limiter: ratelimit.New(ratelimit.Config{
			PerHostLimit: cfg.PerHostLimit,
			DefaultRPS:   s.hostRPS,
			DefaultBurst: s.hostBurst,
		}),
		RetryCount:     cfg.RetryCount,
		BackoffBase:    cfg.BackoffBase,
		RequestTimeout: cfg.RequestTimeout,
		Headers:        headers,
		Logger:         s.logger.Named("fetcher"),
	})
	if err != nil {
		return nil, fmt.Errorf("build fetch gateway: %w", err)
	}
	return source.New(gw, opts), nil
}
