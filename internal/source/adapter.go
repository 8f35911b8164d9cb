// Package source resolves a seed into raw records, either synthetically or
// by fetching a provider URL and normalizing whatever comes back.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/omnicrawler/internal/clock/system"
	"github.com/JakeFAU/omnicrawler/internal/crawler"
	"github.com/JakeFAU/omnicrawler/internal/extract"
)

// Placeholder is substituted with the escaped seed value in URL templates.
const Placeholder = "{value}"

// Fetcher is the subset of the fetch gateway the adapter needs.
type Fetcher interface {
	FetchJSON(ctx context.Context, rawURL string) (any, error)
	FetchRaw(ctx context.Context, rawURL string) (contentType string, body string, err error)
}

// Options configures an Adapter.
type Options struct {
	// Templates maps non-url seed types to provider URL templates.
	Templates map[crawler.SeedType]string
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// Adapter turns seeds into records.
type Adapter struct {
	fetcher   Fetcher
	templates map[crawler.SeedType]string
	clock     crawler.Clock
	logger    *zap.Logger
}

// New builds an Adapter. fetcher may be nil when only synthetic seeds are
// resolved.
func New(fetcher Fetcher, opts Options) *Adapter {
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		fetcher:   fetcher,
		templates: opts.Templates,
		clock:     clock,
		logger:    logger,
	}
}

// extractionResult is the outcome of the structured path. An empty or failed
// result sends Resolve down the markup fallback.
type extractionResult struct {
	records []crawler.RawRecord
	err     error
}

func (r extractionResult) usable() bool {
	return r.err == nil && len(r.records) > 0
}

// Resolve returns at most seed.Config.MaxRecords records for seed. A seed type
// without a configured template resolves to no records and no error.
func (a *Adapter) Resolve(ctx context.Context, seed crawler.SeedDescriptor) ([]crawler.RawRecord, error) {
	limit := seed.Config.MaxRecords
	if seed.Config.Mode != crawler.ModeReal {
		return Synthetic(seed.Value, limit, a.clock.Now()), nil
	}
	if limit <= 0 {
		return []crawler.RawRecord{}, nil
	}
	if a.fetcher == nil {
		return nil, errors.New("source: real mode requires a fetcher")
	}

	target, ok := a.ResolveURL(seed)
	if !ok {
		a.logger.Debug("no url template for seed type", zap.String("seed_type", string(seed.Type)))
		return []crawler.RawRecord{}, nil
	}

	res := a.extractStructured(ctx, target, limit)
	if res.usable() {
		return res.records, nil
	}
	a.logger.Debug("structured extraction yielded nothing, falling back to markup",
		zap.String("url", target),
		zap.Int("records", len(res.records)),
		zap.Error(res.err),
	)
	return a.extractMarkup(ctx, target)
}

// ResolveURL maps seed to the URL to fetch.
func (a *Adapter) ResolveURL(seed crawler.SeedDescriptor) (string, bool) {
	if seed.Type == crawler.SeedTypeURL {
		return seed.Value, seed.Value != ""
	}
	tpl, ok := a.templates[seed.Type]
	if !ok || tpl == "" {
		return "", false
	}
	return expandTemplate(tpl, seed.Value), true
}

// expandTemplate substitutes value for the first placeholder. A placeholder in
// the query string is query-escaped, one in the path is path-escaped.
func expandTemplate(tpl, value string) string {
	idx := strings.Index(tpl, Placeholder)
	if idx < 0 {
		return tpl
	}
	escaped := url.PathEscape(value)
	if q := strings.IndexByte(tpl, '?'); q >= 0 && q < idx {
		escaped = url.QueryEscape(value)
	}
	return tpl[:idx] + escaped + tpl[idx+len(Placeholder):]
}

func (a *Adapter) extractStructured(ctx context.Context, target string, limit int) extractionResult {
	data, err := a.fetcher.FetchJSON(ctx, target)
	if err != nil {
		return extractionResult{err: err}
	}
	items, shape := recognizeShape(data)
	records := make([]crawler.RawRecord, 0, min(len(items), limit))
	for _, item := range items {
		rec, ok := recordFromItem(item)
		if !ok {
			continue
		}
		records = append(records, rec)
		if len(records) >= limit {
			break
		}
	}
	a.logger.Debug("structured extraction",
		zap.String("url", target),
		zap.String("shape", shape),
		zap.Int("items", len(items)),
		zap.Int("records", len(records)),
	)
	return extractionResult{records: records}
}

func (a *Adapter) extractMarkup(ctx context.Context, target string) ([]crawler.RawRecord, error) {
	contentType, body, err := a.fetcher.FetchRaw(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("fetch %s for markup: %w", target, err)
	}
	if body == "" || !strings.Contains(strings.ToLower(contentType), "html") {
		return []crawler.RawRecord{}, nil
	}
	rec, err := extract.FromHTML(target, body)
	if err != nil {
		return nil, fmt.Errorf("extract markup from %s: %w", target, err)
	}
	return []crawler.RawRecord{rec}, nil
}
