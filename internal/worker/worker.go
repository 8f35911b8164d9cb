// Package worker runs the per-record ingestion pipeline under a
// concurrency cap.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/omnicrawler/internal/clock/system"
	"github.com/JakeFAU/omnicrawler/internal/crawler"
	"github.com/JakeFAU/omnicrawler/internal/enrich"
	"github.com/JakeFAU/omnicrawler/internal/fingerprint"
	"github.com/JakeFAU/omnicrawler/internal/metrics"
)

// EventRecordChanged is published after a record's stored content changes.
const EventRecordChanged = "record.changed"

// Outcome classifies how one record pipeline finished.
type Outcome string

// Record outcomes.
const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeChanged   Outcome = "changed"
	OutcomeConflict  Outcome = "conflict"
	OutcomeFailed    Outcome = "failed"
)

// Options configures a Pool.
type Options struct {
	Store crawler.StoreGateway
	// Archive, when set, receives a JSON snapshot of every changed record.
	Archive       crawler.BlobStore
	ArchivePrefix string
	// Publisher, when set, receives a ChangeEvent for every changed record.
	Publisher crawler.Publisher
	Clock     crawler.Clock
	Logger    *zap.Logger
	// Enrich derives features; defaults to enrich.Enrich.
	Enrich func(crawler.RawRecord) crawler.FeatureSet
}

// Summary aggregates the outcomes of one Run.
type Summary struct {
	Total     int `json:"total"`
	Unchanged int `json:"unchanged"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeChanged:
		s.Changed++
	case OutcomeConflict:
		s.Conflicts++
	default:
		s.Failed++
	}
}

// ChangeEvent is the payload published for a changed record.
type ChangeEvent struct {
	Identity            string              `json:"identity"`
	Fingerprint         crawler.Fingerprint `json:"fingerprint"`
	PreviousFingerprint crawler.Fingerprint `json:"previous_fingerprint,omitempty"`
	SnapshotURI         string              `json:"snapshot_uri,omitempty"`
	SeedType            crawler.SeedType    `json:"seed_type"`
	SeedValue           string              `json:"seed_value"`
	ChangedAt           string              `json:"changed_at"`
}

// Pool drives records through fingerprint, lookup, enrichment and persistence.
type Pool struct {
	store         crawler.StoreGateway
	archive       crawler.BlobStore
	archivePrefix string
	publisher     crawler.Publisher
	clock         crawler.Clock
	logger        *zap.Logger
	enrich        func(crawler.RawRecord) crawler.FeatureSet
}

// New constructs a Pool. A store is required.
func New(opts Options) (*Pool, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store gateway is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.Enrich == nil {
		opts.Enrich = enrich.Enrich
	}
	return &Pool{
		store:         opts.Store,
		archive:       opts.Archive,
		archivePrefix: strings.Trim(opts.ArchivePrefix, "/"),
		publisher:     opts.Publisher,
		clock:         opts.Clock,
		logger:        opts.Logger,
		enrich:        opts.Enrich,
	}, nil
}

// Run processes records with at most seed.Config.GlobalConcurrency pipelines
// in flight. Per-record failures are logged and counted, never returned.
func (p *Pool) Run(ctx context.Context, seed crawler.SeedDescriptor, records []crawler.RawRecord) Summary {
	limit := seed.Config.GlobalConcurrency
	if limit <= 0 {
		limit = crawler.DefaultGlobalConcurrency
	}
	p.logger.Info("crawl.start",
		zap.String("seed_type", string(seed.Type)),
		zap.String("seed_value", seed.Value),
		zap.String("mode", string(seed.Config.Mode)),
		zap.Int("count", len(records)),
	)

	var (
		mu      sync.Mutex
		summary = Summary{Total: len(records)}
		g       errgroup.Group
	)
	g.SetLimit(limit)
	for i := range records {
		rec := records[i]
		g.Go(func() error {
			outcome := p.process(ctx, seed, rec)
			metrics.ObserveRecord(string(outcome))
			mu.Lock()
			summary.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("crawl.done",
		zap.String("seed_type", string(seed.Type)),
		zap.String("seed_value", seed.Value),
		zap.Int("total", summary.Total),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("changed", summary.Changed),
		zap.Int("failed", summary.Failed),
		zap.Int("conflicts", summary.Conflicts),
	)
	return summary
}

func (p *Pool) process(ctx context.Context, seed crawler.SeedDescriptor, rec crawler.RawRecord) Outcome {
	metrics.IncActivePipelines()
	defer metrics.DecActivePipelines()

	log := p.logger.With(zap.String("identity", rec.Identity))
	if rec.Identity == "" {
		log.Error("record has no identity")
		return OutcomeFailed
	}

	fp := fingerprint.Compute(rec)
	stored, found, err := p.store.LookupFingerprint(ctx, rec.Identity)
	if err != nil {
		log.Error("lookup fingerprint failed", zap.Error(err))
		return OutcomeFailed
	}
	if found && stored == fp {
		if err := p.store.Touch(ctx, rec.Identity); err != nil {
			log.Error("touch record failed", zap.Error(err))
			return OutcomeFailed
		}
		log.Debug("record unchanged", zap.String("fingerprint", string(fp)))
		return OutcomeUnchanged
	}

	var expected crawler.Fingerprint
	if found {
		expected = stored
	}
	changed, err := p.store.Upsert(ctx, crawler.UpsertRequest{
		Record:      rec,
		Fingerprint: fp,
		Expected:    &expected,
		Features:    p.enrich(rec),
	})
	switch {
	case errors.Is(err, crawler.ErrConflict):
		log.Warn("record changed concurrently", zap.String("fingerprint", string(fp)))
		return OutcomeConflict
	case err != nil:
		log.Error("upsert failed", zap.Error(fmt.Errorf("persist record %q: %w", rec.Identity, err)))
		return OutcomeFailed
	case !changed:
		return OutcomeUnchanged
	}

	p.afterChange(ctx, seed, rec, fp, expected, log)
	return OutcomeChanged
}

// afterChange archives and announces a changed record. Failures here are
// counted but never change the record's outcome.
func (p *Pool) afterChange(
	ctx context.Context,
	seed crawler.SeedDescriptor,
	rec crawler.RawRecord,
	fp, previous crawler.Fingerprint,
	log *zap.Logger,
) {
	var uri string
	if p.archive != nil {
		var err error
		uri, err = p.archiveSnapshot(ctx, rec, fp)
		if err != nil {
			metrics.ObserveSideEffectFailure("archive")
			log.Warn("archive snapshot failed", zap.Error(err))
		}
	}
	if p.publisher == nil {
		return
	}
	event := ChangeEvent{
		Identity:            rec.Identity,
		Fingerprint:         fp,
		PreviousFingerprint: previous,
		SnapshotURI:         uri,
		SeedType:            seed.Type,
		SeedValue:           seed.Value,
		ChangedAt:           p.clock.Now().UTC().Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, EventRecordChanged, event); err != nil {
		metrics.ObserveSideEffectFailure("publish")
		log.Warn("publish change failed", zap.Error(err))
	}
}

func (p *Pool) archiveSnapshot(ctx context.Context, rec crawler.RawRecord, fp crawler.Fingerprint) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	uri, err := p.archive.PutObject(ctx, p.snapshotPath(rec.Identity, fp), "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}
	return uri, nil
}

func (p *Pool) snapshotPath(identity string, fp crawler.Fingerprint) string {
	name := fmt.Sprintf("%s/%s.json", url.PathEscape(identity), fp)
	if p.archivePrefix == "" {
		return name
	}
	return p.archivePrefix + "/" + name
}
