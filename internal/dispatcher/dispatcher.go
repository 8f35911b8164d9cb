// Package dispatcher fans queued crawl jobs out to a fixed set of consumers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
	"github.com/JakeFAU/omnicrawler/internal/worker"
)

// Runner executes one crawl.
type Runner interface {
	Run(ctx context.Context, seed crawler.SeedDescriptor) (worker.Summary, error)
}

// Dispatcher consumes the job queue with a fixed number of goroutines.
type Dispatcher struct {
	queue     crawler.Queue
	runner    Runner
	consumers int
	logger    *zap.Logger
	tracing   propagation.TextMapPropagator
}

// New creates a Dispatcher. consumers below one is treated as one.
func New(queue crawler.Queue, runner Runner, consumers int, logger *zap.Logger) *Dispatcher {
	if consumers < 1 {
		consumers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:     queue,
		runner:    runner,
		consumers: consumers,
		logger:    logger,
		tracing:   otel.GetTextMapPropagator(),
	}
}

// Run starts the consumers and blocks until the context finishes or the
// queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.consumers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			d.consume(ctx, d.logger.With(zap.Int("consumer", idx)))
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, logger *zap.Logger) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		d.runJob(ctx, item, logger)
	}
}

func (d *Dispatcher) runJob(ctx context.Context, item crawler.QueueItem, logger *zap.Logger) {
	log := logger.With(zap.String("job_id", item.JobID))
	log.Debug("dequeued job", zap.Duration("queued_for", time.Since(item.Submitted)))
	if len(item.Trace) > 0 {
		ctx = d.tracing.Extract(ctx, propagation.MapCarrier(item.Trace))
	}
	summary, err := d.runner.Run(ctx, item.Seed)
	if err != nil {
		log.Error("crawl job failed", zap.Error(err))
		return
	}
	log.Info("crawl job finished",
		zap.Int("total", summary.Total),
		zap.Int("changed", summary.Changed),
		zap.Int("failed", summary.Failed),
	)
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
