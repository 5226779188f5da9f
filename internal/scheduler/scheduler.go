// Package scheduler drives the ingestion pipeline over the query set in an
// endless loop, and wires the cron job for the daily operator digest.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/alexey-kott/youdo-watcher/internal/pipeline"
)

// Runner is the slice of the pipeline the scheduler drives.
type Runner interface {
	RunQuery(ctx context.Context, query string) error
	Snapshot(reset bool) pipeline.Counters
}

// QueryLoader returns the current query set, in file order.
type QueryLoader func() ([]string, error)

// Options carries the scheduler's tunables.
type Options struct {
	CycleDelay     time.Duration
	Reload         bool // re-read queries every cycle
	OperatorChatID int64
	DigestSpec     string // cron spec for the stats digest; defaults to @daily
}

// Scheduler runs poll cycles until its context is cancelled. One cycle is a
// full pass over the query set; a fixed delay separates cycles, with no
// jitter or backoff — per-call retry lives in the pipeline.
type Scheduler struct {
	runner  Runner
	sink    pipeline.Sink
	load    QueryLoader
	opts    Options
	cron    *cron.Cron
	log     *zap.SugaredLogger
	queries []string
}

// New creates a Scheduler. The initial query set is loaded on the first
// cycle; a later load failure reuses the previous set so an operator's
// half-saved edit never stalls polling.
func New(runner Runner, sink pipeline.Sink, load QueryLoader, opts Options, log *zap.SugaredLogger) *Scheduler {
	if opts.DigestSpec == "" {
		opts.DigestSpec = "@daily"
	}
	return &Scheduler{
		runner: runner,
		sink:   sink,
		load:   load,
		opts:   opts,
		cron:   cron.New(),
		log:    log,
	}
}

// Run blocks, polling until ctx is cancelled. Only the first query load may
// fail the scheduler; everything after that is log-and-continue, so a single
// bad cycle never takes the process down.
func (s *Scheduler) Run(ctx context.Context) error {
	queries, err := s.load()
	if err != nil {
		return fmt.Errorf("initial query load: %w", err)
	}
	s.queries = queries
	s.log.Infow("scheduler started", "queries", len(queries), "cycle_delay", s.opts.CycleDelay)

	if _, err := s.cron.AddFunc(s.opts.DigestSpec, func() { s.sendDigest(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	s.cron.Start()
	defer s.cron.Stop()

	for {
		if s.opts.Reload {
			if fresh, err := s.load(); err != nil {
				s.log.Warnw("query reload failed, keeping previous set", "err", err)
			} else {
				s.queries = fresh
			}
		}

		for _, query := range s.queries {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// RunQuery reports its own failures; a failed query must not
			// stop the pass over the remaining ones.
			_ = s.runner.RunQuery(ctx, query)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.CycleDelay):
		}
	}
}

// sendDigest posts the accumulated counters to the operator chat and resets
// them for the next period.
func (s *Scheduler) sendDigest(ctx context.Context) {
	c := s.runner.Snapshot(true)
	text := fmt.Sprintf(
		"📊 Watcher digest: %d discovered, %d new, %d notified, %d given up, %d errors",
		c.Discovered, c.New, c.Notified, c.GivenUp, c.Errors,
	)
	if err := s.sink.Send(ctx, s.opts.OperatorChatID, text); err != nil {
		s.log.Warnw("digest not delivered", "err", err)
	}
}
