// Package pipeline orchestrates task ingestion: search, dedup, enrichment,
// persistence and notification, in that order, one item at a time.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/alexey-kott/youdo-watcher/internal/catalog"
	"github.com/alexey-kott/youdo-watcher/internal/model"
)

// enrichRetries bounds in-cycle detail-fetch retries for transport failures
// (initial attempt plus retries). Anything still failing falls back to the
// next poll cycle, up to the persistent give-up cap.
const enrichRetries = 2

// Catalog is the remote listings client the pipeline reads from.
type Catalog interface {
	Search(ctx context.Context, query string) ([]model.Task, error)
	FetchDetail(ctx context.Context, id int64) (string, error)
}

// Store is the dedup gate. Only the pipeline writes to it.
type Store interface {
	Exists(ctx context.Context, id int64) (bool, error)
	Put(ctx context.Context, id int64, payload []byte) error
	BumpAttempts(ctx context.Context, id int64) (int64, error)
}

// Sink delivers one formatted message to a chat.
type Sink interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Archiver is the optional secondary persistence sink; failures are logged
// and never gate notification.
type Archiver interface {
	SaveTask(ctx context.Context, task model.Task) error
}

// Counters is a point-in-time snapshot of pipeline activity, reported in the
// daily operator digest.
type Counters struct {
	Discovered int
	New        int
	Notified   int
	GivenUp    int
	Errors     int
}

// Options carries the tunables the pipeline needs from config.
type Options struct {
	ChannelID         int64
	OperatorChatID    int64
	ItemDelay         time.Duration
	EnrichMaxAttempts int
}

// Pipeline processes the candidate tasks for one query at a time. Within a
// query, items are handled strictly sequentially in API order; every remote
// call is awaited before the next one starts.
type Pipeline struct {
	catalog Catalog
	store   Store
	sink    Sink
	archive Archiver
	opts    Options
	log     *zap.SugaredLogger

	mu       sync.Mutex
	counters Counters
}

// New constructs a Pipeline. archive may be nil.
func New(cat Catalog, st Store, sink Sink, archive Archiver, opts Options, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		catalog: cat,
		store:   st,
		sink:    sink,
		archive: archive,
		opts:    opts,
		log:     log,
	}
}

// RunQuery executes one ingestion pass for a single query. A search failure
// aborts the whole query (with an operator diagnostic); per-item failures
// only skip that item.
func (p *Pipeline) RunQuery(ctx context.Context, query string) error {
	tasks, err := p.catalog.Search(ctx, query)
	if err != nil {
		p.bump(func(c *Counters) { c.Errors++ })
		p.reportSearchFailure(ctx, query, err)
		return fmt.Errorf("search %q: %w", query, err)
	}

	p.log.Debugw("search complete", "query", query, "candidates", len(tasks))

	for _, task := range tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.processTask(ctx, task)
		sleep(ctx, p.opts.ItemDelay)
	}

	return nil
}

// SearchNow is the synchronous command-surface entry point: it searches,
// formats every result, and splits them into sendable messages. It never
// touches the dedup store.
func (p *Pipeline) SearchNow(ctx context.Context, query string) ([]string, error) {
	tasks, err := p.catalog.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	if len(tasks) == 0 {
		return []string{fmt.Sprintf("No open tasks found for %q.", query)}, nil
	}

	blocks := make([]string, 0, len(tasks))
	for _, task := range tasks {
		blocks = append(blocks, BuildMessage(task))
	}

	return SplitBatch(blocks), nil
}

// Snapshot returns the current counters, optionally resetting them.
func (p *Pipeline) Snapshot(reset bool) Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.counters
	if reset {
		p.counters = Counters{}
	}
	return c
}

// processTask walks one candidate through the dedup gate, enrichment,
// persistence and notification. Persist strictly precedes notify: a task
// that was announced but not recorded would be announced again next cycle.
func (p *Pipeline) processTask(ctx context.Context, task model.Task) {
	p.bump(func(c *Counters) { c.Discovered++ })

	seen, err := p.store.Exists(ctx, task.ID)
	if err != nil {
		// Dedup state is unknowable; notifying now could duplicate. Skip the
		// item — it is rediscovered next cycle.
		p.bump(func(c *Counters) { c.Errors++ })
		p.log.Errorw("dedup check failed, skipping item", "task", task.ID, "err", err)
		return
	}
	if seen {
		return
	}

	p.bump(func(c *Counters) { c.New++ })

	description, err := p.enrich(ctx, task.ID)
	if err != nil {
		p.handleEnrichFailure(ctx, task, err)
		return
	}
	task.Description = description

	payload, err := json.Marshal(task)
	if err != nil {
		p.bump(func(c *Counters) { c.Errors++ })
		p.log.Errorw("marshal task failed", "task", task.ID, "err", err)
		return
	}

	if err := p.store.Put(ctx, task.ID, payload); err != nil {
		p.bump(func(c *Counters) { c.Errors++ })
		p.log.Errorw("persist failed, skipping notify", "task", task.ID, "err", err)
		return
	}

	if p.archive != nil {
		if err := p.archive.SaveTask(ctx, task); err != nil {
			p.log.Warnw("archive insert failed", "task", task.ID, "err", err)
		}
	}

	if err := p.sink.Send(ctx, p.opts.ChannelID, BuildMessage(task)); err != nil {
		// The task is persisted, so it will never be retried: at-most-once
		// delivery is preferred over spamming the channel on sink hiccups.
		p.bump(func(c *Counters) { c.Errors++ })
		p.log.Errorw("notify failed after persist, task will not be re-sent",
			"task", task.ID, "err", err)
		return
	}

	p.bump(func(c *Counters) { c.Notified++ })
	p.log.Infow("task notified", "task", task.ID, "title", task.Name)
}

// enrich fetches the full description, retrying transport failures with
// exponential backoff inside the cycle. Layout mismatches and protocol
// errors are not retried here; they go through the persistent attempt
// counter instead.
func (p *Pipeline) enrich(ctx context.Context, id int64) (string, error) {
	op := func() (string, error) {
		description, err := p.catalog.FetchDetail(ctx, id)
		if err != nil {
			if errors.Is(err, catalog.ErrUnavailable) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return description, nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), enrichRetries), ctx)
	return backoff.RetryWithData(op, b)
}

// handleEnrichFailure bumps the persistent attempt counter and, at the cap,
// gives the task up: it is written to the dedup store (so it is never
// notified) and operators are told. Below the cap the task stays eligible
// for the next cycle.
func (p *Pipeline) handleEnrichFailure(ctx context.Context, task model.Task, cause error) {
	attempts, err := p.store.BumpAttempts(ctx, task.ID)
	if err != nil {
		p.bump(func(c *Counters) { c.Errors++ })
		p.log.Errorw("attempt counter failed", "task", task.ID, "err", err)
		return
	}

	if attempts < int64(p.opts.EnrichMaxAttempts) {
		p.log.Warnw("enrichment failed, will retry next cycle",
			"task", task.ID, "attempts", attempts, "err", cause)
		return
	}

	record := struct {
		model.Task
		GivenUp  bool  `json:"GivenUp"`
		Attempts int64 `json:"Attempts"`
	}{Task: task, GivenUp: true, Attempts: attempts}

	payload, merr := json.Marshal(record)
	if merr != nil {
		p.log.Errorw("marshal give-up record failed", "task", task.ID, "err", merr)
		return
	}
	if err := p.store.Put(ctx, task.ID, payload); err != nil {
		// Store write failed, so the task stays eligible; try again next cycle.
		p.bump(func(c *Counters) { c.Errors++ })
		p.log.Errorw("give-up persist failed", "task", task.ID, "err", err)
		return
	}

	p.bump(func(c *Counters) { c.GivenUp++ })
	p.log.Errorw("giving up on task after repeated enrichment failures",
		"task", task.ID, "attempts", attempts, "err", cause)
	p.operatorMessage(ctx, fmt.Sprintf(
		"⚠️ Giving up on task %d (%s) after %d failed enrichment attempts: %v",
		task.ID, task.Name, attempts, cause))
}

// reportSearchFailure sends a best-effort operator diagnostic for a failed
// search, including the status code and raw body when the remote signalled
// an error.
func (p *Pipeline) reportSearchFailure(ctx context.Context, query string, err error) {
	p.log.Errorw("search failed", "query", query, "err", err)

	text := fmt.Sprintf("⚠️ Search %q failed: %v", query, err)
	var statusErr *catalog.StatusError
	if errors.As(err, &statusErr) {
		text = fmt.Sprintf("⚠️ Search %q failed: remote returned %d\n%s",
			query, statusErr.StatusCode, statusErr.Body)
	}

	p.operatorMessage(ctx, text)
}

// operatorMessage delivers a diagnostic to the operator chat, best-effort.
func (p *Pipeline) operatorMessage(ctx context.Context, text string) {
	if err := p.sink.Send(ctx, p.opts.OperatorChatID, text); err != nil {
		p.log.Warnw("operator diagnostic not delivered", "err", err)
	}
}

func (p *Pipeline) bump(f func(*Counters)) {
	p.mu.Lock()
	f(&p.counters)
	p.mu.Unlock()
}

// sleep waits d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
