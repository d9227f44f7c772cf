package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/sessionsync/internal/logging"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
)

// DefaultMaxElapsed bounds the retries of one flush step.
const DefaultMaxElapsed = 30 * time.Second

// Syncer is the part of sessions.Collection the tracker drives.
type Syncer interface {
	RefreshSessions(ctx context.Context, records domain.RecordSet, refreshTime time.Time) error
	RemoveRecords(ctx context.Context, ids domain.IDSet) error
}

// Tracker collects sessions used and ended by a process and pushes them to
// the sessions collection on Flush. Sessions that could not be pushed are kept
// for the next flush. Safe for concurrent use.
type Tracker struct {
	syncer Syncer

	mu      sync.Mutex
	touched domain.RecordSet
	ended   domain.IDSet

	flushMu    sync.Mutex // serializes flushes
	maxElapsed time.Duration
	newBackOff func() backoff.BackOff
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithMaxElapsed bounds how long one flush step is retried.
// Non-positive values keep DefaultMaxElapsed.
func WithMaxElapsed(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.maxElapsed = d
		}
	}
}

// WithBackOff replaces the retry policy. f is called once per flush step.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(t *Tracker) {
		t.newBackOff = f
	}
}

// WithClock sets the source of refresh times.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithLogger configures a logger for the Tracker.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// NewTracker creates a Tracker pushing to syncer.
func NewTracker(syncer Syncer, opts ...Option) *Tracker {
	t := &Tracker{
		syncer:     syncer,
		touched:    make(domain.RecordSet),
		ended:      make(domain.IDSet),
		maxElapsed: DefaultMaxElapsed,
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.newBackOff == nil {
		t.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = t.maxElapsed
			return b
		}
	}
	return t
}

// Touch marks the session of rec as in use. It cancels a pending End.
func (t *Tracker) Touch(rec domain.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ended, rec.ID)
	t.touched.Add(rec)
}

// End marks id as ended. Its record is removed on the next flush.
func (t *Tracker) End(id domain.LogicalSessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.touched, id)
	t.ended.Add(id)
}

// Pending returns how many sessions wait to be refreshed and removed.
func (t *Tracker) Pending() (touched, ended int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.touched), len(t.ended)
}

// Flush refreshes all touched sessions and removes all ended ones, each as one
// call retried with backoff. Whatever was not confirmed is requeued unless the
// session changed state in the meantime. Both steps run even if one fails.
// A session the store can never accept is logged and dropped so it does not
// hold back the others.
func (t *Tracker) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	touched, ended := t.touched, t.ended
	t.touched, t.ended = make(domain.RecordSet), make(domain.IDSet)
	t.mu.Unlock()

	var result *multierror.Error

	if len(touched) > 0 {
		at := t.now()
		err := t.push(ctx, "refresh", dropFrom(touched), func() error {
			return t.syncer.RefreshSessions(ctx, touched, at)
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to refresh %d sessions: %w", len(touched), err))
			t.requeueTouched(touched)
		}
	}

	if len(ended) > 0 {
		err := t.push(ctx, "remove", dropFrom(ended), func() error {
			return t.syncer.RemoveRecords(ctx, ended)
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to remove %d sessions: %w", len(ended), err))
			t.requeueEnded(ended)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	t.logger.Debug("tracker flushed", "refreshed", len(touched), "removed", len(ended))
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.maxElapsed)
			if err := t.Flush(final); err != nil {
				t.logger.Error("final flush failed", "err", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := t.Flush(ctx); err != nil {
				t.logger.Warn("flush failed, sessions requeued", "err", err)
			}
		}
	}
}

// push runs op with retries. When op fails because one session cannot be
// written at all, drop removes that session from op's input and op runs again.
func (t *Tracker) push(ctx context.Context, step string, drop func(domain.LogicalSessionID) bool, op func() error) error {
	for {
		err := t.retry(ctx, step, op)
		var re *domain.RecordError
		if err == nil || !errors.Is(err, domain.ErrInvalidBatch) || !errors.As(err, &re) || !drop(re.ID) {
			return err
		}
		t.logger.Error("dropping session the store cannot accept", "step", step, "session_id", re.ID.String(), "err", err)
	}
}

// dropFrom returns a drop func deleting ids from set.
func dropFrom[V any](set map[domain.LogicalSessionID]V) func(domain.LogicalSessionID) bool {
	return func(id domain.LogicalSessionID) bool {
		if _, ok := set[id]; !ok {
			return false
		}
		delete(set, id)
		return true
	}
}

func (t *Tracker) retry(ctx context.Context, step string, op func() error) error {
	attempt := func() error {
		err := op()
		if err != nil && !domain.IsRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		t.logger.Debug("retrying flush step", "step", step, "wait", wait, "err", err)
	}
	return backoff.RetryNotify(attempt, backoff.WithContext(t.newBackOff(), ctx), notify)
}

func (t *Tracker) requeueTouched(records domain.RecordSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, rec := range records {
		if _, ended := t.ended[id]; ended {
			continue
		}
		if _, newer := t.touched[id]; newer {
			continue
		}
		t.touched[id] = rec
	}
}

func (t *Tracker) requeueEnded(ids domain.IDSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range ids {
		if _, retouched := t.touched[id]; retouched {
			continue
		}
		t.ended.Add(id)
	}
}
