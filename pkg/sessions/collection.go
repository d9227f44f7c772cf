package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/sessionsync/internal/logging"
	"github.com/aretw0/sessionsync/pkg/batch"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/ports"
	"github.com/aretw0/sessionsync/pkg/wire"
)

// DefaultTimeout is how long a record lives past its lastUse before the
// store may reap it.
const DefaultTimeout = 30 * time.Minute

// Collection synchronizes session records with the sessions collection of one store.
// It holds no locks and starts no goroutines; concurrent calls are as safe as the store.
type Collection struct {
	store   ports.Store
	ns      domain.Namespace
	builder batch.Builder
	hooks   domain.LifecycleHooks
	logger  *slog.Logger
}

// Option configures the Collection.
type Option func(*Collection)

// WithNamespace selects the sessions collection. Defaults to config.system.sessions.
func WithNamespace(ns domain.Namespace) Option {
	return func(c *Collection) {
		c.ns = ns
	}
}

// WithBatchLimits sets the item and byte caps of every command.
// Non-positive values keep the defaults.
func WithBatchLimits(maxItems, maxBytes int) Option {
	return func(c *Collection) {
		c.builder = batch.NewBuilder(maxItems, maxBytes)
	}
}

// WithHooks registers lifecycle callbacks. Repeated calls chain the hooks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Collection) {
		c.hooks = c.hooks.Merge(hooks)
	}
}

// WithLogger configures a logger for the Collection.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collection) {
		c.logger = logger
	}
}

// New creates a Collection on store.
func New(store ports.Store, opts ...Option) *Collection {
	c := &Collection{
		store:  store,
		ns:     domain.DefaultNamespace(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Namespace returns the collection the engine writes to.
func (c *Collection) Namespace() domain.Namespace {
	return c.ns
}

// RefreshSessions upserts every record with lastUse raised to refreshTime.
// Batches are sent in order; the first failure stops the call. Batches sent
// before it stay applied.
func (c *Collection) RefreshSessions(ctx context.Context, records domain.RecordSet, refreshTime time.Time) error {
	batches, err := c.builder.Refresh(c.ns, records, refreshTime)
	if err != nil {
		return fmt.Errorf("failed to build refresh batches: %w", err)
	}
	return c.send(ctx, batches)
}

// RemoveRecords deletes the records of ids. Ids without a record are not an error.
func (c *Collection) RemoveRecords(ctx context.Context, ids domain.IDSet) error {
	batches, err := c.builder.Remove(c.ns, ids)
	if err != nil {
		return fmt.Errorf("failed to build remove batches: %w", err)
	}
	return c.send(ctx, batches)
}

// FetchRecord returns the record stored for id.
// It fails with domain.ErrNoSuchSession when there is none and with a
// *domain.ParseError when the stored document is malformed.
func (c *Collection) FetchRecord(ctx context.Context, id domain.LogicalSessionID) (domain.Record, error) {
	start := time.Now()
	rec, err := c.fetch(ctx, id)

	if c.hooks.OnLookup != nil {
		c.hooks.OnLookup(ctx, &domain.LookupEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventLookup, Namespace: c.ns.String()},
			SessionID: id.String(),
			Found:     err == nil,
			Duration:  time.Since(start),
			Err:       err,
		})
	}
	if err != nil && !errors.Is(err, domain.ErrNoSuchSession) {
		c.logger.Warn("session lookup failed", "session_id", id.String(), "err", err)
	}
	return rec, err
}

func (c *Collection) fetch(ctx context.Context, id domain.LogicalSessionID) (domain.Record, error) {
	docs, err := c.store.Find(ctx, ports.Query{Namespace: c.ns, IDs: []domain.LogicalSessionID{id}, Limit: 1})
	if err != nil {
		return domain.Record{}, err
	}
	if len(docs) == 0 {
		return domain.Record{}, domain.ErrNoSuchSession
	}
	return wire.ParseRecord(docs[0])
}

// FindRemovedSessions returns the members of ids that have no record.
// Ids are queried in chunks of the batch item cap.
func (c *Collection) FindRemovedSessions(ctx context.Context, ids domain.IDSet) (domain.IDSet, error) {
	removed := make(domain.IDSet, len(ids))
	if len(ids) == 0 {
		return removed, nil
	}

	maxItems, _ := c.builder.Limits()
	all := ids.Slice()
	for start := 0; start < len(all); start += maxItems {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("find removed sessions: %w", err)
		}

		chunk := all[start:min(start+maxItems, len(all))]
		docs, err := c.store.Find(ctx, ports.Query{Namespace: c.ns, IDs: chunk})
		if err != nil {
			return nil, fmt.Errorf("find removed sessions: %w", err)
		}

		found := make(domain.IDSet, len(docs))
		for _, doc := range docs {
			idVal, err := doc.LookupErr(wire.FieldID)
			if err != nil {
				return nil, &domain.ParseError{Field: wire.FieldID, Reason: "missing"}
			}
			id, err := wire.ParseID(idVal)
			if err != nil {
				return nil, err
			}
			found.Add(id)
		}
		for _, id := range chunk {
			if !found.Has(id) {
				removed.Add(id)
			}
		}
	}
	return removed, nil
}

// SetupCollection prepares the collection so records expire timeout after
// their lastUse. A non-positive timeout selects DefaultTimeout. Stores that
// cannot expire records are left as they are.
func (c *Collection) SetupCollection(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	in, ok := c.store.(ports.Initializer)
	if !ok {
		c.logger.Debug("store does not support collection setup", "namespace", c.ns.String())
		return nil
	}
	if err := in.SetupCollection(ctx, c.ns, timeout); err != nil {
		return fmt.Errorf("failed to set up %s: %w", c.ns, err)
	}
	c.logger.Info("sessions collection ready", "namespace", c.ns.String(), "timeout", timeout)
	return nil
}

// Ping reports whether the store is reachable. Stores without a health check
// are assumed reachable.
func (c *Collection) Ping(ctx context.Context) error {
	if p, ok := c.store.(ports.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *Collection) send(ctx context.Context, batches []batch.Batch) error {
	total := len(batches)
	for k, b := range batches {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s aborted before batch %d/%d: %w", b.Kind, k+1, total, err)
		}

		start := time.Now()
		err := c.store.SendBatch(ctx, b)
		elapsed := time.Since(start)

		if c.hooks.OnBatchSent != nil {
			c.hooks.OnBatchSent(ctx, &domain.BatchEvent{
				EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventBatchSent, Namespace: c.ns.String()},
				Kind:      string(b.Kind),
				Index:     k,
				Total:     total,
				Size:      b.Len(),
				Bytes:     b.Bytes(),
				Duration:  elapsed,
				Err:       err,
			})
		}

		if err != nil {
			c.logger.Warn("batch failed", "kind", b.Kind, "batch", k+1, "total", total, "size", b.Len(), "err", err)
			return fmt.Errorf("%s batch %d/%d: %w", b.Kind, k+1, total, err)
		}
		c.logger.Debug("batch sent", "kind", b.Kind, "batch", k+1, "total", total, "size", b.Len(), "bytes", b.Bytes(), "duration", elapsed)
	}
	return nil
}
