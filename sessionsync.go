package sessionsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aretw0/sessionsync/internal/config"
	"github.com/aretw0/sessionsync/internal/logging"
	"github.com/aretw0/sessionsync/internal/registry"
	httpAdapter "github.com/aretw0/sessionsync/pkg/adapters/http"
	"github.com/aretw0/sessionsync/pkg/observability"
	"github.com/aretw0/sessionsync/pkg/ports"
	"github.com/aretw0/sessionsync/pkg/session"
	"github.com/aretw0/sessionsync/pkg/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Client is a configured collection with its store, tracker and metrics.
type Client struct {
	Collection *sessions.Collection
	Tracker    *session.Tracker
	Metrics    *observability.Metrics

	store   ports.Store
	cfg     *config.Config
	promReg *prometheus.Registry
	logger  *slog.Logger
}

type settings struct {
	storeKind string
	logLevel  string
	logger    *slog.Logger
}

// Option defines a functional option for configuring Open.
type Option func(*settings)

// WithStoreKind overrides the configured store kind.
func WithStoreKind(kind string) Option {
	return func(s *settings) {
		s.storeKind = kind
	}
}

// WithLogLevel overrides the configured log level.
func WithLogLevel(level string) Option {
	return func(s *settings) {
		s.logLevel = level
	}
}

// WithLogger uses logger instead of building one from the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// Open loads the configuration at path (empty for defaults and environment
// only), opens the configured store and builds the collection on it.
func Open(ctx context.Context, path string, opts ...Option) (*Client, error) {
	var set settings
	for _, opt := range opts {
		opt(&set)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if set.storeKind != "" {
		cfg.Store.Kind = set.storeKind
	}
	if set.logLevel != "" {
		cfg.Log.Level = set.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := set.logger
	if logger == nil {
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		logger = logging.New(level, cfg.Log.Format)
	}

	store, err := registry.Default().Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(promReg)

	coll := sessions.New(store,
		sessions.WithNamespace(cfg.Namespace),
		sessions.WithBatchLimits(cfg.Batch.MaxItems, cfg.Batch.MaxBytes),
		sessions.WithHooks(metrics.Hooks()),
		sessions.WithLogger(logger.With("component", "sessions")),
	)
	tracker := session.NewTracker(coll,
		session.WithMaxElapsed(cfg.Flush.MaxElapsed),
		session.WithLogger(logger.With("component", "tracker")),
	)

	logger.Debug("client opened", "store", cfg.Store.Kind, "namespace", cfg.Namespace.String())
	return &Client{
		Collection: coll,
		Tracker:    tracker,
		Metrics:    metrics,
		store:      store,
		cfg:        cfg,
		promReg:    promReg,
		logger:     logger,
	}, nil
}

// Handler returns the HTTP API of the client. Single-session touch and
// delete are queued on the tracker.
func (c *Client) Handler() http.Handler {
	return httpAdapter.NewHandler(c.Collection,
		httpAdapter.WithTracker(c.Tracker),
		httpAdapter.WithGatherer(c.promReg),
		httpAdapter.WithLogger(c.logger.With("component", "http")),
	)
}

// Setup prepares the sessions collection with the configured session timeout.
func (c *Client) Setup(ctx context.Context) error {
	return c.Collection.SetupCollection(ctx, c.cfg.Session.Timeout)
}

// RunTracker flushes the tracker on the configured interval until ctx is done.
func (c *Client) RunTracker(ctx context.Context) {
	c.Tracker.Run(ctx, c.cfg.Flush.Interval)
}

// Addr is the configured HTTP listen address.
func (c *Client) Addr() string {
	return c.cfg.HTTP.Addr
}

// StoreKind is the kind of the opened store.
func (c *Client) StoreKind() string {
	return c.cfg.Store.Kind
}

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Close releases the store.
func (c *Client) Close() error {
	if closer, ok := c.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close %s store: %w", c.cfg.Store.Kind, err)
		}
	}
	return nil
}
