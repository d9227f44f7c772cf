package sharded

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/sessionsync/pkg/batch"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/ports"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"
)

// ErrNoShards is returned by New when no shard is given.
var ErrNoShards = errors.New("sharded store needs at least one shard")

// Store routes each record to one of several stores by a hash of its session id.
// A batch is split per shard and the parts are sent concurrently.
type Store struct {
	shards []ports.Store
}

var (
	_ ports.Store       = (*Store)(nil)
	_ ports.Initializer = (*Store)(nil)
	_ ports.Pinger      = (*Store)(nil)
)

// New creates a router over shards. The order of shards is part of the
// routing, so it must be stable across restarts.
func New(shards ...ports.Store) (*Store, error) {
	if len(shards) == 0 {
		return nil, ErrNoShards
	}
	return &Store{shards: shards}, nil
}

// Shard returns the index of the shard that owns id.
func (s *Store) Shard(id domain.LogicalSessionID) int {
	return int(xxhash.Sum64(id.ID[:]) % uint64(len(s.shards)))
}

// SendBatch sends the part of b owned by each shard. All parts are attempted;
// the first failure is returned.
func (s *Store) SendBatch(ctx context.Context, b batch.Batch) error {
	parts := make([][]int, len(s.shards))
	for i, op := range b.Ops {
		n := s.Shard(op.ID)
		parts[n] = append(parts[n], i)
	}

	var g errgroup.Group
	for n, indices := range parts {
		if len(indices) == 0 {
			continue
		}
		sub := b.Subset(indices)
		g.Go(func() error {
			if err := s.shards[n].SendBatch(ctx, sub); err != nil {
				return fmt.Errorf("shard %d: %w", n, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Find queries every shard owning one of q.IDs and merges the results.
func (s *Store) Find(ctx context.Context, q ports.Query) ([]bson.Raw, error) {
	parts := make([][]domain.LogicalSessionID, len(s.shards))
	for _, id := range q.IDs {
		n := s.Shard(id)
		parts[n] = append(parts[n], id)
	}

	results := make([][]bson.Raw, len(s.shards))
	g, gctx := errgroup.WithContext(ctx)
	for n, ids := range parts {
		if len(ids) == 0 {
			continue
		}
		g.Go(func() error {
			docs, err := s.shards[n].Find(gctx, ports.Query{Namespace: q.Namespace, IDs: ids, Limit: q.Limit})
			if err != nil {
				return fmt.Errorf("shard %d: %w", n, err)
			}
			results[n] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var docs []bson.Raw
	for _, r := range results {
		for _, doc := range r {
			if q.Limit > 0 && len(docs) >= q.Limit {
				return docs, nil
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// SetupCollection prepares the collection on every shard that supports it.
func (s *Store) SetupCollection(ctx context.Context, ns domain.Namespace, expireAfter time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	for n, shard := range s.shards {
		in, ok := shard.(ports.Initializer)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := in.SetupCollection(gctx, ns, expireAfter); err != nil {
				return fmt.Errorf("shard %d: %w", n, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Ping pings every shard that supports it.
func (s *Store) Ping(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for n, shard := range s.shards {
		p, ok := shard.(ports.Pinger)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := p.Ping(gctx); err != nil {
				return fmt.Errorf("shard %d: %w", n, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes every shard that holds resources and reports all failures.
func (s *Store) Close() error {
	var result *multierror.Error
	for n, shard := range s.shards {
		c, ok := shard.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("shard %d: %w", n, err))
		}
	}
	return result.ErrorOrNil()
}
