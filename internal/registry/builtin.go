package registry

import (
	"context"
	"fmt"
	"io"

	"github.com/aretw0/sessionsync/internal/config"
	"github.com/aretw0/sessionsync/pkg/adapters/file"
	"github.com/aretw0/sessionsync/pkg/adapters/memory"
	"github.com/aretw0/sessionsync/pkg/adapters/mongo"
	"github.com/aretw0/sessionsync/pkg/adapters/redis"
	"github.com/aretw0/sessionsync/pkg/adapters/sharded"
	"github.com/aretw0/sessionsync/pkg/ports"
)

// Default returns a registry holding every built-in binding.
func Default() *Registry {
	r := NewRegistry()
	r.Register(config.StoreMemory, openMemory)
	r.Register(config.StoreFile, openFile)
	r.Register(config.StoreMongo, openMongo)
	r.Register(config.StoreRedis, openRedis)
	r.Register(config.StoreSharded, openSharded)
	return r
}

func openMemory(ctx context.Context, r *Registry, cfg config.StoreConfig) (ports.Store, error) {
	return memory.NewStore(), nil
}

func openFile(ctx context.Context, r *Registry, cfg config.StoreConfig) (ports.Store, error) {
	return file.New(cfg.File.Dir), nil
}

func openMongo(ctx context.Context, r *Registry, cfg config.StoreConfig) (ports.Store, error) {
	return mongo.Connect(cfg.Mongo.URI)
}

func openRedis(ctx context.Context, r *Registry, cfg config.StoreConfig) (ports.Store, error) {
	opts := []redis.Option{redis.WithTTL(cfg.Redis.TTL)}
	if cfg.Redis.Prefix != "" {
		opts = append(opts, redis.WithPrefix(cfg.Redis.Prefix))
	}
	return redis.New(cfg.Redis.Addrs, cfg.Redis.Password, cfg.Redis.DB, opts...), nil
}

func openSharded(ctx context.Context, r *Registry, cfg config.StoreConfig) (ports.Store, error) {
	shards := make([]ports.Store, 0, len(cfg.Shards))
	for i, sc := range cfg.Shards {
		s, err := r.Open(ctx, sc)
		if err != nil {
			closeAll(shards)
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
		shards = append(shards, s)
	}
	return sharded.New(shards...)
}

func closeAll(stores []ports.Store) {
	for _, s := range stores {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
