package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/sessionsync/internal/config"
	"github.com/aretw0/sessionsync/pkg/adapters/file"
	"github.com/aretw0/sessionsync/pkg/adapters/memory"
	"github.com/aretw0/sessionsync/pkg/adapters/redis"
	"github.com/aretw0/sessionsync/pkg/adapters/sharded"
	"github.com/aretw0/sessionsync/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Open(t *testing.T) {
	r := NewRegistry()
	want := memory.NewStore()
	r.Register("custom", func(ctx context.Context, r *Registry, cfg config.StoreConfig) (ports.Store, error) {
		return want, nil
	})

	got, err := r.Open(context.Background(), config.StoreConfig{Kind: "custom"})
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, []string{"custom"}, r.Kinds())
}

func TestRegistry_UnknownKind(t *testing.T) {
	_, err := NewRegistry().Open(context.Background(), config.StoreConfig{Kind: "etcd"})
	assert.EqualError(t, err, "store kind not registered: etcd")
}

func TestRegistry_FactoryError(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", func(ctx context.Context, r *Registry, cfg config.StoreConfig) (ports.Store, error) {
		return nil, errors.New("no route to host")
	})

	_, err := r.Open(context.Background(), config.StoreConfig{Kind: "broken"})
	assert.EqualError(t, err, "failed to open broken store: no route to host")
}

func TestDefault_Builtins(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"file", "memory", "mongo", "redis", "sharded"}, r.Kinds())

	ctx := context.Background()
	s, err := r.Open(ctx, config.StoreConfig{Kind: config.StoreMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)

	s, err = r.Open(ctx, config.StoreConfig{Kind: config.StoreFile, File: config.FileConfig{Dir: t.TempDir()}})
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, s)

	s, err = r.Open(ctx, config.StoreConfig{
		Kind:   config.StoreSharded,
		Shards: []config.StoreConfig{{Kind: config.StoreMemory}, {Kind: config.StoreMemory}},
	})
	require.NoError(t, err)
	assert.IsType(t, &sharded.Store{}, s)
}

func TestDefault_ShardError(t *testing.T) {
	_, err := Default().Open(context.Background(), config.StoreConfig{
		Kind:   config.StoreSharded,
		Shards: []config.StoreConfig{{Kind: config.StoreMemory}, {Kind: "etcd"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shard 1: store kind not registered: etcd")
}

func TestDefault_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Default().Open(context.Background(), config.StoreConfig{
		Kind:  config.StoreRedis,
		Redis: config.RedisConfig{Addrs: []string{mr.Addr()}, Prefix: "test:"},
	})
	require.NoError(t, err)
	require.IsType(t, &redis.Store{}, s)

	rs := s.(*redis.Store)
	t.Cleanup(func() { _ = rs.Close() })
	assert.NoError(t, rs.Ping(context.Background()))
}
