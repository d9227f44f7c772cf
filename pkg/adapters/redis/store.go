package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aretw0/sessionsync/pkg/batch"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/ports"
	"github.com/aretw0/sessionsync/pkg/wire"
	backend "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// DefaultPrefix is prepended to every record key.
const DefaultPrefix = "sessionsync:"

// Hash fields of a record.
const (
	hashLastUse = "lastUse"
	hashUser    = "user"
)

// upsertScript raises lastUse to ARGV[1] (epoch ms) unless the stored value is
// later, and sets the owner only when the record is created.
// ARGV[2] is "1" when ARGV[3] holds an owner name, ARGV[4] the expiry in ms.
var upsertScript = backend.NewScript(`
local created = redis.call("EXISTS", KEYS[1]) == 0
if created and ARGV[2] == "1" then
	redis.call("HSET", KEYS[1], "user", ARGV[3])
end
local cur = tonumber(redis.call("HGET", KEYS[1], "lastUse"))
local at = tonumber(ARGV[1])
if cur == nil or at > cur then
	redis.call("HSET", KEYS[1], "lastUse", ARGV[1])
	cur = at
end
local ttl = tonumber(ARGV[4])
if ttl > 0 then
	redis.call("PEXPIREAT", KEYS[1], string.format("%d", cur + ttl))
end
if created then
	return 1
end
return 0
`)

// Store implements ports.Store on Redis. Each record is a hash at
// <prefix><db>.<collection>:<session id>.
type Store struct {
	client backend.UniversalClient
	prefix string
	ttl    atomic.Int64 // milliseconds, zero disables expiry
}

var (
	_ ports.Store       = (*Store)(nil)
	_ ports.Initializer = (*Store)(nil)
	_ ports.Pinger      = (*Store)(nil)
)

type Option func(*Store)

// WithTTL expires records ttl after their lastUse.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl.Store(ttl.Milliseconds())
	}
}

// WithPrefix sets the key prefix for records.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store. More than one address selects a cluster client.
func New(addrs []string, password string, db int, opts ...Option) *Store {
	rdb := backend.NewUniversalClient(&backend.UniversalOptions{
		Addrs:    addrs,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Key returns the Redis key holding the record of id in ns.
func (s *Store) Key(ns domain.Namespace, id domain.LogicalSessionID) string {
	return s.prefix + ns.String() + ":" + id.String()
}

// SendBatch applies b in one pipeline. Every op runs even if another fails.
func (s *Store) SendBatch(ctx context.Context, b batch.Batch) error {
	op := b.Kind.Command()
	if err := ctx.Err(); err != nil {
		return domain.NewTransportError(op, err)
	}
	if err := b.Namespace.Validate(); err != nil {
		return &domain.TransportError{Op: op, Code: domain.CodeBadValue, Message: err.Error(), Err: err}
	}
	if b.Len() == 0 {
		return nil
	}

	ttl := s.ttl.Load()
	pipe := s.client.Pipeline()
	cmds := make([]backend.Cmder, 0, b.Len())
	for _, o := range b.Ops {
		key := s.Key(b.Namespace, o.ID)
		switch b.Kind {
		case batch.KindRefresh:
			hasUser, name := "0", ""
			if o.User != nil {
				hasUser, name = "1", o.User.Name
			}
			cmds = append(cmds, upsertScript.Eval(ctx, pipe, []string{key}, o.LastUse.UnixMilli(), hasUser, name, ttl))
		case batch.KindRemove:
			cmds = append(cmds, pipe.Del(ctx, key))
		default:
			return &domain.TransportError{Op: op, Code: domain.CodeBadValue, Message: fmt.Sprintf("unsupported batch kind %q", b.Kind)}
		}
	}

	_, execErr := pipe.Exec(ctx)

	var failed []error
	for i, cmd := range cmds {
		if err := cmd.Err(); err != nil {
			failed = append(failed, fmt.Errorf("index %d (%s): %w", i, b.Ops[i].ID, err))
		}
	}
	if len(failed) == 0 {
		if execErr != nil {
			return domain.NewTransportError(op, execErr)
		}
		return nil
	}

	// A pipeline that never reached the server fails every command the same way.
	if execErr != nil && len(failed) == len(cmds) {
		return domain.NewTransportError(op, execErr)
	}
	msg := failed[0].Error()
	if len(failed) > 1 {
		msg = fmt.Sprintf("%s (and %d more write errors)", msg, len(failed)-1)
	}
	return &domain.TransportError{Op: op, Message: msg, Err: errors.Join(failed...)}
}

// Find reads the hashes of q.IDs and renders the existing ones as record documents.
// A lastUse that is not an integer is passed through as a string.
func (s *Store) Find(ctx context.Context, q ports.Query) ([]bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewTransportError(wire.CmdFind, err)
	}
	if len(q.IDs) == 0 {
		return nil, nil
	}

	ids := make([]domain.LogicalSessionID, 0, len(q.IDs))
	seen := make(map[domain.LogicalSessionID]struct{}, len(q.IDs))
	pipe := s.client.Pipeline()
	cmds := make([]*backend.MapStringStringCmd, 0, len(q.IDs))
	for _, id := range q.IDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		cmds = append(cmds, pipe.HGetAll(ctx, s.Key(q.Namespace, id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, domain.NewTransportError(wire.CmdFind, err)
	}

	var docs []bson.Raw
	for i, cmd := range cmds {
		if q.Limit > 0 && len(docs) >= q.Limit {
			break
		}
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		doc, err := encodeHash(ids[i], fields)
		if err != nil {
			return nil, domain.NewTransportError(wire.CmdFind, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// SetupCollection adopts expireAfter as the record expiry unless one was configured.
func (s *Store) SetupCollection(ctx context.Context, ns domain.Namespace, expireAfter time.Duration) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	s.ttl.CompareAndSwap(0, expireAfter.Milliseconds())
	return nil
}

// Ping checks the connection to Redis.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func encodeHash(id domain.LogicalSessionID, fields map[string]string) (bson.Raw, error) {
	doc := bson.D{{Key: wire.FieldID, Value: wire.IDDocument(id)}}
	if v, ok := fields[hashLastUse]; ok {
		var lastUse any = v
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastUse = bson.DateTime(ms)
		}
		doc = append(doc, bson.E{Key: wire.FieldLastUse, Value: lastUse})
	}
	if name, ok := fields[hashUser]; ok {
		doc = append(doc, bson.E{Key: wire.FieldUser, Value: bson.D{{Key: wire.FieldUserName, Value: name}}})
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session record: %w", err)
	}
	return raw, nil
}
