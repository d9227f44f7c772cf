package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/sessionsync/pkg/batch"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/ports"
	"github.com/aretw0/sessionsync/pkg/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
	driver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// TTLIndexName is the name of the expiry index on lastUse.
const TTLIndexName = "lsidTTLIndex"

// Store implements ports.Store against a MongoDB deployment. Batches are sent
// as raw update/delete commands so the exact entries built by the batch
// package reach the server.
type Store struct {
	client *driver.Client
	owned  bool
}

var (
	_ ports.Store       = (*Store)(nil)
	_ ports.Initializer = (*Store)(nil)
	_ ports.Pinger      = (*Store)(nil)
)

// Connect opens a client for uri. The returned store owns the client and
// disconnects it on Close.
func Connect(uri string) (*Store, error) {
	client, err := driver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	return &Store{client: client, owned: true}, nil
}

// NewFromClient creates a store on an existing client. Close leaves the client open.
func NewFromClient(client *driver.Client) *Store {
	return &Store{client: client}
}

// SendBatch runs b as one unordered write command.
func (s *Store) SendBatch(ctx context.Context, b batch.Batch) error {
	op := b.Kind.Command()
	cmd, err := b.Command()
	if err != nil {
		return &domain.TransportError{Op: op, Code: domain.CodeBadValue, Message: err.Error(), Err: err}
	}

	reply, err := s.client.Database(b.Namespace.DB).RunCommand(ctx, cmd).Raw()
	if err != nil {
		return commandError(op, err)
	}
	return wire.CheckReply(op, reply)
}

// Find runs an exact _id match query.
func (s *Store) Find(ctx context.Context, q ports.Query) ([]bson.Raw, error) {
	if len(q.IDs) == 0 {
		return nil, nil
	}

	opts := options.Find()
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	coll := s.client.Database(q.Namespace.DB).Collection(q.Namespace.Collection)
	cur, err := coll.Find(ctx, wire.Filter(q.IDs), opts)
	if err != nil {
		return nil, commandError(wire.CmdFind, err)
	}
	defer cur.Close(ctx)

	var docs []bson.Raw
	for cur.Next(ctx) {
		docs = append(docs, append(bson.Raw(nil), cur.Current...))
	}
	if err := cur.Err(); err != nil {
		return nil, commandError(wire.CmdFind, err)
	}
	return docs, nil
}

// SetupCollection creates the TTL index that lets the server reap records
// expireAfter past their lastUse.
func (s *Store) SetupCollection(ctx context.Context, ns domain.Namespace, expireAfter time.Duration) error {
	if err := ns.Validate(); err != nil {
		return err
	}

	index := driver.IndexModel{
		Keys:    bson.D{{Key: wire.FieldLastUse, Value: 1}},
		Options: options.Index().SetName(TTLIndexName).SetExpireAfterSeconds(int32(expireAfter / time.Second)),
	}
	coll := s.client.Database(ns.DB).Collection(ns.Collection)
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return commandError("createIndexes", err)
	}
	return nil
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping mongo: %w", err)
	}
	return nil
}

// Close disconnects the client if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// commandError keeps the server code and message of a failed command.
func commandError(op string, err error) error {
	var ce driver.CommandError
	if errors.As(err, &ce) {
		return &domain.TransportError{Op: op, Code: int(ce.Code), Message: ce.Message, Err: err}
	}
	return domain.NewTransportError(op, err)
}
