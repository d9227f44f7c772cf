package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/sessionsync/pkg/batch"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/ports"
	"github.com/aretw0/sessionsync/pkg/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Error codes reported in command replies.
const (
	codeInvalidNamespace = 73
)

// Store is an embedded document store implementing ports.Store.
// Batches are executed as the same update/delete commands a remote server
// would receive. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	colls map[string]map[string]bson.Raw // namespace -> _id key -> document

	commands atomic.Int64
}

var (
	_ ports.Store       = (*Store)(nil)
	_ ports.Initializer = (*Store)(nil)
	_ ports.Pinger      = (*Store)(nil)
)

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{colls: make(map[string]map[string]bson.Raw)}
}

// SendBatch renders b as a command and executes it in-process.
func (s *Store) SendBatch(ctx context.Context, b batch.Batch) error {
	op := b.Kind.Command()
	cmd, err := b.Command()
	if err != nil {
		return &domain.TransportError{Op: op, Code: domain.CodeBadValue, Message: err.Error(), Err: err}
	}
	reply, err := s.RunCommand(ctx, b.Namespace.DB, cmd)
	if err != nil {
		return domain.NewTransportError(op, err)
	}
	return wire.CheckReply(op, reply)
}

// RunCommand executes a write command against database db and returns the
// reply document. The error is non-nil only when the command could not be
// attempted at all; command failures are reported inside the reply.
func (s *Store) RunCommand(ctx context.Context, db string, cmd bson.Raw) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.commands.Add(1)

	c, err := wire.DecodeCommand(cmd)
	if err != nil {
		return errorReply(domain.CodeFailedToParse, err.Error())
	}
	ns := domain.Namespace{DB: db, Collection: c.Collection}
	if err := ns.Validate(); err != nil {
		return errorReply(codeInvalidNamespace, err.Error())
	}

	switch c.Name {
	case wire.CmdUpdate:
		return s.update(ns, c.Entries)
	case wire.CmdDelete:
		return s.delete(ns, c.Entries)
	default:
		return errorReply(domain.CodeCommandNotFound, fmt.Sprintf("no such command: '%s'", c.Name))
	}
}

// Find returns the documents whose _id equals one of q.IDs.
func (s *Store) Find(ctx context.Context, q ports.Query) ([]bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewTransportError(wire.CmdFind, err)
	}
	s.commands.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.colls[q.Namespace.String()]
	var docs []bson.Raw
	seen := make(map[string]struct{}, len(q.IDs))
	for _, id := range q.IDs {
		if q.Limit > 0 && len(docs) >= q.Limit {
			break
		}
		key, err := wire.IDKey(id)
		if err != nil {
			return nil, domain.NewTransportError(wire.CmdFind, err)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if doc, ok := coll[key]; ok {
			// Copy on read so callers cannot mutate stored bytes.
			docs = append(docs, append(bson.Raw(nil), doc...))
		}
	}
	return docs, nil
}

// SetupCollection creates the collection. Expiry is not enforced in memory.
func (s *Store) SetupCollection(ctx context.Context, ns domain.Namespace, expireAfter time.Duration) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(ns)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Insert stores doc as is, keyed by its _id. It bypasses all validation and is
// meant for seeding documents written by other components.
func (s *Store) Insert(ns domain.Namespace, doc bson.Raw) error {
	idVal, err := doc.LookupErr(wire.FieldID)
	if err != nil {
		return fmt.Errorf("document has no %s: %w", wire.FieldID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(ns)[wire.Key(idVal)] = append(bson.Raw(nil), doc...)
	return nil
}

// Len returns the number of documents in ns.
func (s *Store) Len(ns domain.Namespace) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.colls[ns.String()])
}

// Commands returns how many commands and queries reached the store.
func (s *Store) Commands() int64 {
	return s.commands.Load()
}

// collection must be called with s.mu held for writing.
func (s *Store) collection(ns domain.Namespace) map[string]bson.Raw {
	coll, ok := s.colls[ns.String()]
	if !ok {
		coll = make(map[string]bson.Raw)
		s.colls[ns.String()] = coll
	}
	return coll
}

func (s *Store) update(ns domain.Namespace, entries []bson.Raw) (bson.Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collection(ns)

	var n, modified int32
	var upserted bson.A
	var writeErrors bson.A

	for i, entry := range entries {
		var op wire.UpdateOp
		if err := bson.Unmarshal(entry, &op); err != nil {
			writeErrors = append(writeErrors, writeError(i, domain.CodeFailedToParse, err.Error()))
			continue
		}
		idVal, err := op.Q.LookupErr(wire.FieldID)
		if err != nil {
			writeErrors = append(writeErrors, writeError(i, domain.CodeBadValue, "update query must select on _id"))
			continue
		}
		key := wire.Key(idVal)

		current, exists := coll[key]
		if !exists && !op.Upsert {
			continue
		}

		var doc bson.D
		if exists {
			if err := bson.Unmarshal(current, &doc); err != nil {
				writeErrors = append(writeErrors, writeError(i, domain.CodeFailedToParse, err.Error()))
				continue
			}
		} else {
			doc = bson.D{{Key: wire.FieldID, Value: idVal}}
		}

		doc, changed, err := applyUpdate(doc, op.U, !exists)
		if err != nil {
			writeErrors = append(writeErrors, writeError(i, domain.CodeFailedToParse, err.Error()))
			continue
		}

		raw, err := bson.Marshal(doc)
		if err != nil {
			writeErrors = append(writeErrors, writeError(i, domain.CodeBadValue, err.Error()))
			continue
		}
		coll[key] = raw
		n++

		switch {
		case !exists:
			upserted = append(upserted, bson.D{{Key: "index", Value: int32(i)}, {Key: wire.FieldID, Value: idVal}})
		case changed:
			modified++
		}
	}

	reply := bson.D{{Key: "n", Value: n}, {Key: "nModified", Value: modified}}
	if len(upserted) > 0 {
		reply = append(reply, bson.E{Key: "upserted", Value: upserted})
	}
	if len(writeErrors) > 0 {
		reply = append(reply, bson.E{Key: "writeErrors", Value: writeErrors})
	}
	return okReply(reply)
}

func (s *Store) delete(ns domain.Namespace, entries []bson.Raw) (bson.Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collection(ns)

	var n int32
	var writeErrors bson.A
	for i, entry := range entries {
		var op wire.DeleteOp
		if err := bson.Unmarshal(entry, &op); err != nil {
			writeErrors = append(writeErrors, writeError(i, domain.CodeFailedToParse, err.Error()))
			continue
		}
		idVal, err := op.Q.LookupErr(wire.FieldID)
		if err != nil {
			writeErrors = append(writeErrors, writeError(i, domain.CodeBadValue, "delete query must select on _id"))
			continue
		}
		key := wire.Key(idVal)
		if _, ok := coll[key]; ok {
			delete(coll, key)
			n++
		}
	}

	reply := bson.D{{Key: "n", Value: n}}
	if len(writeErrors) > 0 {
		reply = append(reply, bson.E{Key: "writeErrors", Value: writeErrors})
	}
	return okReply(reply)
}

func writeError(index, code int, msg string) bson.D {
	return bson.D{
		{Key: "index", Value: int32(index)},
		{Key: "code", Value: int32(code)},
		{Key: "errmsg", Value: msg},
	}
}

func okReply(fields bson.D) (bson.Raw, error) {
	return bson.Marshal(append(fields, bson.E{Key: "ok", Value: 1.0}))
}

func errorReply(code int, msg string) (bson.Raw, error) {
	return bson.Marshal(bson.D{
		{Key: "ok", Value: 0.0},
		{Key: "errmsg", Value: msg},
		{Key: "code", Value: int32(code)},
	})
}
