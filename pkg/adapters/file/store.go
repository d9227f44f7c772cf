package file

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aretw0/sessionsync/pkg/batch"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/ports"
	"github.com/aretw0/sessionsync/pkg/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const ext = ".bson"

// Store implements ports.Store using the local filesystem.
// Each record is one BSON file under <BasePath>/<db>/<collection>/.
// Safe for concurrent use within one process.
type Store struct {
	BasePath string

	mu sync.Mutex
}

var (
	_ ports.Store       = (*Store)(nil)
	_ ports.Initializer = (*Store)(nil)
	_ ports.Pinger      = (*Store)(nil)
)

// New creates a new file store rooted at basePath.
// If basePath is empty, it defaults to ".sessionsync/data".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".sessionsync", "data")
	}
	return &Store{BasePath: basePath}
}

// SendBatch applies every op of b. Ops are independent: a record that cannot be
// updated is reported after the remaining ops have been applied.
func (s *Store) SendBatch(ctx context.Context, b batch.Batch) error {
	op := b.Kind.Command()
	if err := ctx.Err(); err != nil {
		return domain.NewTransportError(op, err)
	}
	if err := b.Namespace.Validate(); err != nil {
		return &domain.TransportError{Op: op, Code: domain.CodeBadValue, Message: err.Error(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir(b.Namespace)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &domain.TransportError{Op: op, Message: "failed to ensure collection directory", Err: err}
	}

	var failed []error
	for _, o := range b.Ops {
		var err error
		switch b.Kind {
		case batch.KindRefresh:
			err = s.upsert(dir, o)
		case batch.KindRemove:
			err = s.remove(dir, o.ID)
		default:
			err = fmt.Errorf("unsupported batch kind %q", b.Kind)
		}
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", o.ID, err))
		}
	}

	if len(failed) == 0 {
		return nil
	}
	msg := failed[0].Error()
	if len(failed) > 1 {
		msg = fmt.Sprintf("%s (and %d more write errors)", msg, len(failed)-1)
	}
	return &domain.TransportError{Op: op, Message: msg, Err: errors.Join(failed...)}
}

// Find reads the documents of q.IDs that exist.
func (s *Store) Find(ctx context.Context, q ports.Query) ([]bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewTransportError(wire.CmdFind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir(q.Namespace)
	var docs []bson.Raw
	for _, id := range q.IDs {
		if q.Limit > 0 && len(docs) >= q.Limit {
			break
		}
		path, err := s.path(dir, id)
		if err != nil {
			return nil, domain.NewTransportError(wire.CmdFind, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, &domain.TransportError{Op: wire.CmdFind, Message: "failed to read session file", Err: err}
		}
		docs = append(docs, bson.Raw(data))
	}
	return docs, nil
}

// SetupCollection creates the collection directory. Expiry is left to the reaper.
func (s *Store) SetupCollection(ctx context.Context, ns domain.Namespace, expireAfter time.Duration) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir(ns), 0755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}
	return nil
}

// Ping checks that the base directory is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure data directory: %w", err)
	}
	return nil
}

func (s *Store) dir(ns domain.Namespace) string {
	return filepath.Join(s.BasePath, ns.DB, ns.Collection)
}

// path names a record's file after the hex of its encoded _id, so distinct ids
// never share a file.
func (s *Store) path(dir string, id domain.LogicalSessionID) (string, error) {
	key, err := wire.IDKey(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, hex.EncodeToString([]byte(key))+ext), nil
}

func (s *Store) upsert(dir string, o batch.Op) error {
	path, err := s.path(dir, o.ID)
	if err != nil {
		return err
	}

	rec := domain.Record{ID: o.ID, LastUse: o.LastUse, User: o.User}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		existing, err := wire.ParseRecord(data)
		if err != nil {
			return err
		}
		if existing.LastUse.After(rec.LastUse) {
			rec.LastUse = existing.LastUse
		}
		// The owner is only set when the record is created.
		rec.User = existing.User
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read session file: %w", err)
	}

	doc, err := wire.EncodeRecord(rec)
	if err != nil {
		return err
	}
	return writeAtomic(dir, path, doc)
}

func (s *Store) remove(dir string, id domain.LogicalSessionID) error {
	path, err := s.path(dir, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}
