package ports_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/sessionsync/pkg/batch"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/ports"
	"github.com/aretw0/sessionsync/pkg/wire"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// MockStore applies batches from their typed ops instead of the encoded
// command, which keeps it independent from any document store.
type MockStore struct {
	data map[domain.LogicalSessionID]domain.Record
}

func NewMockStore() *MockStore {
	return &MockStore{data: make(map[domain.LogicalSessionID]domain.Record)}
}

func (m *MockStore) SendBatch(ctx context.Context, b batch.Batch) error {
	for _, op := range b.Ops {
		switch b.Kind {
		case batch.KindRefresh:
			rec, ok := m.data[op.ID]
			if !ok {
				m.data[op.ID] = domain.Record{ID: op.ID, LastUse: op.LastUse, User: op.User}
				continue
			}
			if op.LastUse.After(rec.LastUse) {
				rec.LastUse = op.LastUse
			}
			m.data[op.ID] = rec
		case batch.KindRemove:
			delete(m.data, op.ID)
		}
	}
	return nil
}

func (m *MockStore) Find(ctx context.Context, q ports.Query) ([]bson.Raw, error) {
	var docs []bson.Raw
	for _, id := range q.IDs {
		if q.Limit > 0 && len(docs) >= q.Limit {
			break
		}
		rec, ok := m.data[id]
		if !ok {
			continue
		}
		doc, err := wire.EncodeRecord(rec)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func TestStore_Contract(t *testing.T) {
	// The contract suite must hold for the simplest conforming store.
	ports.RunStoreContract(t, NewMockStore())
}

func TestSendBatchFunc(t *testing.T) {
	boom := errors.New("boom")
	var got batch.Batch
	sender := ports.SendBatchFunc(func(ctx context.Context, b batch.Batch) error {
		got = b
		return boom
	})

	want := batch.Batch{Kind: batch.KindRemove, Namespace: domain.DefaultNamespace()}
	err := sender.SendBatch(context.Background(), want)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.Namespace, got.Namespace)
}
