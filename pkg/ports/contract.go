package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/sessionsync/pkg/batch"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a Store implementation
// applies refresh and remove batches and answers queries the way the engine expects.
func RunStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	ns := domain.Namespace{DB: "sessionsync_test", Collection: "contract_" + time.Now().Format("20060102150405.000000")}
	builder := batch.NewBuilder(3, 0)
	owner := &domain.Principal{Name: "alice@admin"}
	now := domain.NormalizeTime(time.Now())

	send := func(t *testing.T, batches []batch.Batch) {
		t.Helper()
		for _, b := range batches {
			require.NoError(t, store.SendBatch(ctx, b), "SendBatch should not return error")
		}
	}

	refresh := func(t *testing.T, at time.Time, records ...domain.Record) {
		t.Helper()
		batches, err := builder.Refresh(ns, domain.NewRecordSet(records...), at)
		require.NoError(t, err)
		send(t, batches)
	}

	find := func(t *testing.T, limit int, ids ...domain.LogicalSessionID) []domain.Record {
		t.Helper()
		docs, err := store.Find(ctx, Query{Namespace: ns, IDs: ids, Limit: limit})
		require.NoError(t, err, "Find should not return error")
		records := make([]domain.Record, 0, len(docs))
		for _, doc := range docs {
			rec, err := wire.ParseRecord(doc)
			require.NoError(t, err, "stored document should parse as a record")
			records = append(records, rec)
		}
		return records
	}

	t.Run("Refresh and Find", func(t *testing.T) {
		var records []domain.Record
		var ids []domain.LogicalSessionID
		for i := 0; i < 7; i++ {
			var user *domain.Principal
			if i%2 == 0 {
				user = owner
			}
			id := domain.NewLogicalSessionID(user)
			ids = append(ids, id)
			records = append(records, domain.Record{ID: id, User: user})
		}

		refresh(t, now, records...)

		found := find(t, 0, ids...)
		require.Len(t, found, len(ids))
		for _, rec := range found {
			assert.True(t, rec.LastUse.Equal(now), "lastUse should be the refresh time, got %s", rec.LastUse)
			if rec.ID.HasOwner() {
				require.NotNil(t, rec.User)
				assert.Equal(t, owner.Name, rec.User.Name)
			} else {
				assert.Nil(t, rec.User)
			}
		}
	})

	t.Run("Find Non-Existent", func(t *testing.T) {
		assert.Empty(t, find(t, 1, domain.NewLogicalSessionID(nil)))
	})

	t.Run("Refresh Is Idempotent", func(t *testing.T) {
		id := domain.NewLogicalSessionID(owner)
		refresh(t, now, domain.Record{ID: id, User: owner})
		refresh(t, now, domain.Record{ID: id, User: owner})

		found := find(t, 0, id)
		require.Len(t, found, 1)
		assert.True(t, found[0].LastUse.Equal(now))
	})

	t.Run("LastUse Never Moves Backward", func(t *testing.T) {
		id := domain.NewLogicalSessionID(nil)
		later := now.Add(time.Minute)
		refresh(t, later, domain.Record{ID: id})
		refresh(t, now, domain.Record{ID: id})

		found := find(t, 1, id)
		require.Len(t, found, 1)
		assert.True(t, found[0].LastUse.Equal(later), "expected %s, got %s", later, found[0].LastUse)
	})

	t.Run("User Is Kept On Update", func(t *testing.T) {
		id := domain.NewLogicalSessionID(owner)
		refresh(t, now, domain.Record{ID: id, User: owner})
		refresh(t, now.Add(time.Second), domain.Record{ID: id})

		found := find(t, 1, id)
		require.Len(t, found, 1)
		require.NotNil(t, found[0].User)
		assert.Equal(t, owner.Name, found[0].User.Name)
	})

	t.Run("Exact Match", func(t *testing.T) {
		owned := domain.NewLogicalSessionID(owner)
		bare := domain.LogicalSessionID{ID: owned.ID}
		refresh(t, now, domain.Record{ID: owned, User: owner})

		assert.Empty(t, find(t, 1, bare), "an id without owner tag must not match an owned record")
		found := find(t, 1, owned)
		require.Len(t, found, 1)
		assert.Equal(t, owned, found[0].ID)
	})

	t.Run("Limit", func(t *testing.T) {
		a, b := domain.NewLogicalSessionID(nil), domain.NewLogicalSessionID(nil)
		refresh(t, now, domain.Record{ID: a}, domain.Record{ID: b})
		assert.Len(t, find(t, 1, a, b), 1)
		assert.Len(t, find(t, 0, a, b), 2)
	})

	t.Run("Remove", func(t *testing.T) {
		a, b := domain.NewLogicalSessionID(nil), domain.NewLogicalSessionID(owner)
		absent := domain.NewLogicalSessionID(nil)
		refresh(t, now, domain.Record{ID: a}, domain.Record{ID: b, User: owner})

		batches, err := builder.Remove(ns, domain.NewIDSet(a, b, absent))
		require.NoError(t, err)
		send(t, batches)

		assert.Empty(t, find(t, 0, a, b, absent), "Find after remove should return nothing")

		// Removing again is not an error.
		batches, err = builder.Remove(ns, domain.NewIDSet(a, b))
		require.NoError(t, err)
		send(t, batches)
	})
}
