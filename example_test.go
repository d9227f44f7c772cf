package sessionsync_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aretw0/sessionsync/pkg/adapters/memory"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/sessions"
)

// Example_library demonstrates the collection used directly on an in-memory store.
func Example_library() {
	// 1. Build the collection on a store binding
	coll := sessions.New(memory.NewStore())
	ctx := context.Background()

	// 2. Refresh a session owned by alice
	alice := &domain.Principal{Name: "alice@admin"}
	id := domain.NewLogicalSessionID(alice)
	used := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := coll.RefreshSessions(ctx, domain.NewRecordSet(domain.Record{ID: id, User: alice}), used); err != nil {
		log.Fatal(err)
	}

	// 3. An older refresh never moves lastUse backward
	if err := coll.RefreshSessions(ctx, domain.NewRecordSet(domain.Record{ID: id}), used.Add(-time.Hour)); err != nil {
		log.Fatal(err)
	}

	rec, err := coll.FetchRecord(ctx, id)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(rec.LastUse.Format(time.RFC3339), rec.User.Name)

	// 4. Remove it once the session ends
	if err := coll.RemoveRecords(ctx, domain.NewIDSet(id)); err != nil {
		log.Fatal(err)
	}
	_, err = coll.FetchRecord(ctx, id)
	fmt.Println(errors.Is(err, domain.ErrNoSuchSession))

	// Output:
	// 2024-03-01T12:00:00Z alice@admin
	// true
}
