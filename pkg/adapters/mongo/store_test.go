package mongo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aretw0/sessionsync/pkg/adapters/mongo"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/ports"
	"github.com/stretchr/testify/require"
)

// connect skips the test when no deployment is configured.
func connect(t *testing.T) *mongo.Store {
	t.Helper()
	uri := os.Getenv("SESSIONSYNC_MONGO_URI")
	if uri == "" {
		t.Skip("SESSIONSYNC_MONGO_URI not set, skipping mongo tests")
	}

	store, err := mongo.Connect(uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		t.Skipf("mongo not reachable at %s: %v", uri, err)
	}
	return store
}

func TestMongoStore_Contract(t *testing.T) {
	store := connect(t)
	ports.RunStoreContract(t, store)
}

func TestMongoStore_SetupCollection(t *testing.T) {
	store := connect(t)
	ns := domain.Namespace{DB: "sessionsync_test", Collection: "setup_" + time.Now().Format("20060102150405")}

	ctx := context.Background()
	require.NoError(t, store.SetupCollection(ctx, ns, 30*time.Minute))
	// Creating the same index again is a no-op on the server.
	require.NoError(t, store.SetupCollection(ctx, ns, 30*time.Minute))
}
