package ports

import (
	"context"
	"time"

	"github.com/aretw0/sessionsync/pkg/batch"
	"github.com/aretw0/sessionsync/pkg/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// BatchSender sends one batch as a single store command.
// A failure is reported as a *domain.TransportError carrying the most specific
// diagnostic available; document-level failures inside an accepted command count too.
type BatchSender interface {
	SendBatch(ctx context.Context, b batch.Batch) error
}

// SendBatchFunc adapts a function to BatchSender.
type SendBatchFunc func(ctx context.Context, b batch.Batch) error

// SendBatch calls f(ctx, b).
func (f SendBatchFunc) SendBatch(ctx context.Context, b batch.Batch) error {
	return f(ctx, b)
}

// Query selects records by exact _id match.
type Query struct {
	Namespace domain.Namespace
	IDs       []domain.LogicalSessionID
	// Limit caps the number of documents returned; zero means no cap.
	Limit int
}

// Finder runs queries against the sessions collection.
// It returns the matching documents as stored, without interpreting them;
// no match is an empty result, not an error.
type Finder interface {
	Find(ctx context.Context, q Query) ([]bson.Raw, error)
}

// Store is a complete binding: the write path and the query path of one store.
type Store interface {
	BatchSender
	Finder
}

// Initializer is implemented by stores that can prepare the sessions collection,
// such as creating the expiry index on lastUse.
type Initializer interface {
	SetupCollection(ctx context.Context, ns domain.Namespace, expireAfter time.Duration) error
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
