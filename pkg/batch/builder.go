package batch

import (
	"fmt"
	"time"

	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/wire"
)

const (
	// DefaultMaxItems caps the number of ops in one command.
	DefaultMaxItems = 1000

	// MaxCommandBytes is the largest command document a store accepts.
	MaxCommandBytes = 16 * 1024 * 1024

	// EnvelopeReserve is kept free in every command for the fields around the entry array.
	EnvelopeReserve = 16 * 1024

	// DefaultMaxBytes caps the encoded size of the entry array of one command.
	DefaultMaxBytes = MaxCommandBytes - EnvelopeReserve
)

// ErrEntryTooLarge is returned when a single op cannot fit in any batch.
// It wraps domain.ErrInvalidBatch.
var ErrEntryTooLarge = fmt.Errorf("%w: entry exceeds batch byte limit", domain.ErrInvalidBatch)

// Builder partitions write targets into size-bounded batches.
// The zero value uses the default limits.
type Builder struct {
	MaxItems int
	MaxBytes int
}

// NewBuilder returns a builder with the given limits; non-positive values select the defaults.
func NewBuilder(maxItems, maxBytes int) Builder {
	return Builder{MaxItems: maxItems, MaxBytes: maxBytes}
}

// Limits returns the effective item and byte caps.
func (b Builder) Limits() (items, bytes int) {
	items, bytes = b.MaxItems, b.MaxBytes
	if items <= 0 {
		items = DefaultMaxItems
	}
	if bytes <= 0 {
		bytes = DefaultMaxBytes
	}
	return items, bytes
}

// Refresh builds upsert batches for records. Every op carries the same
// refreshTime, normalized once to store precision.
func (b Builder) Refresh(ns domain.Namespace, records domain.RecordSet, refreshTime time.Time) ([]Batch, error) {
	if len(records) == 0 {
		return nil, nil
	}

	at := domain.NormalizeTime(refreshTime)
	ops := make([]Op, 0, len(records))
	for id, rec := range records {
		entry, err := wire.EncodeUpsert(id, at, rec.User)
		if err != nil {
			return nil, &domain.RecordError{ID: id, Err: fmt.Errorf("%w: %w", domain.ErrInvalidBatch, err)}
		}
		ops = append(ops, Op{ID: id, LastUse: at, User: rec.User, entry: entry})
	}
	return b.pack(KindRefresh, ns, ops)
}

// Remove builds delete batches for ids.
func (b Builder) Remove(ns domain.Namespace, ids domain.IDSet) ([]Batch, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ops := make([]Op, 0, len(ids))
	for id := range ids {
		entry, err := wire.EncodeDelete(id)
		if err != nil {
			return nil, &domain.RecordError{ID: id, Err: fmt.Errorf("%w: %w", domain.ErrInvalidBatch, err)}
		}
		ops = append(ops, Op{ID: id, entry: entry})
	}
	return b.pack(KindRemove, ns, ops)
}

// pack fills batches greedily: a batch is closed when the next op would exceed
// either cap. With only the item cap binding this yields ceil(N/M) batches.
func (b Builder) pack(kind Kind, ns domain.Namespace, ops []Op) ([]Batch, error) {
	maxItems, maxBytes := b.Limits()

	batches := make([]Batch, 0, (len(ops)+maxItems-1)/maxItems)
	cur := Batch{Kind: kind, Namespace: ns}

	for _, op := range ops {
		size := len(op.entry) + wire.ElementOverhead(0)
		if size > maxBytes {
			return nil, &domain.RecordError{ID: op.ID, Err: fmt.Errorf("%w: needs %d bytes, limit is %d", ErrEntryTooLarge, size, maxBytes)}
		}

		next := len(op.entry) + wire.ElementOverhead(cur.Len())
		if cur.Len() > 0 && (cur.Len() >= maxItems || cur.bytes+next > maxBytes) {
			batches = append(batches, cur)
			cur = Batch{Kind: kind, Namespace: ns}
		}
		cur.add(op)
	}

	if cur.Len() > 0 {
		batches = append(batches, cur)
	}
	return batches, nil
}
