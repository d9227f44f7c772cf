package batch

import (
	"time"

	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Kind is the write operation a batch carries.
type Kind string

const (
	KindRefresh Kind = "refresh"
	KindRemove  Kind = "remove"
)

// Command returns the store command that applies a batch of this kind.
func (k Kind) Command() string {
	if k == KindRemove {
		return wire.CmdDelete
	}
	return wire.CmdUpdate
}

// Op is one write target of a batch.
type Op struct {
	ID domain.LogicalSessionID
	// LastUse and User are only set for refresh ops.
	LastUse time.Time
	User    *domain.Principal

	entry bson.Raw
}

// Entry returns the encoded command entry of the op.
func (o Op) Entry() bson.Raw { return o.entry }

// Batch is an ordered, size-bounded group of ops sent as one command.
type Batch struct {
	Kind      Kind
	Namespace domain.Namespace
	Ops       []Op

	bytes int
}

// Len returns the number of ops.
func (b Batch) Len() int { return len(b.Ops) }

// Bytes returns the encoded size of the entry array contents.
func (b Batch) Bytes() int { return b.bytes }

// IDs returns the identifiers targeted by the batch, in op order.
func (b Batch) IDs() []domain.LogicalSessionID {
	ids := make([]domain.LogicalSessionID, len(b.Ops))
	for i, op := range b.Ops {
		ids[i] = op.ID
	}
	return ids
}

// Command renders the batch as the write command a document store executes.
func (b Batch) Command() (bson.Raw, error) {
	entries := make([]bson.Raw, len(b.Ops))
	for i, op := range b.Ops {
		entries[i] = op.entry
	}
	return wire.EncodeCommand(b.Kind.Command(), b.Namespace.Collection, entries)
}

// Subset returns a batch holding the ops at the given indices, in that order.
// Entries are reused as encoded.
func (b Batch) Subset(indices []int) Batch {
	sub := Batch{Kind: b.Kind, Namespace: b.Namespace, Ops: make([]Op, 0, len(indices))}
	for _, i := range indices {
		sub.add(b.Ops[i])
	}
	return sub
}

func (b *Batch) add(op Op) {
	b.bytes += len(op.entry) + wire.ElementOverhead(len(b.Ops))
	b.Ops = append(b.Ops, op)
}
