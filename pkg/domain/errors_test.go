package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Nil", nil, false},
		{"Plain", errors.New("connection reset"), true},
		{"Not Found", fmt.Errorf("lookup: %w", domain.ErrNoSuchSession), false},
		{"Parse Error", &domain.ParseError{Field: "lastUse", Reason: "missing"}, false},
		{"Canceled", fmt.Errorf("batch 1/2: %w", context.Canceled), false},
		{"Deadline", context.DeadlineExceeded, false},
		{"Invalid Batch", fmt.Errorf("failed to build refresh batches: %w", &domain.RecordError{Err: domain.ErrInvalidBatch}), false},
		{"Transport Unknown Code", &domain.TransportError{Op: "update", Code: 91}, true},
		{"Transport Bad Value", &domain.TransportError{Op: "update", Code: domain.CodeBadValue}, false},
		{"Transport Unauthorized", fmt.Errorf("wrapped: %w", &domain.TransportError{Op: "find", Code: domain.CodeUnauthorized}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.IsRetriable(tt.err))
		})
	}
}

func TestParseError_Message(t *testing.T) {
	err := &domain.ParseError{Field: "_id.id", Reason: "missing"}
	assert.Equal(t, "malformed session record field '_id.id': missing", err.Error())

	cause := errors.New("truncated")
	err = &domain.ParseError{Reason: "invalid document", Err: cause}
	assert.Equal(t, "malformed session record: invalid document: truncated", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestTransportError(t *testing.T) {
	assert.Equal(t, "update failed (code 11000): duplicate key",
		(&domain.TransportError{Op: "update", Code: 11000, Message: "duplicate key"}).Error())
	assert.Equal(t, "find failed: unknown error", (&domain.TransportError{Op: "find"}).Error())

	cause := errors.New("i/o timeout")
	te := domain.NewTransportError("delete", cause)
	assert.Equal(t, "delete failed: i/o timeout", te.Error())
	assert.ErrorIs(t, te, cause)

	inner := &domain.TransportError{Op: "update", Code: 2}
	assert.Same(t, inner, domain.NewTransportError("refresh", fmt.Errorf("x: %w", inner)))
}

func TestRecordError(t *testing.T) {
	id := domain.NewLogicalSessionID(nil)
	err := fmt.Errorf("wrapped: %w", &domain.RecordError{ID: id, Err: fmt.Errorf("%w: too big", domain.ErrInvalidBatch)})

	var re *domain.RecordError
	assert.ErrorAs(t, err, &re)
	assert.Equal(t, id, re.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)
	assert.Equal(t, "wrapped: session "+id.String()+": invalid batch: too big", err.Error())
}

func TestLifecycleHooks_Merge(t *testing.T) {
	var calls []string
	a := domain.LifecycleHooks{OnBatchSent: func(context.Context, *domain.BatchEvent) { calls = append(calls, "a") }}
	b := domain.LifecycleHooks{
		OnBatchSent: func(context.Context, *domain.BatchEvent) { calls = append(calls, "b") },
		OnLookup:    func(context.Context, *domain.LookupEvent) { calls = append(calls, "lookup") },
	}

	merged := a.Merge(b)
	merged.OnBatchSent(context.Background(), &domain.BatchEvent{})
	merged.OnLookup(context.Background(), &domain.LookupEvent{})
	assert.Equal(t, []string{"a", "b", "lookup"}, calls)

	empty := domain.LifecycleHooks{}.Merge(domain.LifecycleHooks{})
	assert.Nil(t, empty.OnBatchSent)
	assert.Nil(t, empty.OnLookup)
}
