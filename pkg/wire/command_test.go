package wire_test

import (
	"testing"
	"time"

	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/aretw0/sessionsync/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestEncodeUpsert(t *testing.T) {
	id := domain.NewLogicalSessionID(nil)
	at := time.UnixMilli(1_700_000_000_123)

	raw, err := wire.EncodeUpsert(id, at, &domain.Principal{Name: "bob@test"})
	require.NoError(t, err)

	var op wire.UpdateOp
	require.NoError(t, bson.Unmarshal(raw, &op))
	assert.True(t, op.Upsert)

	filter, err := wire.IDValue(id)
	require.NoError(t, err)
	assert.Equal(t, filter.Value, []byte(op.Q.Lookup("_id").Value))

	assert.Equal(t, int64(1_700_000_000_123), op.U.Lookup("$max", "lastUse").DateTime())
	assert.Equal(t, "bob@test", op.U.Lookup("$setOnInsert", "user", "name").StringValue())

	anon, err := wire.EncodeUpsert(id, at, nil)
	require.NoError(t, err)
	_, err = anon.LookupErr("u", "$setOnInsert")
	assert.Error(t, err, "no user means no $setOnInsert")
}

func TestEncodeDelete(t *testing.T) {
	raw, err := wire.EncodeDelete(domain.NewLogicalSessionID(nil))
	require.NoError(t, err)

	var op wire.DeleteOp
	require.NoError(t, bson.Unmarshal(raw, &op))
	assert.Equal(t, int32(1), op.Limit)
	assert.NotEmpty(t, op.Q.Lookup("_id", "id").Value)
}

func TestCommand_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		cmd   string
		field string
	}{
		{"Update", wire.CmdUpdate, "updates"},
		{"Delete", wire.CmdDelete, "deletes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e1, err := wire.EncodeDelete(domain.NewLogicalSessionID(nil))
			require.NoError(t, err)
			e2, err := wire.EncodeDelete(domain.NewLogicalSessionID(nil))
			require.NoError(t, err)

			raw, err := wire.EncodeCommand(tt.cmd, "system.sessions", []bson.Raw{e1, e2})
			require.NoError(t, err)

			elems, err := raw.Elements()
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, elems[0].Key(), "command name comes first")
			assert.Equal(t, tt.field, elems[1].Key())
			assert.False(t, raw.Lookup("ordered").Boolean())
			assert.Equal(t, "majority", raw.Lookup("writeConcern", "w").StringValue())

			cmd, err := wire.DecodeCommand(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, cmd.Name)
			assert.Equal(t, "system.sessions", cmd.Collection)
			require.Len(t, cmd.Entries, 2)
			assert.Equal(t, e1, cmd.Entries[0])
			assert.Equal(t, e2, cmd.Entries[1])
		})
	}
}

func TestDecodeCommand_Invalid(t *testing.T) {
	_, err := wire.DecodeCommand(mustMarshal(t, bson.D{}))
	assert.EqualError(t, err, "empty command document")

	_, err = wire.DecodeCommand(mustMarshal(t, bson.D{{Key: "update", Value: 1}}))
	assert.ErrorContains(t, err, "must be a string")
}

func TestElementOverhead(t *testing.T) {
	assert.Equal(t, 3, wire.ElementOverhead(0))
	assert.Equal(t, 3, wire.ElementOverhead(9))
	assert.Equal(t, 4, wire.ElementOverhead(10))
	assert.Equal(t, 5, wire.ElementOverhead(999))
}

func TestFilter(t *testing.T) {
	a := domain.NewLogicalSessionID(nil)
	b := domain.NewLogicalSessionID(nil)

	single := mustMarshal(t, wire.Filter([]domain.LogicalSessionID{a}))
	_, err := single.LookupErr("_id", "id")
	assert.NoError(t, err)

	many := mustMarshal(t, wire.Filter([]domain.LogicalSessionID{a, b}))
	values, err := many.Lookup("_id", "$in").Array().Values()
	require.NoError(t, err)
	assert.Len(t, values, 2)
}

func TestCheckReply(t *testing.T) {
	tests := []struct {
		name    string
		reply   bson.D
		code    int
		message string
	}{
		{"OK", bson.D{{Key: "ok", Value: 1.0}, {Key: "n", Value: int32(3)}}, 0, ""},
		{"Command Failed", bson.D{
			{Key: "ok", Value: 0.0}, {Key: "code", Value: int32(13)}, {Key: "errmsg", Value: "not authorized"},
		}, 13, "not authorized"},
		{"Command Failed Without Message", bson.D{{Key: "ok", Value: 0.0}}, 0, "command returned ok: 0"},
		{"Write Errors", bson.D{
			{Key: "ok", Value: 1.0},
			{Key: "writeErrors", Value: bson.A{
				bson.D{{Key: "index", Value: int32(4)}, {Key: "code", Value: int32(11000)}, {Key: "errmsg", Value: "duplicate key"}},
				bson.D{{Key: "index", Value: int32(7)}, {Key: "code", Value: int32(11000)}, {Key: "errmsg", Value: "duplicate key"}},
			}},
		}, 11000, "duplicate key (and 1 more write errors, first at index 4)"},
		{"Write Concern", bson.D{
			{Key: "ok", Value: 1.0},
			{Key: "writeConcernError", Value: bson.D{{Key: "code", Value: int32(64)}, {Key: "errmsg", Value: "waiting for replication timed out"}}},
		}, 64, "write concern: waiting for replication timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wire.CheckReply("update", mustMarshal(t, tt.reply))
			if tt.message == "" {
				assert.NoError(t, err)
				return
			}
			var te *domain.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, "update", te.Op)
			assert.Equal(t, tt.code, te.Code)
			assert.Equal(t, tt.message, te.Message)
		})
	}
}
