package wire

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/sessionsync/pkg/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Command names understood by the stores.
const (
	CmdUpdate = "update"
	CmdDelete = "delete"
	CmdFind   = "find"
)

// Update operators used by refresh entries.
const (
	OpMax         = "$max"
	OpSet         = "$set"
	OpSetOnInsert = "$setOnInsert"
	OpIn          = "$in"
)

// EncodeUpsert renders one refresh entry:
//
//	{q: {_id: <id>}, u: {$max: {lastUse: <t>}, $setOnInsert: {user: {...}}}, upsert: true}
//
// $max keeps lastUse from moving backward when an older refresh lands late.
func EncodeUpsert(id domain.LogicalSessionID, lastUse time.Time, user *domain.Principal) (bson.Raw, error) {
	update := bson.D{{Key: OpMax, Value: bson.D{{Key: FieldLastUse, Value: bson.NewDateTimeFromTime(lastUse)}}}}
	if user != nil {
		update = append(update, bson.E{Key: OpSetOnInsert, Value: bson.D{
			{Key: FieldUser, Value: bson.D{{Key: FieldUserName, Value: user.Name}}},
		}})
	}

	raw, err := bson.Marshal(bson.D{
		{Key: "q", Value: bson.D{{Key: FieldID, Value: IDDocument(id)}}},
		{Key: "u", Value: update},
		{Key: "upsert", Value: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode upsert for %s: %w", id, err)
	}
	return raw, nil
}

// EncodeDelete renders one remove entry: {q: {_id: <id>}, limit: 1}.
func EncodeDelete(id domain.LogicalSessionID) (bson.Raw, error) {
	raw, err := bson.Marshal(bson.D{
		{Key: "q", Value: bson.D{{Key: FieldID, Value: IDDocument(id)}}},
		{Key: "limit", Value: int32(1)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode delete for %s: %w", id, err)
	}
	return raw, nil
}

// EntryArrayKey returns the array field carrying the entries of a write command.
func EntryArrayKey(name string) string {
	if name == CmdDelete {
		return "deletes"
	}
	return "updates"
}

// ElementOverhead is the number of bytes an entry adds to its array beyond its
// own length: the type byte, the decimal index key and its terminator.
func ElementOverhead(index int) int {
	return 2 + len(strconv.Itoa(index))
}

// EncodeCommand renders a write command over pre-encoded entries:
//
//	{<name>: <collection>, <updates|deletes>: [...], ordered: false, writeConcern: {w: "majority"}}
func EncodeCommand(name, collection string, entries []bson.Raw) (bson.Raw, error) {
	arr := make(bson.A, len(entries))
	for i, e := range entries {
		arr[i] = e
	}

	raw, err := bson.Marshal(bson.D{
		{Key: name, Value: collection},
		{Key: EntryArrayKey(name), Value: arr},
		{Key: "ordered", Value: false},
		{Key: "writeConcern", Value: bson.D{{Key: "w", Value: "majority"}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s command: %w", name, err)
	}
	return raw, nil
}

// Command is a decoded write command.
type Command struct {
	Name       string
	Collection string
	Entries    []bson.Raw
}

// DecodeCommand is the inverse of EncodeCommand.
func DecodeCommand(raw bson.Raw) (Command, error) {
	var cmd Command

	elems, err := raw.Elements()
	if err != nil {
		return cmd, fmt.Errorf("failed to read command: %w", err)
	}
	if len(elems) == 0 {
		return cmd, errors.New("empty command document")
	}
	cmd.Name = elems[0].Key()
	coll, ok := elems[0].Value().StringValueOK()
	if !ok {
		return cmd, fmt.Errorf("collection name for %s must be a string", cmd.Name)
	}
	cmd.Collection = coll

	var body struct {
		Updates []bson.Raw `bson:"updates"`
		Deletes []bson.Raw `bson:"deletes"`
	}
	if err := bson.Unmarshal(raw, &body); err != nil {
		return cmd, fmt.Errorf("failed to decode %s command: %w", cmd.Name, err)
	}
	if cmd.Name == CmdDelete {
		cmd.Entries = body.Deletes
	} else {
		cmd.Entries = body.Updates
	}
	return cmd, nil
}

// UpdateOp is a decoded refresh entry.
type UpdateOp struct {
	Q      bson.Raw `bson:"q"`
	U      bson.Raw `bson:"u"`
	Upsert bool     `bson:"upsert"`
}

// DeleteOp is a decoded remove entry.
type DeleteOp struct {
	Q     bson.Raw `bson:"q"`
	Limit int32    `bson:"limit"`
}

// Filter returns an equality filter on _id for one id, or an $in filter for several.
func Filter(ids []domain.LogicalSessionID) bson.D {
	if len(ids) == 1 {
		return bson.D{{Key: FieldID, Value: IDDocument(ids[0])}}
	}
	in := make(bson.A, len(ids))
	for i, id := range ids {
		in[i] = IDDocument(id)
	}
	return bson.D{{Key: FieldID, Value: bson.D{{Key: OpIn, Value: in}}}}
}

// WriteError is one document-level failure inside a write command reply.
type WriteError struct {
	Index  int32  `bson:"index"`
	Code   int32  `bson:"code"`
	ErrMsg string `bson:"errmsg"`
}

// Reply is the subset of a command reply the bindings inspect.
type Reply struct {
	OK                float64      `bson:"ok"`
	Code              int32        `bson:"code"`
	ErrMsg            string       `bson:"errmsg"`
	N                 int32        `bson:"n"`
	WriteErrors       []WriteError `bson:"writeErrors"`
	WriteConcernError *WriteError  `bson:"writeConcernError"`
}

// CheckReply turns a command reply into nil or a *domain.TransportError.
// Command-level failures (ok: 0) take precedence over document-level ones,
// and the first write error is reported as the most specific cause.
func CheckReply(op string, raw bson.Raw) error {
	var reply Reply
	if err := bson.Unmarshal(raw, &reply); err != nil {
		return &domain.TransportError{Op: op, Message: "unreadable reply", Err: err}
	}

	if reply.OK != 1 {
		msg := reply.ErrMsg
		if msg == "" {
			msg = "command returned ok: " + strconv.FormatFloat(reply.OK, 'f', -1, 64)
		}
		return &domain.TransportError{Op: op, Code: int(reply.Code), Message: msg}
	}

	if len(reply.WriteErrors) > 0 {
		first := reply.WriteErrors[0]
		msg := first.ErrMsg
		if n := len(reply.WriteErrors); n > 1 {
			msg = fmt.Sprintf("%s (and %d more write errors, first at index %d)", msg, n-1, first.Index)
		}
		return &domain.TransportError{Op: op, Code: int(first.Code), Message: msg}
	}

	if wce := reply.WriteConcernError; wce != nil {
		return &domain.TransportError{Op: op, Code: int(wce.Code), Message: "write concern: " + wce.ErrMsg}
	}

	return nil
}
