package wire

import (
	"fmt"
	"time"

	"github.com/aretw0/sessionsync/pkg/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Field names of a session record. Other components read the collection
// directly, so these are a fixed contract.
const (
	FieldID          = "_id"
	FieldLastUse     = "lastUse"
	FieldUser        = "user"
	FieldSessionUUID = "id"
	FieldSessionUID  = "uid"
	FieldUserName    = "name"
)

const (
	binaryGeneric byte = 0x00
	binaryUUID    byte = 0x04
)

// IDDocument returns the _id sub-document of a record.
// Field order is fixed so that equality matches on the whole document work.
func IDDocument(id domain.LogicalSessionID) bson.D {
	doc := bson.D{{Key: FieldSessionUUID, Value: bson.Binary{Subtype: binaryUUID, Data: id.ID[:]}}}
	if id.HasOwner() {
		doc = append(doc, bson.E{Key: FieldSessionUID, Value: bson.Binary{Subtype: binaryGeneric, Data: id.UID[:]}})
	}
	return doc
}

// IDValue returns the encoded _id value of a record.
func IDValue(id domain.LogicalSessionID) (bson.RawValue, error) {
	raw, err := bson.Marshal(bson.D{{Key: FieldID, Value: IDDocument(id)}})
	if err != nil {
		return bson.RawValue{}, fmt.Errorf("failed to encode session id: %w", err)
	}
	return bson.Raw(raw).Lookup(FieldID), nil
}

// Key turns an encoded _id value into a map key. Two values produce the same
// key only if they are byte for byte identical, so lookups never match on a prefix.
func Key(v bson.RawValue) string {
	return string([]byte{byte(v.Type)}) + string(v.Value)
}

// IDKey is Key(IDValue(id)).
func IDKey(id domain.LogicalSessionID) (string, error) {
	v, err := IDValue(id)
	if err != nil {
		return "", err
	}
	return Key(v), nil
}

// EncodeRecord renders r as a stored document.
func EncodeRecord(r domain.Record) (bson.Raw, error) {
	doc := bson.D{
		{Key: FieldID, Value: IDDocument(r.ID)},
		{Key: FieldLastUse, Value: bson.NewDateTimeFromTime(r.LastUse)},
	}
	if r.User != nil {
		doc = append(doc, bson.E{Key: FieldUser, Value: bson.D{{Key: FieldUserName, Value: r.User.Name}}})
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session record: %w", err)
	}
	return raw, nil
}

// ParseRecord decodes a stored document. Any deviation from the record shape
// is reported as a *domain.ParseError.
func ParseRecord(raw bson.Raw) (domain.Record, error) {
	var rec domain.Record

	if err := raw.Validate(); err != nil {
		return rec, &domain.ParseError{Reason: "invalid document", Err: err}
	}

	idVal, err := raw.LookupErr(FieldID)
	if err != nil {
		return rec, &domain.ParseError{Field: FieldID, Reason: "missing"}
	}
	id, err := ParseID(idVal)
	if err != nil {
		return rec, err
	}
	rec.ID = id

	luVal, err := raw.LookupErr(FieldLastUse)
	if err != nil {
		return rec, &domain.ParseError{Field: FieldLastUse, Reason: "missing"}
	}
	ms, ok := luVal.DateTimeOK()
	if !ok {
		return rec, &domain.ParseError{Field: FieldLastUse, Reason: "expected date, got " + luVal.Type.String()}
	}
	rec.LastUse = time.UnixMilli(ms).UTC()

	if userVal, err := raw.LookupErr(FieldUser); err == nil {
		userDoc, ok := userVal.DocumentOK()
		if !ok {
			return rec, &domain.ParseError{Field: FieldUser, Reason: "expected document, got " + userVal.Type.String()}
		}
		nameVal, err := userDoc.LookupErr(FieldUserName)
		if err != nil {
			return rec, &domain.ParseError{Field: FieldUser + "." + FieldUserName, Reason: "missing"}
		}
		name, ok := nameVal.StringValueOK()
		if !ok {
			return rec, &domain.ParseError{Field: FieldUser + "." + FieldUserName, Reason: "expected string, got " + nameVal.Type.String()}
		}
		rec.User = &domain.Principal{Name: name}
	}

	return rec, nil
}

// ParseID decodes an encoded _id value.
func ParseID(v bson.RawValue) (domain.LogicalSessionID, error) {
	var id domain.LogicalSessionID

	doc, ok := v.DocumentOK()
	if !ok {
		return id, &domain.ParseError{Field: FieldID, Reason: "expected document, got " + v.Type.String()}
	}

	uuidField := FieldID + "." + FieldSessionUUID
	uuidVal, err := doc.LookupErr(FieldSessionUUID)
	if err != nil {
		return id, &domain.ParseError{Field: uuidField, Reason: "missing"}
	}
	subtype, data, ok := uuidVal.BinaryOK()
	if !ok {
		return id, &domain.ParseError{Field: uuidField, Reason: "expected binary, got " + uuidVal.Type.String()}
	}
	if subtype != binaryUUID || len(data) != len(id.ID) {
		return id, &domain.ParseError{Field: uuidField, Reason: fmt.Sprintf("expected UUID binary, got subtype %d with %d bytes", subtype, len(data))}
	}
	copy(id.ID[:], data)

	if uidVal, err := doc.LookupErr(FieldSessionUID); err == nil {
		uidField := FieldID + "." + FieldSessionUID
		_, data, ok := uidVal.BinaryOK()
		if !ok {
			return id, &domain.ParseError{Field: uidField, Reason: "expected binary, got " + uidVal.Type.String()}
		}
		if len(data) != len(id.UID) {
			return id, &domain.ParseError{Field: uidField, Reason: fmt.Sprintf("expected %d bytes, got %d", len(id.UID), len(data))}
		}
		copy(id.UID[:], data)
	}

	return id, nil
}
