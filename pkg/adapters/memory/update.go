package memory

import (
	"fmt"

	"github.com/aretw0/sessionsync/pkg/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// applyUpdate applies the operators of update to doc and reports whether any field changed.
// Only top-level fields are supported.
func applyUpdate(doc bson.D, update bson.Raw, inserting bool) (bson.D, bool, error) {
	var ops bson.D
	if err := bson.Unmarshal(update, &ops); err != nil {
		return doc, false, fmt.Errorf("invalid update document: %w", err)
	}

	changed := false
	for _, op := range ops {
		fields, ok := op.Value.(bson.D)
		if !ok {
			return doc, false, fmt.Errorf("modifier %s expects a document", op.Key)
		}

		for _, f := range fields {
			switch op.Key {
			case wire.OpSet:
				doc = setField(doc, f.Key, f.Value)
				changed = true
			case wire.OpSetOnInsert:
				if inserting {
					doc = setField(doc, f.Key, f.Value)
					changed = true
				}
			case wire.OpMax:
				cur, exists := getField(doc, f.Key)
				if !exists || greater(f.Value, cur) {
					doc = setField(doc, f.Key, f.Value)
					changed = true
				}
			default:
				return doc, false, fmt.Errorf("unknown modifier: %s", op.Key)
			}
		}
	}
	return doc, changed, nil
}

func getField(doc bson.D, key string) (any, bool) {
	for _, e := range doc {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func setField(doc bson.D, key string, value any) bson.D {
	for i := range doc {
		if doc[i].Key == key {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.E{Key: key, Value: value})
}

// greater reports whether a sorts after b. Values of different kinds are
// ordered by kind, with dates after numbers and strings, as the server does.
func greater(a, b any) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra > rb
	}
	switch av := a.(type) {
	case bson.DateTime:
		return av > b.(bson.DateTime)
	case string:
		return av > b.(string)
	}
	if af, ok := number(a); ok {
		bf, _ := number(b)
		return af > bf
	}
	return false
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int32, int64, float64:
		return 1
	case string:
		return 2
	case bson.D:
		return 3
	case bson.DateTime:
		return 5
	default:
		return 4
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
