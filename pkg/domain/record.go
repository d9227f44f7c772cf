package domain

import "time"

// Record is the persisted state of one logical session.
type Record struct {
	ID      LogicalSessionID `json:"id"`
	LastUse time.Time        `json:"last_use"`
	User    *Principal       `json:"user,omitempty"`
}

// NewRecord creates a record for id, last used at t.
func NewRecord(id LogicalSessionID, t time.Time, user *Principal) Record {
	return Record{ID: id, LastUse: NormalizeTime(t), User: user}
}

// NormalizeTime truncates t to the millisecond precision of the store's date type, in UTC.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// RecordSet is a set of records, unique by ID.
type RecordSet map[LogicalSessionID]Record

// NewRecordSet builds a set from records. Later duplicates replace earlier ones.
func NewRecordSet(records ...Record) RecordSet {
	set := make(RecordSet, len(records))
	for _, r := range records {
		set[r.ID] = r
	}
	return set
}

// Add inserts or replaces r.
func (s RecordSet) Add(r Record) {
	s[r.ID] = r
}

// IDs returns the identifiers of the set.
func (s RecordSet) IDs() IDSet {
	ids := make(IDSet, len(s))
	for id := range s {
		ids[id] = struct{}{}
	}
	return ids
}

// IDSet is a set of session identifiers.
type IDSet map[LogicalSessionID]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...LogicalSessionID) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Add inserts id.
func (s IDSet) Add(id LogicalSessionID) {
	s[id] = struct{}{}
}

// Has reports whether id is in the set.
func (s IDSet) Has(id LogicalSessionID) bool {
	_, ok := s[id]
	return ok
}

// Slice returns the members in unspecified order.
func (s IDSet) Slice() []LogicalSessionID {
	out := make([]LogicalSessionID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}
