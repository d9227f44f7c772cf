package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Principal identifies the authenticated owner of a logical session.
type Principal struct {
	// Name is the fully qualified principal name (e.g. "alice@admin").
	Name string `json:"name"`
}

// Digest returns the SHA-256 digest used as the owner tag of a LogicalSessionID.
func (p Principal) Digest() [32]byte {
	return sha256.Sum256([]byte(p.Name))
}

// LogicalSessionID is the primary key of a session record.
// It is comparable and can be used directly as a map key.
type LogicalSessionID struct {
	// ID is the globally unique session identifier.
	ID uuid.UUID

	// UID is the digest of the owning principal. The zero value means "no owner".
	UID [32]byte
}

// NewLogicalSessionID creates a fresh identifier, optionally tagged with its owner.
func NewLogicalSessionID(owner *Principal) LogicalSessionID {
	id := LogicalSessionID{ID: uuid.New()}
	if owner != nil {
		id.UID = owner.Digest()
	}
	return id
}

// HasOwner reports whether the identifier carries an owner tag.
func (id LogicalSessionID) HasOwner() bool {
	return id.UID != [32]byte{}
}

// String renders the identifier as "<uuid>" or "<uuid>:<hex uid>".
func (id LogicalSessionID) String() string {
	if !id.HasOwner() {
		return id.ID.String()
	}
	return id.ID.String() + ":" + hex.EncodeToString(id.UID[:])
}

// MarshalText implements encoding.TextMarshaler with the String form.
func (id LogicalSessionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *LogicalSessionID) UnmarshalText(text []byte) error {
	parsed, err := ParseLogicalSessionID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseLogicalSessionID is the inverse of LogicalSessionID.String.
func ParseLogicalSessionID(s string) (LogicalSessionID, error) {
	var id LogicalSessionID

	raw, tag, hasTag := strings.Cut(strings.TrimSpace(s), ":")
	u, err := uuid.Parse(raw)
	if err != nil {
		return id, fmt.Errorf("invalid session id %q: %w", s, err)
	}
	id.ID = u

	if hasTag {
		b, err := hex.DecodeString(tag)
		if err != nil {
			return id, fmt.Errorf("invalid session owner tag %q: %w", tag, err)
		}
		if len(b) != len(id.UID) {
			return id, fmt.Errorf("invalid session owner tag %q: want %d bytes, got %d", tag, len(id.UID), len(b))
		}
		copy(id.UID[:], b)
	}

	return id, nil
}
