package domain

import (
	"fmt"
	"strings"
)

const (
	// DefaultDB is the database holding the sessions collection.
	DefaultDB = "config"

	// DefaultCollection is the sessions collection name.
	DefaultCollection = "system.sessions"
)

// Namespace names the database and collection that hold the session records.
type Namespace struct {
	DB         string `json:"db" yaml:"db" mapstructure:"db"`
	Collection string `json:"collection" yaml:"collection" mapstructure:"collection"`
}

// DefaultNamespace returns config.system.sessions.
func DefaultNamespace() Namespace {
	return Namespace{DB: DefaultDB, Collection: DefaultCollection}
}

// String renders "<db>.<collection>".
func (ns Namespace) String() string {
	return ns.DB + "." + ns.Collection
}

// Validate checks that both parts are present and the database name is well formed.
func (ns Namespace) Validate() error {
	if ns.DB == "" || ns.Collection == "" {
		return fmt.Errorf("invalid namespace %q: db and collection are required", ns.String())
	}
	if strings.ContainsAny(ns.DB, "./\\ \"$") {
		return fmt.Errorf("invalid namespace %q: illegal character in db name", ns.String())
	}
	return nil
}
