// Package sessions keeps the sessions collection of a document store in step
// with the sessions a process knows about.
//
// A Collection turns a set of records into size-bounded refresh or remove
// commands and sends them one after another through a ports.Store. It also
// answers point lookups and reports which of a set of sessions no longer
// have a record. It never decides which sessions are stale; callers such as
// session.Tracker do that.
package sessions
