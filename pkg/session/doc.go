/*
Package session tracks the sessions a process uses and pushes them to the
sessions collection.

A Tracker is the caller side of sessions.Collection: request handlers call
Touch and End, and a background Run loop flushes the pending sets on an
interval, retrying transient store failures and keeping unconfirmed sessions
for the next round.
*/
package session
