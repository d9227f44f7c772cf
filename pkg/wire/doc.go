// Package wire encodes session records and write commands as BSON documents,
// the shape the sessions collection is stored and addressed in.
package wire
