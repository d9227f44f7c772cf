/*
Package domain contains the core entities of the session-record synchronization engine.

It defines what a logical session looks like once persisted, the sets the engine
reconciles and the error taxonomy every store binding reports through. The package
is kept free of I/O and of any knowledge about the wire format.

# Key Entities

  - LogicalSessionID: UUID plus optional owner digest, the primary key of a record.
  - Record: a session's identifier, last-use time and owning principal.
  - RecordSet / IDSet: the unordered inputs of refresh and remove.
  - Namespace: the database and collection holding the records.
  - ErrNoSuchSession, ParseError, TransportError: the failures a caller must handle.
*/
package domain
