/*
Package ports defines the driven ports (interfaces) of the session synchronization engine.

These interfaces decouple the reconciliation logic from the store it talks to, so
the same engine runs unchanged against an embedded store, a single remote node or
a sharded cluster reached through a router.

# Key Interfaces

  - BatchSender: sends one batch as a single command and reports the outcome.
  - Finder: runs exact-match queries on the record identity field.
  - Store: a binding providing both of the above.
  - Initializer / Pinger: optional capabilities (collection setup, health checks).
*/
package ports
