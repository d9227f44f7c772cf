/*
Package sessionsync keeps a shared sessions collection in step with the
logical sessions a server process knows about.

Every session that is in use must have a record in the collection, keyed by
its logical session id and carrying the time it was last used. Sessions that
have ended must have their record removed. Other components read the
collection (and reap records whose lastUse is too old), so the document
layout is fixed:

	{_id: {id: <UUID>, uid: <owner digest>}, lastUse: <date>, user: {name: <principal>}}

# Architecture

The module is split the hexagonal way:

  - pkg/domain: identifiers, records and the error taxonomy.
  - pkg/wire: the BSON encoding of records and write commands.
  - pkg/batch: partitions writes into size-bounded commands.
  - pkg/sessions: the engine (refresh, remove, lookup) on a ports.Store.
  - pkg/adapters: store bindings (memory, file, mongo, redis, sharded) and the HTTP API.
  - pkg/session: a tracker that collects touched and ended sessions and flushes them.

# Usage

Library users build a collection on a binding directly:

	store, err := mongo.Connect("mongodb://localhost:27017")
	if err != nil {
		log.Fatal(err)
	}
	coll := sessions.New(store)

	err = coll.RefreshSessions(ctx, domain.NewRecordSet(rec), time.Now())

Processes configured from a file use Open:

	client, err := sessionsync.Open(ctx, "sessionsync.yaml")
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()
*/
package sessionsync
