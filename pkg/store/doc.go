// Package store persists dispatch results.
//
// Each successful response is decoded as a JSON object, tagged with the
// task's uuid and written under a namespace (database + collection). The
// namespace also keeps the set of completed task IDs so that a rerun over
// the same narratives skips work that is already stored.
//
// # Redis Layout
//
//	blueprint:<database>:<collection>:results:<uuid>   JSON document
//	blueprint:<database>:<collection>:done             SET of stored uuids
//
// Document and set membership are written in one pipeline, so a uuid is in
// the done-set only if its document was written in the same round trip.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := store.NewManager(redisClient, store.Namespace{
//		Database:   "narratives",
//		Collection: "gpt-4o-mini",
//	})
//
//	if err := manager.CheckAccess(ctx); err != nil {
//		return err
//	}
//
//	done, err := manager.CompletedIDs(ctx)
//
// MemoryStore offers the same surface without Redis for tests and dry runs.
package store
