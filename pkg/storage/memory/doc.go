// Package memory provides an in-process storage backend.
//
// Records are held in a map guarded by a read-write mutex. Each record may
// carry a time-to-live (the "_ttl" field, or default_ttl_seconds); expired
// records are invisible to every read and are reaped lazily or by a periodic
// sweep.
//
// # Capacity
//
// max_size and max_memory_mb are enforced at write time. When a new record
// would exceed either limit, expired records are reaped first and the write
// is rejected with a CapacityError if there is still no room. Existing
// records are never evicted to make space.
//
// # Persistence
//
// With enable_persistence set, the live records are written to
// persistence_file as a JSON snapshot on a fixed interval and on Disconnect,
// and reloaded on Connect. A failed snapshot marks the backend degraded.
//
// Example:
//
//	be, err := memory.New(memory.DefaultConfig(), storage.Dependencies{})
//	if err != nil {
//		return err
//	}
//	st := storage.NewBaseStorage(be, storage.BaseConfig{Name: "scratch"})
//	if err := st.Connect(ctx); err != nil {
//		return err
//	}
//	defer st.Close(ctx)
package memory
