// Package factory resolves storage backends by type name and manages named
// storage instances.
//
// A Registry maps type names ("memory", "file", "sqlite" and its alias
// "sql") to constructors. A Factory validates the common options, builds the
// configured serializer, constructs the backend, wraps it in a
// storage.BaseStorage and connects it.
//
// Example:
//
//	f := factory.New(factory.WithLogger(logger), factory.WithMetrics(collector))
//	defer f.Shutdown(ctx)
//
//	store, err := f.CreateOrGetStorage(ctx, "sqlite", storage.Options{
//		"database_path": "/var/lib/unistore/data.db",
//		"cache_ttl":     30,
//	}, "primary")
//	if err != nil {
//		return err
//	}
//	id, err := store.Save(ctx, storage.Record{"type": "session"})
//
// Custom backends are added with Registry.Register before or after first
// use; a name registered before the first lookup is not replaced by a
// built-in.
package factory
