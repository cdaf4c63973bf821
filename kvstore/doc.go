// Package kvstore provides the key-value backends behind the result cache.
//
// Redis is the shared backend used in production. Badger is an embedded
// alternative that runs in memory when no directory is configured, which is
// also what the tests use. Breaker wraps either one with a circuit breaker so
// a dead backend stops costing a network round trip per request.
//
// Every store implements sandbox.KeyValueStore:
//
//	store, err := kvstore.New(ctx, cfg.Cache, logger)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package kvstore
