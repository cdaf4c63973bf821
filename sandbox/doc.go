// Package sandbox provides the container pool and execution engine.
//
// A Pool serves compile requests by running the submitted source inside a
// warm, resource-bounded language container. It is composed of:
//
//   - ResultCache: content-addressed cache-aside layer over a KeyValueStore
//   - Inventory: the per-language record of live containers, capped at
//     MaxPoolSize, reusing the most recently released container first
//   - Monitor: a watchdog that samples memory usage during an execution and
//     force-removes the container on breach
//   - Executor: runs one command per attempt with a timeout, retrying only
//     transient runtime failures with exponential backoff
//
// The container runtime, cache backend and rate limiter are collaborators
// supplied through the ContainerRuntime, KeyValueStore and RateLimiter
// interfaces.
//
// Usage:
//
//	pool := sandbox.NewPool(logger, runtime, sandbox.DefaultConfig(),
//	    sandbox.WithResultStore(store),
//	    sandbox.WithRateLimiter(limiter))
//	defer pool.Shutdown(context.Background())
//
//	result, err := pool.Compile(ctx, sandbox.ExecutionRequest{
//	    Language: "javascript",
//	    Source:   "console.log(1+1)",
//	})
package sandbox
