// Package main is the entry point for the codepool compile service.
//
// The service runs untrusted programs in pooled, per-language Docker
// containers. Requests arrive over HTTP (POST /compile, plus MCP under /mcp),
// over MCP on stdio, or over NATS request/reply. Results are cached in Redis
// or an embedded Badger store, and each execution is watched for memory
// breaches.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration. On shutdown every transport stops first; the container pool
// then force-removes every container it created before the process exits.
// The fx stop timeout is derived from server.shutdown_timeout_sec so the
// drain is never cut short.
package main
