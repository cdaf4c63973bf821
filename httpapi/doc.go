// Package httpapi is the HTTP front door of the compile service.
//
// Routes:
//
//	POST /compile   {code, language} -> {output, error, execution_time, cached}
//	GET  /healthz   per-language container counts
//	GET  /metrics   Prometheus exposition, when a metrics handler is configured
//	     /mcp       MCP streamable HTTP transport, when configured
//
// Status codes: 200 for any result the program produced (including programs
// that failed), 400 for malformed bodies, unsupported languages and oversized
// code, 429 when the rate limiter rejects the request and 500 for
// infrastructure failures.
//
// Routes are served by a gin engine with zap request logging and permissive
// CORS.
//
// The server listens on the first free port of the configured list.
package httpapi
