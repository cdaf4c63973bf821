// Package mcpserver exposes the container pool over the Model Context Protocol.
//
// It registers a single "compile" tool taking code and language, backed by a
// sandbox.Compiler, using the mark3labs/mcp-go library for the protocol. The
// server runs on stdio, or is mounted under /mcp by the HTTP front door.
//
// Usage:
//
//	server, err := mcpserver.New(logger, pool)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or mux.Handle("/mcp", server.Handler("/mcp"))
package mcpserver
