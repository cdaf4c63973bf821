// Package config provides application configuration management.
//
// The config package loads a .env file when present, then reads config.yaml
// from the working directory or ./config, layering environment variables
// (CODEPOOL_ prefix, plus HOST, REDIS_URL and NATS_URL) on top of built-in
// defaults. It covers the HTTP server, logging, container pool limits, retry
// policy, rate limiting, result cache backend, NATS bridge and metrics.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Max containers per language: %d\n", cfg.Sandbox.MaxPoolSize)
package config
