// Package logger builds the application's zap logger.
//
// Production mode writes JSON with an ISO8601 "timestamp" key; development
// mode writes coloured console output. Both go to stderr.
//
// Usage:
//
//	l, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync(l)
//	l.Info("container created", zap.String("language", "python"))
package logger
