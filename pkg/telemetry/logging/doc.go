// Package logging builds the process-wide structured logger.
//
// # Overview
//
// The logging package configures Go's standard log/slog package from the
// telemetry.logging section of the configuration:
//   - JSON or text output
//   - Configurable log levels (debug, info, warn, error)
//   - Optional source file and line
//   - Redaction of attributes whose key names a secret
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
//	logger.Info("storage created",
//	    "backend", "file",
//	    "encryption_key", "hunter2", // logged as "***"
//	)
//
// Storage components derive child loggers with a "component" attribute, e.g.
// component=storage.sqlite, so one handler serves the whole process.
package logging
