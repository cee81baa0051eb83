// Package logging provides a structured logging system for crucible with
// unified log handling and flexible output formatting.
//
// This package implements a logging system built on Go's standard slog
// package, providing consistent logging behavior with structured output and
// level filtering.
//
// # Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about engine operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// # Structured Logging
//
// All log entries include a timestamp, a log level, a subsystem identifier
// for categorization, the message content, and optional error information.
//
// # Usage
//
//	import "crucible/pkg/logging"
//
//	// Initialize with Info level logging to stdout
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Coordinator", "Suite starting with %d tests", n)
//	logging.Debug("Engine", "Attempt %d for %s", attempt, id)
//	logging.Warn("System", "Monitor sample dropped")
//	logging.Error("Integration", err, "Component %s setup failed", name)
//
// # Capture Mode
//
// The execution engine installs a capture function via SetCapture while a
// test is running so that every log entry emitted during the run is also
// recorded on that test's result. Capture is in addition to, not instead
// of, the configured slog output.
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization:
//
//   - **Registry**: Test case registration and lookup
//   - **Scheduler**: Dependency resolution and ordering
//   - **Engine**: Test execution, timeouts and retries
//   - **Coordinator**: Suite orchestration and reporting
//   - **Unit**: Mock installation and state isolation
//   - **Integration**: Component lifecycle and checkpointing
//   - **System**: Resource allocation and monitoring
//   - **Perf**: Metrics aggregation and regression analysis
package logging
