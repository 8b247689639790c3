/*
Package log provides structured logging for Mercury using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

Mercury's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("btree")                   │          │
	│  │  - WithStore("/var/lib/mercury/default")    │          │
	│  │  - WithTxID(104021)                         │          │
	│  │  - WithQueryID("q-7f3a")                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "wal",                      │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "checkpoint written"          │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2024-10-13T10:30:00Z INF checkpoint written    │      │
	│  │    component=wal                             │      │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Mercury packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithStore: Add the on-disk store path
  - WithTxID: Add the WAL transaction id
  - WithQueryID: Add a query correlation id

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "page cache miss: page_id=482"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "checkpoint complete: tx=10402 pages_flushed=318"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "WAL segment approaching size threshold"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "WAL record CRC mismatch, truncating replay"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "failed to open store directory: %v"

# Usage

Initializing the Logger:

	import "github.com/cuemby/mercury/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/mercury.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("store opened")
	log.Debug("checking free disk space")
	log.Warn("checkpoint interval elapsed without explicit trigger")
	log.Error("failed to fsync WAL segment")
	log.Fatal("cannot start without a writable store directory") // Exits process

Structured Logging:

	log.Logger.Info().
		Uint64("tx_id", 10402).
		Int("records", 37).
		Msg("batch committed")

	log.Logger.Error().
		Err(err).
		Str("store_path", dir).
		Msg("recovery failed")

Component Loggers:

	// Create component-specific logger
	btreeLog := log.WithComponent("btree")
	btreeLog.Info().Msg("leaf split")
	btreeLog.Debug().Int("height", 4).Msg("tree grew")

	// Multiple context fields
	queryLog := log.WithComponent("query").
		With().Str("query_id", "q-7f3a").Logger()
	queryLog.Info().Msg("executing SELECT")
	queryLog.Error().Err(err).Msg("pattern scan failed")

Context Logger Helpers:

	// Store-specific logs
	storeLog := log.WithStore("/var/lib/mercury/default")
	storeLog.Info().Msg("store opened")

	// Transaction-specific logs
	txLog := log.WithTxID(10402)
	txLog.Info().Msg("batch committed")

	// Query-specific logs
	qLog := log.WithQueryID("q-7f3a")
	qLog.Info().Msg("query started")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/cuemby/mercury/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("mercury starting")

		// Component-specific logging
		walLog := log.WithComponent("wal")
		walLog.Info().
			Uint64("tx_id", 1).
			Int("record_count", 37).
			Msg("batch appended")

		// Error logging
		err := errors.New("disk full")
		log.Logger.Error().
			Err(err).
			Str("component", "pagecache").
			Msg("failed to flush dirty page")

		log.Info("mercury stopped")
	}

# Integration Points

This package integrates with:

  - pkg/wal: Logs record appends, flushes, and checkpoints
  - pkg/btree: Logs splits and range-scan boundaries
  - pkg/storage: Logs batch lifecycle and lock acquisition
  - pkg/query: Logs plan reordering and cancellation
  - pkg/prune: Logs copy-and-switch progress and verification
  - pkg/pool: Logs lease acquisition and gate waits

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"wal","time":"2024-10-13T10:30:00Z","message":"batch appended"}
	{"level":"info","component":"btree","tx_id":1,"time":"2024-10-13T10:30:01Z","message":"leaf split"}
	{"level":"error","component":"pagecache","error":"disk full","time":"2024-10-13T10:30:02Z","message":"failed to flush dirty page"}

Console Format (Development):

	2024-10-13T10:30:00Z INF batch appended component=wal
	2024-10-13T10:30:01Z INF leaf split component=btree tx_id=1
	2024-10-13T10:30:02Z ERR failed to flush dirty page component=pagecache error="disk full"
*/
package log
