/*
Package log provides structured logging for the datastore using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

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
	│  │  - WithComponent("domain")                  │          │
	│  │  - WithPrescriptionID("200.abc...")         │          │
	│  │  - WithKvnrHash(hash)                       │          │
	│  │  - WithPurpose("task")                      │          │
	│  │  - WithBlobID(blobID)                       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "domain",                   │          │
	│  │    "time": "2026-07-30T10:30:00Z",         │          │
	│  │    "message": "task activated"              │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF task activated component=domain │         │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all datastore packages
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
  - WithPrescriptionID: Add the prescription id a log line concerns
  - WithKvnrHash: Add the HMAC-hashed kvnr a log line concerns — never
    the plaintext kvnr
  - WithPurpose: Add the key-derivation purpose an operation acted under
  - WithBlobID: Add the HSM blob id a key was wrapped under

# Usage

Initializing the Logger:

	import "github.com/erprx/datastore/pkg/log"

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

Simple Logging:

	log.Info("store initialized")
	log.Debug("checking task status")
	log.Warn("key derivation retried")
	log.Error("failed to reach HSM")
	log.Fatal("cannot start without database") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("purpose", "task").
		Int32("blob_id", int32(gen.BlobID)).
		Msg("task key derived")

	log.Logger.Error().
		Err(err).
		Str("prescription_id", id.String()).
		Msg("activate task failed")

Context Logger Helpers:

	taskLog := log.WithPrescriptionID(id.String())
	taskLog.Info().Msg("task activated")

	kvnrLog := log.WithKvnrHash(kvnrHashed)
	kvnrLog.Info().Msg("medication dispense key derived")

# Security

Log Content:
  - Never log plaintext kvnr, access codes, or prescription payloads
  - Only hashed identities (WithKvnrHash) and opaque blob ids belong in
    logs — the whole point of this store is that plaintext never
    leaves pkg/domain unencrypted, logs included
  - Review logs before sharing externally

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
