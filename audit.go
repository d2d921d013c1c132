// audit.go: Audit trail for subcommand registration and materialization
//
// This provides opt-in audit logging for every decoration and materialize
// step, so the full history of how a command tree was assembled can be
// reconstructed after the fact.
//
// Features:
// - Immutable audit logs with tamper detection
// - Structured events with per-command context
// - Buffered writes with background flushing
// - Configurable audit levels and outputs
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package subdec

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// Audit event names emitted by the registry.
const (
	EventCommandRegistered    = "command_registered"
	EventCallDeferred         = "call_deferred"
	EventCreateOptionsSet     = "create_options_set"
	EventNameOverridden       = "name_overridden"
	EventParserCreated        = "parser_created"
	EventMaterializeCompleted = "materialize_completed"
	EventMaterializeFailed    = "materialize_failed"
)

// AuditLevel represents the severity of audit events
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditCritical
	AuditSecurity
)

func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditCritical:
		return "CRITICAL"
	case AuditSecurity:
		return "SECURITY"
	default:
		return "UNKNOWN"
	}
}

// AuditEvent represents a single auditable event
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	Level       AuditLevel     `json:"level"`
	Event       string         `json:"event"`
	Command     string         `json:"command,omitempty"`
	ProcessID   int            `json:"process_id"`
	ProcessName string         `json:"process_name"`
	Context     map[string]any `json:"context,omitempty"`
	Checksum    string         `json:"checksum"` // For tamper detection
}

// AuditConfig configures the audit system
type AuditConfig struct {
	Enabled       bool          `json:"enabled"`
	OutputFile    string        `json:"output_file"`
	MinLevel      AuditLevel    `json:"min_level"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// DefaultAuditConfig returns the default audit configuration with unified
// SQLite storage.
//
// An empty OutputFile selects the system-wide SQLite audit database, which
// keeps registration trails from every process in one queryable place. For
// plain-file audit trails, set OutputFile to a path with a .jsonl extension.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       true,
		OutputFile:    "", // Empty triggers unified SQLite backend
		MinLevel:      AuditInfo,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}

// AuditLogger provides buffered audit logging with pluggable backends.
//
// Events are buffered in memory and written in batches, either when the
// buffer fills or on the background flush interval. The disabled path
// matters more than the enabled one: a nil logger, a disabled config and a
// below-threshold level all return before any allocation.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend // Pluggable storage backend (SQLite or JSONL)
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	processID   int
	processName string
}

// NewAuditLogger creates an audit logger with automatic backend selection:
// SQLite for unified storage when available, JSONL as the fallback. The
// configuration is validated first; a negative buffer size or flush
// interval is rejected with ErrCodeInvalidAuditConfig.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	if config.BufferSize < 0 {
		return nil, errors.New(ErrCodeInvalidAuditConfig,
			fmt.Sprintf("audit buffer size must not be negative, got %d", config.BufferSize))
	}
	if config.FlushInterval < 0 {
		return nil, errors.New(ErrCodeInvalidAuditConfig,
			fmt.Sprintf("audit flush interval must not be negative, got %v", config.FlushInterval))
	}
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}

	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, err
	}

	logger := &AuditLogger{
		config:      config,
		backend:     backend,
		buffer:      make([]AuditEvent, 0, config.BufferSize),
		stopCh:      make(chan struct{}),
		processID:   os.Getpid(),
		processName: processName(),
	}

	// Start background flusher
	if config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(config.FlushInterval)
		go logger.flushLoop()
	}

	return logger, nil
}

// Log records an audit event. Safe to call on a nil logger.
func (al *AuditLogger) Log(level AuditLevel, event, command string, context map[string]any) {
	if al == nil || al.backend == nil || !al.config.Enabled || level < al.config.MinLevel {
		return
	}

	auditEvent := AuditEvent{
		Timestamp:   timecache.CachedTime(),
		Level:       level,
		Event:       event,
		Command:     command,
		ProcessID:   al.processID,
		ProcessName: al.processName,
		Context:     context,
	}
	auditEvent.Checksum = al.generateChecksum(auditEvent)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, auditEvent)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe() // Ignore flush errors during buffering to maintain throughput
	}
	al.bufferMu.Unlock()
}

// LogRegistration logs a decoration-time event for a command.
func (al *AuditLogger) LogRegistration(event, command string) {
	al.Log(AuditInfo, event, command, nil)
}

// LogMaterializeError logs a failed materialize step.
func (al *AuditLogger) LogMaterializeError(command string, err error) {
	al.Log(AuditWarn, EventMaterializeFailed, command, map[string]any{"error": err.Error()})
}

// Flush immediately writes all buffered events
func (al *AuditLogger) Flush() error {
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Close gracefully shuts down the audit logger
func (al *AuditLogger) Close() error {
	close(al.stopCh)
	if al.flushTicker != nil {
		al.flushTicker.Stop()
	}

	if err := al.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit logger during close: %w", err)
	}

	if al.backend != nil {
		if err := al.backend.Close(); err != nil {
			return fmt.Errorf("failed to close audit backend: %w", err)
		}
	}

	return nil
}

// flushLoop runs the background flush process
func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush() // Ignore flush errors in background process
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes the buffer to backend storage (caller must hold
// bufferMu).
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 {
		return nil
	}

	if err := al.backend.Write(al.buffer); err != nil {
		return fmt.Errorf("failed to write audit events to backend: %w", err)
	}

	al.buffer = al.buffer[:0]
	return nil
}

// generateChecksum creates a tamper-detection checksum using SHA-256
func (al *AuditLogger) generateChecksum(event AuditEvent) string {
	data := fmt.Sprintf("%s:%s:%s:%v",
		event.Timestamp.Format(time.RFC3339Nano),
		event.Event, event.Command, event.Context)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

func processName() string {
	return "subdec" // Could read from /proc/self/comm
}
