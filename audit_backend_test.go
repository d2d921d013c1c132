// audit_backend_test.go - Test suite for audit storage backends
//
// Covers both the SQLite and JSONL backends: backend selection, schema
// creation, batch writes, concurrency and shutdown behavior.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package subdec

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for tests
)

// Test helpers and utilities

// createTempDB returns a path for a temporary SQLite database.
func createTempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test_audit.db")
}

// createTestSQLiteBackend creates a SQLite backend on a temporary database.
func createTestSQLiteBackend(t *testing.T) (*sqliteAuditBackend, string) {
	t.Helper()
	dbPath := createTempDB(t)
	config := AuditConfig{
		Enabled:    true,
		OutputFile: dbPath, // .db extension selects this exact path
		BufferSize: 5,
	}

	backend, err := newSQLiteBackend(config)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}

	return backend, dbPath
}

// createTempJSONL creates a temporary JSONL file for testing.
func createTempJSONL(t *testing.T) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "audit-*.jsonl")
	if err != nil {
		t.Fatalf("Failed to create temp JSONL file: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

// impossiblePath returns a path whose parent is a regular file, so any
// MkdirAll on it fails regardless of privileges.
func impossiblePath(t *testing.T, name string) string {
	t.Helper()
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0600); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}
	return filepath.Join(blocker, name)
}

// createTestAuditEvent creates a sample audit event for testing.
func createTestAuditEvent(command, event string) AuditEvent {
	return AuditEvent{
		Timestamp:   time.Now(),
		Level:       AuditCritical,
		Event:       event,
		Command:     command,
		Context:     map[string]any{"test": true},
		ProcessID:   12345,
		ProcessName: "test-process",
		Checksum:    "test-checksum",
	}
}

// verifyEventInDB verifies an audit event exists in the SQLite database.
func verifyEventInDB(t *testing.T, dbPath string, event AuditEvent) {
	t.Helper()

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var count int
	err = db.QueryRow(`
		SELECT COUNT(*) FROM audit_events
		WHERE command = ? AND event = ? AND level = ?
	`, event.Command, event.Event, event.Level.String()).Scan(&count)

	if err != nil {
		t.Fatalf("Failed to query database: %v", err)
	}

	if count == 0 {
		t.Errorf("Event not found in database: command=%s, event=%s",
			event.Command, event.Event)
	}
}

// Test Suite: Backend Interface Compliance

func TestBackendInterface_SQLite(t *testing.T) {
	t.Parallel()

	dbPath := createTempDB(t)
	config := AuditConfig{
		Enabled:    true,
		OutputFile: dbPath,
		BufferSize: 10,
	}

	backend, err := createAuditBackend(config)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}

	events := []AuditEvent{createTestAuditEvent("test-command", "test-event")}

	if err := backend.Write(events); err != nil {
		t.Errorf("Write failed: %v", err)
	}

	if err := backend.Flush(); err != nil {
		t.Errorf("Flush failed: %v", err)
	}

	if err := backend.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestBackendInterface_JSONL(t *testing.T) {
	t.Parallel()

	jsonlPath := createTempJSONL(t)
	config := AuditConfig{
		Enabled:    true,
		OutputFile: jsonlPath,
		BufferSize: 10,
	}

	backend, err := createAuditBackend(config)
	if err != nil {
		t.Fatalf("Failed to create JSONL backend: %v", err)
	}

	events := []AuditEvent{createTestAuditEvent("test-command", "test-event")}

	if err := backend.Write(events); err != nil {
		t.Errorf("Write failed: %v", err)
	}

	if err := backend.Flush(); err != nil {
		t.Errorf("Flush failed: %v", err)
	}

	if err := backend.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

// Test Suite: Backend Selection Logic

func TestBackendSelection_SQLite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		outputFile string
	}{
		{"DB extension", "audit.db"},
		{"No extension", "audit"},
		{"Custom extension", "audit.log"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := AuditConfig{
				Enabled:    true,
				OutputFile: filepath.Join(t.TempDir(), tc.outputFile),
				BufferSize: 10,
			}

			backend, err := createAuditBackend(config)
			if err != nil {
				t.Fatalf("Backend creation failed for %s: %v", tc.name, err)
			}
			defer backend.Close()

			if _, ok := backend.(*sqliteAuditBackend); !ok {
				t.Errorf("Expected SQLite backend for %s, got %s",
					tc.name, reflect.TypeOf(backend).String())
			}
		})
	}
}

func TestBackendSelection_JSONL(t *testing.T) {
	t.Parallel()

	config := AuditConfig{
		Enabled:    true,
		OutputFile: createTempJSONL(t), // .jsonl extension selects the JSONL backend
		BufferSize: 10,
	}

	backend, err := createAuditBackend(config)
	if err != nil {
		t.Fatalf("Failed to create JSONL backend: %v", err)
	}
	defer backend.Close()

	if _, ok := backend.(*jsonlAuditBackend); !ok {
		t.Errorf("Expected JSONL backend for .jsonl extension, got %s",
			reflect.TypeOf(backend).String())
	}
}

func TestBackendSelection_BothFail(t *testing.T) {
	t.Parallel()

	config := AuditConfig{
		Enabled:    true,
		OutputFile: impossiblePath(t, "audit.db"),
		BufferSize: 5,
	}

	_, err := createAuditBackend(config)
	if err == nil {
		t.Fatal("Expected createAuditBackend to fail for impossible path")
	}
	if !strings.Contains(err.Error(), "all audit backends failed") {
		t.Errorf("Expected error to mention both backends failed, got: %v", err)
	}
	assertErrorCode(t, err, ErrCodeAuditBackend)
}

// Test Suite: SQLite Backend

func TestSQLiteBackend_WriteAndVerify(t *testing.T) {
	t.Parallel()

	backend, dbPath := createTestSQLiteBackend(t)
	defer backend.Close()

	events := []AuditEvent{
		createTestAuditEvent("deploy", "command_registered"),
		createTestAuditEvent("logs", "parser_created"),
	}

	if err := backend.Write(events); err != nil {
		t.Fatalf("Failed to write events: %v", err)
	}

	if err := backend.Flush(); err != nil {
		t.Fatalf("Failed to flush events: %v", err)
	}

	for _, event := range events {
		verifyEventInDB(t, dbPath, event)
	}
}

func TestSQLiteBackend_SchemaVersioning(t *testing.T) {
	t.Parallel()

	backend, dbPath := createTestSQLiteBackend(t)
	defer backend.Close()

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var version int
	err = db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}

	if version != 1 {
		t.Errorf("Expected schema version 1, got %d", version)
	}
}

func TestSQLiteBackend_IndexesCreated(t *testing.T) {
	t.Parallel()

	backend, dbPath := createTestSQLiteBackend(t)
	defer backend.Close()

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	expectedIndexes := []string{
		"idx_audit_timestamp",
		"idx_audit_event",
		"idx_audit_command",
		"idx_audit_source",
		"idx_audit_event_command",
	}

	for _, indexName := range expectedIndexes {
		var count int
		err := db.QueryRow(`
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='index' AND name=?
		`, indexName).Scan(&count)

		if err != nil {
			t.Fatalf("Failed to check index %s: %v", indexName, err)
		}

		if count == 0 {
			t.Errorf("Index %s was not created", indexName)
		}
	}
}

func TestSQLiteBackend_ReopenExistingDatabase(t *testing.T) {
	t.Parallel()

	backend, dbPath := createTestSQLiteBackend(t)

	if err := backend.Write([]AuditEvent{createTestAuditEvent("first", "before-reopen")}); err != nil {
		t.Fatalf("Failed to write first event: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("Failed to close first backend: %v", err)
	}

	// Reopening must find the schema current and keep the old rows.
	reopened, err := newSQLiteBackend(AuditConfig{
		Enabled:    true,
		OutputFile: dbPath,
		BufferSize: 5,
	})
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer reopened.Close()

	if err := reopened.Write([]AuditEvent{createTestAuditEvent("second", "after-reopen")}); err != nil {
		t.Fatalf("Failed to write after reopen: %v", err)
	}
	if err := reopened.Flush(); err != nil {
		t.Fatalf("Failed to flush after reopen: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&count); err != nil {
		t.Fatalf("Failed to count events: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events across sessions, got %d", count)
	}
}

func TestSQLiteBackend_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	backend, dbPath := createTestSQLiteBackend(t)
	defer backend.Close()

	const numWorkers = 5
	const eventsPerWorker = 10

	done := make(chan error, numWorkers)

	for i := 0; i < numWorkers; i++ {
		go func(workerID int) {
			events := make([]AuditEvent, eventsPerWorker)
			for j := 0; j < eventsPerWorker; j++ {
				events[j] = createTestAuditEvent(
					fmt.Sprintf("concurrent-worker-%d", workerID),
					fmt.Sprintf("event-%d", j),
				)
			}

			if err := backend.Write(events); err != nil {
				done <- fmt.Errorf("worker %d write failed: %w", workerID, err)
				return
			}

			done <- nil
		}(i)
	}

	for i := 0; i < numWorkers; i++ {
		if err := <-done; err != nil {
			t.Errorf("Concurrent write test failed: %v", err)
		}
	}

	if err := backend.Flush(); err != nil {
		t.Errorf("Final flush failed: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&count); err != nil {
		t.Fatalf("Failed to count events: %v", err)
	}
	if count != numWorkers*eventsPerWorker {
		t.Errorf("Expected %d events, got %d", numWorkers*eventsPerWorker, count)
	}
}

func TestSQLiteBackend_EdgeCases(t *testing.T) {
	t.Parallel()

	// Invalid database path
	_, err := newSQLiteBackend(AuditConfig{
		Enabled:    true,
		OutputFile: impossiblePath(t, "audit.db"),
		BufferSize: 5,
	})
	if err == nil {
		t.Error("Expected error for invalid database path, but got none")
	}

	backend, _ := createTestSQLiteBackend(t)
	defer backend.Close()

	// Empty events array
	if err := backend.Write([]AuditEvent{}); err != nil {
		t.Errorf("Empty events array should not cause error: %v", err)
	}

	// Nil context
	nilContextEvent := AuditEvent{
		Timestamp: time.Now(),
		Level:     AuditInfo,
		Event:     "nil-context-test",
		Command:   "error-test",
		Context:   nil,
	}
	if err := backend.Write([]AuditEvent{nilContextEvent}); err != nil {
		t.Errorf("Event with nil context should be handled: %v", err)
	}

	// Zero timestamp
	zeroTimeEvent := AuditEvent{
		Timestamp: time.Time{},
		Level:     AuditInfo,
		Event:     "zero-time-event",
		Command:   "edge-test",
	}
	if err := backend.Write([]AuditEvent{zeroTimeEvent}); err != nil {
		t.Errorf("Failed to write zero-time event: %v", err)
	}

	// Multiple flushes
	for i := 0; i < 3; i++ {
		if err := backend.Flush(); err != nil {
			t.Errorf("Multiple flush %d failed: %v", i, err)
		}
	}
}

func TestSQLiteBackend_SafeShutdown(t *testing.T) {
	t.Parallel()

	backend, _ := createTestSQLiteBackend(t)

	if err := backend.Write([]AuditEvent{createTestAuditEvent("shutdown", "pre-close")}); err != nil {
		t.Fatalf("Pre-close write failed: %v", err)
	}

	if err := backend.Close(); err != nil {
		t.Errorf("Failed to close backend: %v", err)
	}

	// Multiple closes are safe.
	if err := backend.Close(); err != nil {
		t.Errorf("Second close should be safe: %v", err)
	}

	// Writes after close fail cleanly instead of touching the closed DB.
	if err := backend.Write([]AuditEvent{createTestAuditEvent("shutdown", "post-close")}); err == nil {
		t.Error("Expected write error after close")
	}

	// Flush after close is a no-op.
	if err := backend.Flush(); err != nil {
		t.Errorf("Flush after close should be a no-op: %v", err)
	}
}

// Test Suite: JSONL Backend

func TestJSONLBackend_Comprehensive(t *testing.T) {
	t.Parallel()

	jsonlPath := createTempJSONL(t)
	config := AuditConfig{
		Enabled:    true,
		OutputFile: jsonlPath,
		BufferSize: 3,
	}

	backend, err := newJSONLBackend(config)
	if err != nil {
		t.Fatalf("Failed to create JSONL backend: %v", err)
	}
	defer backend.Close()

	testEvents := []AuditEvent{
		createTestAuditEvent("jsonl-test", "event-1"),
		createTestAuditEvent("jsonl-test", "event-2"),
		{
			Timestamp: time.Now(),
			Level:     AuditWarn,
			Event:     "warning-event",
			Command:   "jsonl-warn",
		},
	}

	if err := backend.Write(testEvents); err != nil {
		t.Fatalf("Failed to write events to JSONL backend: %v", err)
	}

	if err := backend.Flush(); err != nil {
		t.Fatalf("Failed to flush JSONL backend: %v", err)
	}

	data, err := os.ReadFile(jsonlPath)
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != len(testEvents) {
		t.Errorf("Expected %d lines in output, got %d", len(testEvents), len(lines))
	}

	for i, line := range lines {
		if line == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Errorf("Line %d is not valid JSON: %v", i+1, err)
		}
	}
}

func TestJSONLBackend_ErrorPaths(t *testing.T) {
	t.Parallel()

	// JSONL requires an explicit output file.
	if _, err := newJSONLBackend(AuditConfig{Enabled: true, BufferSize: 5}); err == nil {
		t.Error("Expected error for empty JSONL OutputFile, got none")
	}

	// Invalid output path
	_, err := newJSONLBackend(AuditConfig{
		Enabled:    true,
		OutputFile: impossiblePath(t, "audit.jsonl"),
		BufferSize: 5,
	})
	if err == nil {
		t.Error("Expected error for invalid JSONL path, got none")
	}

	// Complex context data must serialize cleanly.
	jsonlPath := createTempJSONL(t)
	backend, err := newJSONLBackend(AuditConfig{
		Enabled:    true,
		OutputFile: jsonlPath,
		BufferSize: 2,
	})
	if err != nil {
		t.Fatalf("Failed to create JSONL backend: %v", err)
	}
	defer backend.Close()

	complexEvent := AuditEvent{
		Timestamp: time.Now(),
		Level:     AuditSecurity,
		Event:     "security-test",
		Command:   "jsonl-test",
		Context: map[string]any{
			"nested":  map[string]any{"deep": []any{1, 2, "three", true, nil}},
			"unicode": "测试数据 🔒",
			"special": "\"quotes\" and 'apostrophes' and \n newlines",
		},
	}

	if err := backend.Write([]AuditEvent{complexEvent}); err != nil {
		t.Errorf("Failed to write complex event to JSONL: %v", err)
	}

	if err := backend.Flush(); err != nil {
		t.Errorf("Failed to flush JSONL backend: %v", err)
	}

	data, err := os.ReadFile(jsonlPath)
	if err != nil {
		t.Fatalf("Failed to read JSONL output: %v", err)
	}

	for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Errorf("Line %d is not valid JSON: %v", i+1, err)
		}
	}
}

func TestJSONLBackend_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	jsonlPath := createTempJSONL(t)
	backend, err := newJSONLBackend(AuditConfig{
		Enabled:    true,
		OutputFile: jsonlPath,
		BufferSize: 5,
	})
	if err != nil {
		t.Fatalf("Failed to create JSONL backend: %v", err)
	}
	defer backend.Close()

	var wg sync.WaitGroup
	errorCh := make(chan error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			event := createTestAuditEvent("concurrent", fmt.Sprintf("event-%d", id))
			if err := backend.Write([]AuditEvent{event}); err != nil {
				errorCh <- err
			}
		}(i)
	}

	wg.Wait()
	close(errorCh)

	for err := range errorCh {
		t.Errorf("Concurrent write error: %v", err)
	}

	if err := backend.Flush(); err != nil {
		t.Fatalf("Failed to flush JSONL backend: %v", err)
	}

	data, err := os.ReadFile(jsonlPath)
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 10 {
		t.Errorf("Expected 10 lines, got %d", len(lines))
	}
}
