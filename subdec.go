// subdec: Deferred subcommand registration over pluggable parser factories
//
// Philosophy:
// - Minimal dependencies (AGILira ecosystem only: go-errors, go-timecache)
// - Record now, build later: decoration never touches the parser library
// - Replay reproduces the exact order the caller wrote
// - No hidden globals; every registry is an explicit value
//
// Example Usage:
//   reg := subdec.New(subdec.Config{})
//   reg.Command(serveCmd).
//           SetCreateOptions(subdec.Help("Run the server")).
//           AddArgument("--port", subdec.Type(subdec.TypeInt), subdec.Default(8080))
//   if err := reg.CreateParsers(factory); err != nil {
//           log.Fatal(err)
//   }
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package subdec

import (
	"fmt"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// Error codes for structured error handling
const (
	ErrCodeInvalidHandler     = "SUBDEC_INVALID_HANDLER"
	ErrCodeNilSubparsers      = "SUBDEC_NIL_SUBPARSERS"
	ErrCodeNilConfigure       = "SUBDEC_NIL_CONFIGURE_FUNC"
	ErrCodeUnsupportedCall    = "SUBDEC_UNSUPPORTED_CALL"
	ErrCodeInvalidSnapshot    = "SUBDEC_INVALID_SNAPSHOT_FORMAT"
	ErrCodeInvalidAuditConfig = "SUBDEC_INVALID_AUDIT_CONFIG"
	ErrCodeAuditBackend       = "SUBDEC_AUDIT_BACKEND_ERROR"
)

// Config controls name derivation and handler installation for a Registry.
// The zero value is usable; empty fields select the documented defaults.
type Config struct {
	// NamePrefix is stripped from the front of derived subcommand names,
	// so a "cmdServe" handler under prefix "cmd" yields "Serve".
	NamePrefix string

	// NameToken is the token replaced by Separator in derived names
	// (default "_").
	NameToken string

	// Separator replaces NameToken in derived names (default "-").
	Separator string

	// KebabCase additionally converts CamelCase function names to
	// kebab-case before token replacement.
	KebabCase bool

	// HandlerDest is the namespace attribute the handler is installed
	// under at materialize time (default "fn").
	HandlerDest string

	// Audit optionally receives structured events for every decoration
	// and materialize step. Nil disables auditing and costs nothing.
	Audit *AuditLogger
}

// WithDefaults returns a copy of the config with defaults applied.
func (c *Config) WithDefaults() *Config {
	config := *c

	if config.NameToken == "" {
		config.NameToken = "_"
	}

	if config.Separator == "" {
		config.Separator = "-"
	}

	if config.HandlerDest == "" {
		config.HandlerDest = "fn"
	}

	return &config
}

// deferredCall is one recorded configuration step, replayed at materialize.
// Typed builder methods and Do capture an apply closure; by-name Call
// records leave apply nil and resolve through the Caller capability.
type deferredCall struct {
	method string
	args   []any
	apply  func(Subparser) error
	at     time.Time
}

// pendingCommand accumulates the deferred state for one handler.
type pendingCommand struct {
	key           uintptr
	funcName      string
	name          string // explicit override, empty means derive
	handler       any
	createOptions []Option
	calls         []deferredCall
	registeredAt  time.Time
	err           error // deferred usage error, reported at materialize
}

// Registry records subcommand decorations keyed by handler identity and
// replays them on demand against any Subparsers factory.
//
// Handler identity is the function's code pointer. Method values bound to
// different receivers share a code pointer; disambiguate such handlers with
// SetName or distinct wrapper functions.
type Registry struct {
	config Config
	audit  *AuditLogger

	mu      sync.RWMutex
	entries map[uintptr]*pendingCommand
	order   []uintptr
}

// New creates a registry with the given configuration.
func New(config Config) *Registry {
	cfg := config.WithDefaults()
	return &Registry{
		config:  *cfg,
		audit:   cfg.Audit,
		entries: make(map[uintptr]*pendingCommand),
	}
}

// SetAudit installs an audit logger after construction, equivalent to
// setting Config.Audit up front. Call it before decorating; a nil logger
// disables auditing. Returns the registry for chaining.
func (r *Registry) SetAudit(audit *AuditLogger) *Registry {
	r.audit = audit
	return r
}

// Command returns the builder for handler, creating its entry on first use.
// Calling Command again with the same handler returns the same accumulated
// entry, so decorations spread across call sites add up instead of
// overwriting each other. Nil and non-function handlers are accepted here;
// their usage error surfaces when CreateParsers reaches the entry.
func (r *Registry) Command(handler any) *Command {
	key, funcName, idErr := handlerIdentity(handler)

	r.mu.Lock()
	entry, known := r.entries[key]
	if !known {
		entry = &pendingCommand{
			key:          key,
			funcName:     funcName,
			handler:      handler,
			registeredAt: timecache.CachedTime(),
			err:          idErr,
		}
		r.entries[key] = entry
		r.order = append(r.order, key)
	}
	r.mu.Unlock()

	if !known {
		r.audit.Log(AuditInfo, EventCommandRegistered, funcName, nil)
	}
	return &Command{registry: r, entry: entry}
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Command is a fluent builder recording deferred configuration for one
// handler. Every method appends in call order and returns the builder, so
// the written chain is exactly the replay order.
type Command struct {
	registry *Registry
	entry    *pendingCommand
}

func (c *Command) record(method string, args []any, apply func(Subparser) error) *Command {
	r := c.registry

	r.mu.Lock()
	c.entry.calls = append(c.entry.calls, deferredCall{
		method: method,
		args:   args,
		apply:  apply,
		at:     timecache.CachedTime(),
	})
	r.mu.Unlock()

	r.audit.Log(AuditInfo, EventCallDeferred, c.entry.funcName, map[string]any{"method": method})
	return c
}

// AddArgument records an argument registration for the subcommand. The
// argument is handed unchanged to the subparser at materialize time.
func (c *Command) AddArgument(name string, options ...Option) *Command {
	arg := Argument{Name: name, Options: options}

	args := make([]any, 0, 1+len(options))
	args = append(args, name)
	for _, opt := range options {
		args = append(args, opt)
	}
	return c.record("AddArgument", args, func(p Subparser) error {
		return p.AddArgument(arg)
	})
}

// SetDefault records a namespace default installed at materialize time.
func (c *Command) SetDefault(dest string, value any) *Command {
	return c.record("SetDefault", []any{dest, value}, func(p Subparser) error {
		return p.SetDefault(dest, value)
	})
}

// Call records a deferred call by method name. Nothing is validated here:
// the name is resolved at materialize time through the subparser's Caller
// capability, and a factory without that capability rejects the call then.
func (c *Command) Call(method string, args ...any) *Command {
	return c.record(method, args, nil)
}

// Do records an arbitrary configuration step to run against the subparser.
func (c *Command) Do(fn func(Subparser) error) *Command {
	if fn == nil {
		return c.record("Do", nil, func(Subparser) error {
			return errors.New(ErrCodeNilConfigure, "nil configure function")
		})
	}
	return c.record("Do", nil, fn)
}

// SetCreateOptions stores the keyword options forwarded to AddParser for
// this subcommand. A later call replaces the stored options entirely.
func (c *Command) SetCreateOptions(options ...Option) *Command {
	r := c.registry

	r.mu.Lock()
	c.entry.createOptions = append([]Option(nil), options...)
	r.mu.Unlock()

	r.audit.Log(AuditInfo, EventCreateOptionsSet, c.entry.funcName, map[string]any{"options": len(options)})
	return c
}

// SetName overrides the derived subcommand name for this entry.
func (c *Command) SetName(name string) *Command {
	r := c.registry

	r.mu.Lock()
	c.entry.name = name
	r.mu.Unlock()

	r.audit.Log(AuditInfo, EventNameOverridden, c.entry.funcName, map[string]any{"name": name})
	return c
}

// CreateParsers materializes every recorded subcommand against sp in
// first-decoration order: derive the name, create the subparser with the
// stored creation options, replay the deferred calls in the order they were
// written, then install the handler under Config.HandlerDest.
//
// The first failure aborts the loop and is returned as-is; sp may be left
// partially configured. Errors raised by the factory or subparser propagate
// unwrapped. The registry itself is never mutated, so the same registry can
// be materialized against any number of factories.
func (r *Registry) CreateParsers(sp Subparsers) error {
	if sp == nil {
		return errors.New(ErrCodeNilSubparsers, "subparsers factory must not be nil")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, key := range r.order {
		entry := r.entries[key]
		if err := r.createParser(sp, entry); err != nil {
			r.audit.Log(AuditWarn, EventMaterializeFailed, r.commandName(entry),
				map[string]any{"error": err.Error()})
			return err
		}
	}

	r.audit.Log(AuditInfo, EventMaterializeCompleted, "", map[string]any{"commands": len(r.order)})
	return nil
}

func (r *Registry) createParser(sp Subparsers, entry *pendingCommand) error {
	if entry.err != nil {
		return entry.err
	}

	name := r.commandName(entry)
	parser, err := sp.AddParser(name, entry.createOptions...)
	if err != nil {
		return err
	}

	for i := range entry.calls {
		if err := replayCall(parser, &entry.calls[i]); err != nil {
			return err
		}
	}

	if err := parser.SetDefault(r.config.HandlerDest, entry.handler); err != nil {
		return err
	}

	r.audit.Log(AuditInfo, EventParserCreated, name, map[string]any{"calls": len(entry.calls)})
	return nil
}

// replayCall applies one deferred call. Records carrying an apply closure
// run it directly; by-name records need the Caller capability.
func replayCall(parser Subparser, call *deferredCall) error {
	if call.apply != nil {
		return call.apply(parser)
	}

	caller, ok := parser.(Caller)
	if !ok {
		return errors.New(ErrCodeUnsupportedCall,
			fmt.Sprintf("subparser %T does not support calls by name", parser)).
			WithContext("method", call.method)
	}
	return caller.Call(call.method, call.args...)
}

// commandName resolves the effective subcommand name for an entry:
// the SetName override when present, the derived name otherwise.
func (r *Registry) commandName(entry *pendingCommand) string {
	if entry.name != "" {
		return entry.name
	}
	return r.config.deriveName(entry.funcName)
}
