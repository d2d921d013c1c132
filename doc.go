// Package subdec provides deferred subcommand registration for command-line
// applications, decoupling the code that declares subcommands from the
// parser library that eventually hosts them.
//
// # Philosophy: Record Now, Build Later
//
// Handlers and their argument specifications are recorded against a registry
// as the program assembles itself; nothing touches a parser library until an
// explicit materialize step replays every recorded call, in the exact order
// it was written, against a caller-supplied subparser factory.
//
// # Architecture Overview
//
// Subdec consists of four integrated parts:
//  1. **Registry and builder**: per-handler accumulation of deferred calls
//  2. **Name derivation**: function identifiers become subcommand names
//  3. **Providers**: bindings for flash-flags and Orpheus under providers/
//  4. **Audit trail**: opt-in buffered logging with SQLite/JSONL backends
//
// # Deferred Registration
//
// Decoration is incremental and free of side effects on the parser:
//
//	reg := subdec.New(subdec.Config{})
//
//	reg.Command(serveCmd).
//		SetCreateOptions(subdec.Help("Run the API server")).
//		AddArgument("--port", subdec.Type(subdec.TypeInt), subdec.Default(8080)).
//		AddArgument("--verbose", subdec.Type(subdec.TypeBool))
//
// Decorating the same handler again, anywhere in the program, accumulates
// onto the same entry:
//
//	reg.Command(serveCmd).AddArgument("--tls-cert")
//
// # Materialization
//
// A single call builds the real subcommands through any factory that
// implements the Subparsers interface:
//
//	dispatcher := flashflag.NewDispatcher("myapp")
//	if err := reg.CreateParsers(dispatcher); err != nil {
//		log.Fatal(err)
//	}
//	err := dispatcher.Run(os.Args[1:])
//
// The registry is never mutated by materialization, so one registry can
// build any number of independent parser trees.
//
// # Name Derivation
//
// Subcommand names derive from handler function names: the package path is
// trimmed, Config.NamePrefix is stripped, and every Config.NameToken
// (default "_") is replaced with Config.Separator (default "-"). With
// Config.KebabCase set, CamelCase identifiers become kebab-case first, so
// "ServeAPI" turns into "serve-api". SetName overrides derivation per
// command.
//
// # Handler Identity
//
// Handlers are keyed by their code pointer. Two method values bound to
// different receivers share a code pointer and would collide; register such
// handlers through distinct wrapper functions or disambiguate them with
// SetName.
//
// # Audit Trail
//
// Registration and materialization can be audited with tamper-evident
// structured events:
//
//	logger, err := subdec.NewAuditLogger(subdec.DefaultAuditConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logger.Close()
//
//	reg := subdec.New(subdec.Config{Audit: logger})
//
// Events are buffered and flushed in batches to a unified SQLite database
// (or a JSONL file), with SHA-256 checksums for tamper detection.
//
// # Thread Safety
//
// Decoration and materialization are safe for concurrent use; recorded
// order follows the happens-before order of the decorating goroutines.
// The intended pattern remains linear: decorate during program assembly,
// materialize once wiring is complete.
//
// Repository: https://github.com/agilira/subdec
package subdec
