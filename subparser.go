// subparser.go: Subparser contracts and option vocabulary
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package subdec

import "fmt"

// Subparsers is the factory a Registry materializes against. CreateParsers
// calls AddParser once per recorded command, in first-decoration order,
// forwarding the command's creation options verbatim.
type Subparsers interface {
	AddParser(name string, options ...Option) (Subparser, error)
}

// Subparser is a single subcommand under construction. It exposes exactly
// the operations the typed builder methods need; everything else goes
// through the optional Caller capability.
type Subparser interface {
	AddArgument(arg Argument) error
	SetDefault(dest string, value any) error
}

// Caller is an optional capability for deferred calls recorded by name.
// A Subparser that does not implement Caller rejects such calls at
// materialize time with ErrCodeUnsupportedCall.
type Caller interface {
	Call(method string, args ...any) error
}

// Well-known option keys. Creation options and argument options share the
// same Option type; these are the keys the bundled providers understand.
const (
	KeyHelp        = "help"
	KeyAliases     = "aliases"
	KeyPrefixChars = "prefix_chars"
	KeyVersion     = "version"
	KeyEnvPrefix   = "env_prefix"
	KeyDefault     = "default"
	KeyType        = "type"
	KeyRequired    = "required"
	KeyShort       = "short"
)

// Option is a keyword option forwarded verbatim to the consuming factory.
// The registry never interprets option values; unknown keys are the
// factory's business.
type Option struct {
	Key   string
	Value any
}

// String renders the option as "key=value" for snapshots and logs.
func (o Option) String() string {
	return o.Key + "=" + fmt.Sprint(o.Value)
}

// Opt builds an arbitrary keyword option.
func Opt(key string, value any) Option {
	return Option{Key: key, Value: value}
}

// Help sets the help text of a subcommand at creation time.
func Help(text string) Option {
	return Option{Key: KeyHelp, Value: text}
}

// Aliases sets alternative names for a subcommand.
func Aliases(names ...string) Option {
	return Option{Key: KeyAliases, Value: names}
}

// PrefixChars sets the option prefix characters for a subcommand.
func PrefixChars(chars string) Option {
	return Option{Key: KeyPrefixChars, Value: chars}
}

// Version sets the version string reported by a subcommand.
func Version(version string) Option {
	return Option{Key: KeyVersion, Value: version}
}

// EnvPrefix sets the environment variable prefix for a subcommand's flags.
func EnvPrefix(prefix string) Option {
	return Option{Key: KeyEnvPrefix, Value: prefix}
}

// Default sets an argument's default value.
func Default(value any) Option {
	return Option{Key: KeyDefault, Value: value}
}

// Usage sets an argument's help text. It shares the "help" key with the
// creation-time Help option.
func Usage(text string) Option {
	return Option{Key: KeyHelp, Value: text}
}

// Type sets an argument's value type. Untyped arguments default to
// TypeString.
func Type(t ArgType) Option {
	return Option{Key: KeyType, Value: t}
}

// Required marks an argument as mandatory.
func Required() Option {
	return Option{Key: KeyRequired, Value: true}
}

// Short sets an argument's single-letter alternative name.
func Short(name string) Option {
	return Option{Key: KeyShort, Value: name}
}

// LookupOption returns the value of the first option with the given key.
func LookupOption(options []Option, key string) (any, bool) {
	for _, opt := range options {
		if opt.Key == key {
			return opt.Value, true
		}
	}
	return nil, false
}

// ArgType identifies the value type of a recorded argument. The vocabulary
// mirrors the typed registration methods of the underlying flag systems.
type ArgType int

const (
	TypeString ArgType = iota
	TypeBool
	TypeInt
	TypeFloat64
	TypeDuration
	TypeStringSlice
)

// String returns the human-readable name of the argument type.
func (t ArgType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat64:
		return "float64"
	case TypeDuration:
		return "duration"
	case TypeStringSlice:
		return "stringSlice"
	default:
		return "unknown"
	}
}

// Argument is one argument specification recorded by AddArgument and
// delivered unchanged to the subparser at materialize time.
type Argument struct {
	Name    string
	Options []Option
}

// Type resolves the argument's declared type, defaulting to TypeString.
func (a Argument) Type() ArgType {
	if v, ok := LookupOption(a.Options, KeyType); ok {
		if t, ok := v.(ArgType); ok {
			return t
		}
	}
	return TypeString
}
