// Package flashflag binds a subdec registry to flash-flags flag sets.
//
// STANDARD NAMING: subdec_provider_flashflag.go
// COMMUNITY PATTERN: All subdec providers should follow this naming convention
//
// USAGE:
//   dispatcher := flashflag.NewDispatcher("myapp")
//   if err := reg.CreateParsers(dispatcher); err != nil {
//       log.Fatal(err)
//   }
//   if err := dispatcher.Run(os.Args[1:]); err != nil {
//       log.Fatal(err)
//   }
//
// Each materialized subcommand owns one flashflags.FlagSet. Run selects the
// subcommand from the first argument, parses the remainder against that flag
// set, and invokes the installed handler with a Context.
//
// SUPPORTED OPTIONS:
//   Creation: help (description), version, env_prefix, aliases
//   Argument: help (usage), type, default, short (ignored, no short flags)
//   Unrecognized options are ignored; positional arguments are rejected
//   because flash-flags parses flags only.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package flashflag

import (
	"fmt"
	"strings"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
	"github.com/agilira/subdec"
)

// Error codes for structured error handling
const (
	ErrCodeInvalidCommand   = "SUBDEC_INVALID_COMMAND_NAME"
	ErrCodeDuplicateCommand = "SUBDEC_DUPLICATE_COMMAND"
	ErrCodeUnknownCommand   = "SUBDEC_UNKNOWN_COMMAND"
	ErrCodeNoHandler        = "SUBDEC_NO_HANDLER"
	ErrCodePositionalArg    = "SUBDEC_POSITIONAL_UNSUPPORTED"
	ErrCodeInvalidDefault   = "SUBDEC_INVALID_DEFAULT"
)

// Handler is the function type dispatched for a subcommand. The registry
// installs it through its handler dest; any handler of a different type
// leaves the command without a dispatchable handler.
type Handler func(*Context) error

// Context carries the parsed state of one dispatch into a handler.
type Context struct {
	// Command is the subcommand name that matched.
	Command string

	// Flags is the command's flag set, parsed and ready for typed access.
	Flags *flashflags.FlagSet

	// Args is the raw argument slice the flag set parsed.
	Args []string

	defaults map[string]any
}

// GetString returns a parsed string flag value.
func (c *Context) GetString(name string) string { return c.Flags.GetString(name) }

// GetInt returns a parsed integer flag value.
func (c *Context) GetInt(name string) int { return c.Flags.GetInt(name) }

// GetBool returns a parsed boolean flag value.
func (c *Context) GetBool(name string) bool { return c.Flags.GetBool(name) }

// GetDuration returns a parsed duration flag value.
func (c *Context) GetDuration(name string) time.Duration { return c.Flags.GetDuration(name) }

// GetStringSlice returns a parsed string slice flag value.
func (c *Context) GetStringSlice(name string) []string { return c.Flags.GetStringSlice(name) }

// Default returns a namespace default recorded with SetDefault for a dest
// other than the handler dest.
func (c *Context) Default(dest string) (any, bool) {
	v, ok := c.defaults[dest]
	return v, ok
}

// Dispatcher implements subdec.Subparsers over flash-flags. It collects one
// Parser per subcommand and routes Run invocations to the installed
// handlers.
type Dispatcher struct {
	appName  string
	commands map[string]*Parser
	aliases  map[string]string
	order    []string
}

// NewDispatcher creates a dispatcher for the named application.
func NewDispatcher(appName string) *Dispatcher {
	return &Dispatcher{
		appName:  appName,
		commands: make(map[string]*Parser),
		aliases:  make(map[string]string),
	}
}

// AddParser creates the flag set for one subcommand and applies its
// creation options. Duplicate and empty names are rejected.
func (d *Dispatcher) AddParser(name string, options ...subdec.Option) (subdec.Subparser, error) {
	if name == "" {
		return nil, errors.New(ErrCodeInvalidCommand, "subcommand name must not be empty")
	}
	if _, exists := d.commands[name]; exists {
		return nil, errors.New(ErrCodeDuplicateCommand,
			fmt.Sprintf("subcommand %q is already registered", name))
	}

	flags := flashflags.New(fmt.Sprintf("%s %s", d.appName, name))

	if v, ok := subdec.LookupOption(options, subdec.KeyHelp); ok {
		if help, ok := v.(string); ok {
			flags.SetDescription(help)
		}
	}
	if v, ok := subdec.LookupOption(options, subdec.KeyVersion); ok {
		if version, ok := v.(string); ok {
			flags.SetVersion(version)
		}
	}
	if v, ok := subdec.LookupOption(options, subdec.KeyEnvPrefix); ok {
		if prefix, ok := v.(string); ok {
			flags.SetEnvPrefix(prefix)
		}
	}
	if v, ok := subdec.LookupOption(options, subdec.KeyAliases); ok {
		if aliases, ok := v.([]string); ok {
			for _, alias := range aliases {
				d.aliases[alias] = name
			}
		}
	}

	parser := &Parser{
		name:     name,
		flags:    flags,
		defaults: make(map[string]any),
	}
	d.commands[name] = parser
	d.order = append(d.order, name)
	return parser, nil
}

// Commands returns the subcommand names in registration order.
func (d *Dispatcher) Commands() []string {
	return append([]string(nil), d.order...)
}

// Lookup returns the parser registered under a command name or alias.
func (d *Dispatcher) Lookup(name string) (*Parser, bool) {
	if parser, ok := d.commands[name]; ok {
		return parser, true
	}
	if canonical, ok := d.aliases[name]; ok {
		parser, ok := d.commands[canonical]
		return parser, ok
	}
	return nil, false
}

// Run dispatches one invocation: args[0] selects the subcommand, the
// remainder is parsed with the command's flag set, then the installed
// handler runs. Parse errors from flash-flags propagate unchanged.
func (d *Dispatcher) Run(args []string) error {
	if len(args) == 0 {
		return errors.New(ErrCodeUnknownCommand, "no command given").
			WithContext("available", strings.Join(d.order, ", "))
	}

	name := args[0]
	parser, ok := d.Lookup(name)
	if !ok {
		return errors.New(ErrCodeUnknownCommand, fmt.Sprintf("unknown command: %s", name)).
			WithContext("available", strings.Join(d.order, ", "))
	}
	if parser.handler == nil {
		return errors.New(ErrCodeNoHandler,
			fmt.Sprintf("command %q has no handler of type func(*flashflag.Context) error", parser.name))
	}

	rest := args[1:]
	if err := parser.flags.Parse(rest); err != nil {
		return err
	}

	return parser.handler(&Context{
		Command:  parser.name,
		Flags:    parser.flags,
		Args:     rest,
		defaults: parser.defaults,
	})
}

// Usage prints the help text of one subcommand.
func (d *Dispatcher) Usage(name string) error {
	parser, ok := d.Lookup(name)
	if !ok {
		return errors.New(ErrCodeUnknownCommand, fmt.Sprintf("unknown command: %s", name))
	}
	parser.flags.PrintHelp()
	return nil
}

// Parser implements subdec.Subparser for one subcommand.
type Parser struct {
	name     string
	flags    *flashflags.FlagSet
	handler  Handler
	defaults map[string]any
}

// Name returns the subcommand name.
func (p *Parser) Name() string { return p.name }

// FlagSet exposes the underlying flash-flags set.
func (p *Parser) FlagSet() *flashflags.FlagSet { return p.flags }

// AddArgument registers one flag on the command's flag set. The argument
// name must carry dashes; flash-flags has no positional arguments. The
// declared type selects the typed registration, and a default of the wrong
// Go type is rejected with ErrCodeInvalidDefault.
func (p *Parser) AddArgument(arg subdec.Argument) error {
	if !strings.HasPrefix(arg.Name, "-") {
		return errors.New(ErrCodePositionalArg,
			fmt.Sprintf("positional argument %q is not supported by flash-flags", arg.Name))
	}

	name := strings.TrimLeft(arg.Name, "-")
	if name == "" {
		return errors.New(ErrCodeInvalidCommand,
			fmt.Sprintf("argument name %q has no characters after dashes", arg.Name))
	}

	usage := ""
	if v, ok := subdec.LookupOption(arg.Options, subdec.KeyHelp); ok {
		if s, ok := v.(string); ok {
			usage = s
		}
	}

	def, hasDefault := subdec.LookupOption(arg.Options, subdec.KeyDefault)

	switch arg.Type() {
	case subdec.TypeString:
		value := ""
		if hasDefault {
			s, ok := def.(string)
			if !ok {
				return invalidDefault(name, "string", def)
			}
			value = s
		}
		p.flags.String(name, value, usage)
	case subdec.TypeBool:
		value := false
		if hasDefault {
			b, ok := def.(bool)
			if !ok {
				return invalidDefault(name, "bool", def)
			}
			value = b
		}
		p.flags.Bool(name, value, usage)
	case subdec.TypeInt:
		value := 0
		if hasDefault {
			i, ok := def.(int)
			if !ok {
				return invalidDefault(name, "int", def)
			}
			value = i
		}
		p.flags.Int(name, value, usage)
	case subdec.TypeFloat64:
		value := 0.0
		if hasDefault {
			f, ok := def.(float64)
			if !ok {
				return invalidDefault(name, "float64", def)
			}
			value = f
		}
		p.flags.Float64(name, value, usage)
	case subdec.TypeDuration:
		var value time.Duration
		if hasDefault {
			d, ok := def.(time.Duration)
			if !ok {
				return invalidDefault(name, "time.Duration", def)
			}
			value = d
		}
		p.flags.Duration(name, value, usage)
	case subdec.TypeStringSlice:
		var value []string
		if hasDefault {
			s, ok := def.([]string)
			if !ok {
				return invalidDefault(name, "[]string", def)
			}
			value = s
		}
		p.flags.StringSlice(name, value, usage)
	default:
		return errors.New(ErrCodeInvalidDefault,
			fmt.Sprintf("argument %q has unsupported type %v", name, arg.Type()))
	}

	return nil
}

// SetDefault installs the handler when the value is a Handler (or a bare
// func(*Context) error); every other value is stored as a namespace default
// retrievable through Context.Default.
func (p *Parser) SetDefault(dest string, value any) error {
	switch h := value.(type) {
	case Handler:
		p.handler = h
	case func(*Context) error:
		p.handler = h
	default:
		p.defaults[dest] = value
	}
	return nil
}

func invalidDefault(name, want string, got any) error {
	return errors.New(ErrCodeInvalidDefault,
		fmt.Sprintf("argument %q wants a %s default, got %T", name, want, got))
}
