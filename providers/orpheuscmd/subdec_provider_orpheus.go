// Package orpheuscmd binds a subdec registry to an Orpheus application.
//
// STANDARD NAMING: subdec_provider_orpheus.go
// COMMUNITY PATTERN: All subdec providers should follow this naming convention
//
// USAGE:
//   commands := orpheuscmd.NewCommands("myapp")
//   if err := reg.CreateParsers(commands); err != nil {
//       log.Fatal(err)
//   }
//   if err := commands.Run(os.Args[1:]); err != nil {
//       log.Fatal(err)
//   }
//
// Each materialized subcommand becomes one orpheus.Command added to the
// wrapped orpheus.App. Handlers must be plain func(*orpheus.Context) error
// values; the registry installs them through its handler dest.
//
// SUPPORTED OPTIONS:
//   Creation: help (command description); other keys are ignored
//   Argument: help (usage), type, default, short
//   Dashed argument names become Orpheus flags. Names without dashes are
//   accepted and skipped: Orpheus passes positionals straight through to
//   ctx.GetArg, no declaration needed.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package orpheuscmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/subdec"
)

// Error codes for structured error handling
const (
	ErrCodeInvalidCommand     = "SUBDEC_INVALID_COMMAND_NAME"
	ErrCodeDuplicateCommand   = "SUBDEC_DUPLICATE_COMMAND"
	ErrCodeInvalidDefault     = "SUBDEC_INVALID_DEFAULT"
	ErrCodeUnsupportedDefault = "SUBDEC_UNSUPPORTED_DEFAULT"
)

// Commands implements subdec.Subparsers over an orpheus.App.
type Commands struct {
	app  *orpheus.App
	seen map[string]bool
}

// NewCommands creates a fresh Orpheus application to materialize into.
func NewCommands(appName string) *Commands {
	return Wrap(orpheus.New(appName))
}

// Wrap materializes into an existing Orpheus application, preserving
// whatever commands and metadata it already carries.
func Wrap(app *orpheus.App) *Commands {
	return &Commands{
		app:  app,
		seen: make(map[string]bool),
	}
}

// App returns the wrapped Orpheus application.
func (c *Commands) App() *orpheus.App {
	return c.app
}

// Run executes the wrapped application against args.
func (c *Commands) Run(args []string) error {
	return c.app.Run(args)
}

// AddParser creates one Orpheus command and registers it on the app. The
// help creation option becomes the command description.
func (c *Commands) AddParser(name string, options ...subdec.Option) (subdec.Subparser, error) {
	if name == "" {
		return nil, errors.New(ErrCodeInvalidCommand, "subcommand name must not be empty")
	}
	if c.seen[name] {
		return nil, errors.New(ErrCodeDuplicateCommand,
			fmt.Sprintf("subcommand %q is already registered", name))
	}

	description := ""
	if v, ok := subdec.LookupOption(options, subdec.KeyHelp); ok {
		if help, ok := v.(string); ok {
			description = help
		}
	}

	cmd := orpheus.NewCommand(name, description)
	c.app.AddCommand(cmd)
	c.seen[name] = true

	return &Command{name: name, cmd: cmd}, nil
}

// Command implements subdec.Subparser around one orpheus.Command.
type Command struct {
	name string
	cmd  *orpheus.Command
}

// Name returns the subcommand name.
func (c *Command) Name() string { return c.name }

// Orpheus exposes the underlying Orpheus command.
func (c *Command) Orpheus() *orpheus.Command { return c.cmd }

// AddArgument registers one flag on the Orpheus command. Bool and int
// arguments use the typed registrations; everything else rides the string
// flag with the default rendered to text (durations as "5s", slices
// comma-joined), matching how Orpheus applications declare such flags.
func (c *Command) AddArgument(arg subdec.Argument) error {
	if !strings.HasPrefix(arg.Name, "-") {
		// Positional: available through ctx.GetArg without declaration.
		return nil
	}

	name := strings.TrimLeft(arg.Name, "-")
	if name == "" {
		return errors.New(ErrCodeInvalidCommand,
			fmt.Sprintf("argument name %q has no characters after dashes", arg.Name))
	}

	short := ""
	if v, ok := subdec.LookupOption(arg.Options, subdec.KeyShort); ok {
		if s, ok := v.(string); ok {
			short = s
		}
	}
	usage := ""
	if v, ok := subdec.LookupOption(arg.Options, subdec.KeyHelp); ok {
		if s, ok := v.(string); ok {
			usage = s
		}
	}

	def, hasDefault := subdec.LookupOption(arg.Options, subdec.KeyDefault)

	switch arg.Type() {
	case subdec.TypeBool:
		value := false
		if hasDefault {
			b, ok := def.(bool)
			if !ok {
				return invalidDefault(name, "bool", def)
			}
			value = b
		}
		c.cmd.AddBoolFlag(name, short, value, usage)
	case subdec.TypeInt:
		value := 0
		if hasDefault {
			i, ok := def.(int)
			if !ok {
				return invalidDefault(name, "int", def)
			}
			value = i
		}
		c.cmd.AddIntFlag(name, short, value, usage)
	case subdec.TypeString:
		value := ""
		if hasDefault {
			s, ok := def.(string)
			if !ok {
				return invalidDefault(name, "string", def)
			}
			value = s
		}
		c.cmd.AddFlag(name, short, value, usage)
	case subdec.TypeDuration:
		value := ""
		if hasDefault {
			d, ok := def.(time.Duration)
			if !ok {
				return invalidDefault(name, "time.Duration", def)
			}
			value = d.String()
		}
		c.cmd.AddFlag(name, short, value, usage)
	case subdec.TypeFloat64:
		value := ""
		if hasDefault {
			f, ok := def.(float64)
			if !ok {
				return invalidDefault(name, "float64", def)
			}
			value = strconv.FormatFloat(f, 'g', -1, 64)
		}
		c.cmd.AddFlag(name, short, value, usage)
	case subdec.TypeStringSlice:
		value := ""
		if hasDefault {
			s, ok := def.([]string)
			if !ok {
				return invalidDefault(name, "[]string", def)
			}
			value = strings.Join(s, ",")
		}
		c.cmd.AddFlag(name, short, value, usage)
	default:
		return errors.New(ErrCodeInvalidDefault,
			fmt.Sprintf("argument %q has unsupported type %v", name, arg.Type()))
	}

	return nil
}

// SetDefault installs the handler when the value is a
// func(*orpheus.Context) error. Orpheus commands have no namespace
// defaults, so every other dest or value type is rejected.
func (c *Command) SetDefault(dest string, value any) error {
	if handler, ok := value.(func(*orpheus.Context) error); ok {
		c.cmd.SetHandler(handler)
		return nil
	}
	return errors.New(ErrCodeUnsupportedDefault,
		fmt.Sprintf("orpheus commands cannot store defaults: dest %q with %T", dest, value))
}

func invalidDefault(name, want string, got any) error {
	return errors.New(ErrCodeInvalidDefault,
		fmt.Sprintf("argument %q wants a %s default, got %T", name, want, got))
}
