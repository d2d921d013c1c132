// snapshot.go: Read-only registry views for diagnostics and tooling
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package subdec

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"go.yaml.in/yaml/v3"
)

// SnapshotFormat selects the encoding used by Snapshot.WriteTo.
type SnapshotFormat int

const (
	SnapshotJSON SnapshotFormat = iota
	SnapshotYAML
)

func (f SnapshotFormat) String() string {
	switch f {
	case SnapshotJSON:
		return "json"
	case SnapshotYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// CallInfo describes one recorded deferred call. Argument values are
// rendered as strings so the view stays marshalable whatever the caller
// recorded.
type CallInfo struct {
	Method string    `json:"method" yaml:"method"`
	Args   []string  `json:"args,omitempty" yaml:"args,omitempty"`
	At     time.Time `json:"at" yaml:"at"`
}

// CommandInfo is the read-only view of one pending command.
type CommandInfo struct {
	Name          string     `json:"name" yaml:"name"`
	FuncName      string     `json:"func_name,omitempty" yaml:"func_name,omitempty"`
	Renamed       bool       `json:"renamed,omitempty" yaml:"renamed,omitempty"`
	CreateOptions []string   `json:"create_options,omitempty" yaml:"create_options,omitempty"`
	Calls         []CallInfo `json:"calls,omitempty" yaml:"calls,omitempty"`
	RegisteredAt  time.Time  `json:"registered_at" yaml:"registered_at"`
	Error         string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// SnapshotConfig is the serializable subset of the registry configuration.
type SnapshotConfig struct {
	NamePrefix  string `json:"name_prefix,omitempty" yaml:"name_prefix,omitempty"`
	NameToken   string `json:"name_token" yaml:"name_token"`
	Separator   string `json:"separator" yaml:"separator"`
	KebabCase   bool   `json:"kebab_case,omitempty" yaml:"kebab_case,omitempty"`
	HandlerDest string `json:"handler_dest" yaml:"handler_dest"`
}

// Snapshot captures the full registry state at one point in time.
type Snapshot struct {
	TakenAt  time.Time      `json:"taken_at" yaml:"taken_at"`
	Config   SnapshotConfig `json:"config" yaml:"config"`
	Commands []CommandInfo  `json:"commands" yaml:"commands"`
}

// Commands returns the recorded commands in first-decoration order. The
// result is a copy; mutating it does not affect the registry.
func (r *Registry) Commands() []CommandInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]CommandInfo, 0, len(r.order))
	for _, key := range r.order {
		infos = append(infos, r.commandInfo(r.entries[key]))
	}
	return infos
}

func (r *Registry) commandInfo(entry *pendingCommand) CommandInfo {
	info := CommandInfo{
		Name:         r.commandName(entry),
		FuncName:     entry.funcName,
		Renamed:      entry.name != "",
		RegisteredAt: entry.registeredAt,
	}
	if entry.err != nil {
		info.Error = entry.err.Error()
	}

	for _, opt := range entry.createOptions {
		info.CreateOptions = append(info.CreateOptions, opt.String())
	}

	for i := range entry.calls {
		call := &entry.calls[i]
		ci := CallInfo{Method: call.method, At: call.at}
		for _, arg := range call.args {
			ci.Args = append(ci.Args, fmt.Sprint(arg))
		}
		info.Calls = append(info.Calls, ci)
	}
	return info
}

// Snapshot captures the registry state for export or inspection.
func (r *Registry) Snapshot() *Snapshot {
	return &Snapshot{
		TakenAt: timecache.CachedTime(),
		Config: SnapshotConfig{
			NamePrefix:  r.config.NamePrefix,
			NameToken:   r.config.NameToken,
			Separator:   r.config.Separator,
			KebabCase:   r.config.KebabCase,
			HandlerDest: r.config.HandlerDest,
		},
		Commands: r.Commands(),
	}
}

// WriteTo writes the snapshot to w in the given format.
func (s *Snapshot) WriteTo(w io.Writer, format SnapshotFormat) error {
	switch format {
	case SnapshotJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case SnapshotYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	default:
		return errors.New(ErrCodeInvalidSnapshot,
			fmt.Sprintf("unknown snapshot format: %d", int(format)))
	}
}
