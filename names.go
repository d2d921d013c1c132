// names.go: Handler identity and subcommand name derivation
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package subdec

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/arran4/strings2"
)

// handlerIdentity resolves a handler to its code pointer and bare function
// name. Nil and non-function handlers yield a usage error that the registry
// keeps on the entry and reports at materialize time, never at decoration
// time.
func handlerIdentity(handler any) (uintptr, string, error) {
	if handler == nil {
		return 0, "", errors.New(ErrCodeInvalidHandler, "handler must not be nil")
	}

	v := reflect.ValueOf(handler)
	if v.Kind() != reflect.Func {
		return 0, "", errors.New(ErrCodeInvalidHandler,
			fmt.Sprintf("handler must be a function, got %T", handler))
	}
	if v.IsNil() {
		return 0, "", errors.New(ErrCodeInvalidHandler, "handler must not be a nil function")
	}

	pc := v.Pointer()
	name := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = bareFuncName(fn.Name())
	}
	return pc, name, nil
}

// bareFuncName strips the package path, receiver and method-value suffix
// from a runtime function name: "pkg/sub.(*T).Run-fm" becomes "Run".
func bareFuncName(full string) string {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		full = full[i+1:]
	}
	return strings.TrimSuffix(full, "-fm")
}

// deriveName turns a bare function name into a subcommand name: strip
// NamePrefix, optionally kebab-case, then replace every NameToken with
// Separator. The default configuration turns "foo_bar" into "foo-bar".
func (c *Config) deriveName(funcName string) string {
	name := strings.TrimPrefix(funcName, c.NamePrefix)
	if c.KebabCase {
		name = toKebab(name)
	}
	if c.NameToken != "" {
		name = strings.ReplaceAll(name, c.NameToken, c.Separator)
	}
	return name
}

// toKebab converts CamelCase to kebab-case, handling acronym runs and digit
// boundaries ("JSONData" becomes "json-data").
func toKebab(s string) string {
	res, err := strings2.ToKebab(s, strings2.WithNumberSplitting(true))
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.ToLower(res)
}
