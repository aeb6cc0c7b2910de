// Package logging holds the trace scopes used by the compiler components. This is in an
// independent package to avoid dependency cycles.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogScopes is a bit set of the compiler events that are traced at debug level.
type LogScopes uint64

const (
	LogScopeNone LogScopes = 0
	// LogScopeEmit traces every instruction word written to the code buffer.
	LogScopeEmit LogScopes = 1 << iota
	// LogScopeBind traces label binding and patching.
	LogScopeBind
	// LogScopeLiteral traces literal pool flushes.
	LogScopeLiteral
	// LogScopeRegister traces register allocation and spills.
	LogScopeRegister
	// LogScopeRelocation traces relocation entries and oop splices.
	LogScopeRelocation
	LogScopeAll = LogScopes(0xffffffffffffffff)
)

var scopeNames = []struct {
	scope LogScopes
	name  string
}{
	{LogScopeEmit, "emit"},
	{LogScopeBind, "bind"},
	{LogScopeLiteral, "literal"},
	{LogScopeRegister, "register"},
	{LogScopeRelocation, "relocation"},
}

// IsEnabled returns true if the scope (or group of scopes) is enabled.
func (s LogScopes) IsEnabled(scope LogScopes) bool {
	return s&scope != 0
}

// String implements fmt.Stringer by returning each enabled log scope.
func (s LogScopes) String() string {
	switch s {
	case LogScopeNone:
		return ""
	case LogScopeAll:
		return "all"
	}
	var b strings.Builder
	for _, sn := range scopeNames {
		if !s.IsEnabled(sn.scope) {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(sn.name)
	}
	return b.String()
}

// ParseScopes parses a comma separated list of scope names, or "all".
func ParseScopes(v string) (LogScopes, error) {
	var s LogScopes
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "all" {
			return LogScopeAll, nil
		}
		found := false
		for _, sn := range scopeNames {
			if sn.name == part {
				s |= sn.scope
				found = true
				break
			}
		}
		if !found {
			return LogScopeNone, fmt.Errorf("invalid log scope %q", part)
		}
	}
	return s, nil
}

// Discard returns a logger that writes nothing.
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Logger pairs a logrus logger with the scopes traced at debug level. The zero value logs nothing.
type Logger struct {
	Log    logrus.FieldLogger
	Scopes LogScopes
}

// Tracef logs at debug level if scope is enabled.
func (l Logger) Tracef(scope LogScopes, format string, args ...interface{}) {
	if l.Log == nil || !l.Scopes.IsEnabled(scope) {
		return
	}
	l.Log.Debugf(format, args...)
}

// Warnf logs at warning level.
func (l Logger) Warnf(format string, args ...interface{}) {
	if l.Log == nil {
		return
	}
	l.Log.Warnf(format, args...)
}
