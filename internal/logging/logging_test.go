package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLogScopes_String(t *testing.T) {
	require.Equal(t, "", LogScopeNone.String())
	require.Equal(t, "all", LogScopeAll.String())
	require.Equal(t, "emit", LogScopeEmit.String())
	require.Equal(t, "bind|relocation", (LogScopeBind | LogScopeRelocation).String())
}

func TestParseScopes(t *testing.T) {
	s, err := ParseScopes("emit, literal")
	require.NoError(t, err)
	require.Equal(t, LogScopeEmit|LogScopeLiteral, s)

	s, err = ParseScopes("bind,all")
	require.NoError(t, err)
	require.Equal(t, LogScopeAll, s)

	s, err = ParseScopes("")
	require.NoError(t, err)
	require.Equal(t, LogScopeNone, s)

	_, err = ParseScopes("gc")
	require.EqualError(t, err, `invalid log scope "gc"`)
}

func TestLogger_Tracef(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	logger := Logger{Log: l, Scopes: LogScopeBind}
	logger.Tracef(LogScopeEmit, "hidden")
	require.Zero(t, buf.Len())
	logger.Tracef(LogScopeBind, "bind %d", 4)
	require.Contains(t, buf.String(), `msg="bind 4"`)

	// The zero value is usable.
	Logger{}.Tracef(LogScopeAll, "nothing")
	Logger{}.Warnf("nothing")
}
