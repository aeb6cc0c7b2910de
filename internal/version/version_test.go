package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetVersion(t *testing.T) {
	old := version
	t.Cleanup(func() { version = old })

	version = "v1.2.3"
	require.Equal(t, "v1.2.3", GetVersion())

	version = ""
	require.NotEmpty(t, GetVersion())
}

func TestVersionMissing(t *testing.T) {
	require.True(t, versionMissing(""))
	require.True(t, versionMissing("(devel)"))
	require.False(t, versionMissing("v0.1.0"))
}
