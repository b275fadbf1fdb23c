package vmtypes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageTypeString(t *testing.T) {
	require.Equal(t, "anonymous", Anonymous.String())
	require.Equal(t, "file_mapped", FileBackedMapped.String())
	require.Equal(t, "file_executable", FileBackedExecutable.String())
	require.Equal(t, "unknown", PageType(99).String())
}
