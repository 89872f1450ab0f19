package transport

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckDiskSpaceZeroRequiredIsNoop(t *testing.T) {
	require.NoError(t, checkDiskSpace(filepath.Join(t.TempDir(), "f"), 0))
}

func TestCheckDiskSpaceSmallRequestSucceeds(t *testing.T) {
	require.NoError(t, checkDiskSpace(filepath.Join(t.TempDir(), "f"), 1024))
}
