package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlagStrings(t *testing.T) {
	require.Equal(t, "None", AllocFlags(0).String())
	require.Equal(t, "AllocReturnNull", AllocReturnNull.String())
	require.Equal(t, "PurgeDecommitEmptyPages", PurgeDecommitEmptyPages.String())
	require.Equal(t, "CreateExternallySynchronized|CreateSynchronized", (CreateExternallySynchronized | CreateSynchronized).String())
	require.Equal(t, "CreateSynchronized|Unknown", (CreateSynchronized | CreateFlags(8)).String())
}

func TestPageStateString(t *testing.T) {
	require.Equal(t, "pageStateSeed", pageStateSeed.String())
	require.Equal(t, "pageStateDecommitted", pageStateDecommitted.String())
}

func TestCreateOptionsName(t *testing.T) {
	require.Equal(t, "partition", CreateOptions{}.name())
	require.Equal(t, "buffers", CreateOptions{Name: "buffers"}.name())
}
