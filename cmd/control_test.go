//go:build unix

package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestControlCommandsRegistered(t *testing.T) {
	t.Parallel()
	root := newRootCmd()
	for _, name := range []string{"start", "stop", "status"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, c.Name())
	}
}
