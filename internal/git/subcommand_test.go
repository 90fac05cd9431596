package git

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubCmd_CommandArgs(t *testing.T) {
	args, err := SubCmd{
		Name:  "fetch",
		Flags: []Option{Flag{Name: "--prune"}, Flag{Name: "--quiet"}},
		Args:  []string{"origin"},
	}.CommandArgs()
	require.NoError(t, err)
	require.Equal(t, []string{"fetch", "--prune", "--quiet", "origin", "--end-of-options"}, args)

	_, err = SubCmd{Name: "push"}.CommandArgs()
	require.ErrorIs(t, err, ErrInvalidArg)
}

func TestSubSubCmd_CommandArgs(t *testing.T) {
	args, err := SubSubCmd{
		Name:   "bundle",
		Action: "list-heads",
		Args:   []string{"/tmp/changes.bundle"},
	}.CommandArgs()
	require.NoError(t, err)
	require.Equal(t, []string{"bundle", "list-heads", "/tmp/changes.bundle"}, args)

	_, err = SubSubCmd{Name: "bundle", Action: "--exec=evil"}.CommandArgs()
	require.ErrorIs(t, err, ErrInvalidArg)

	require.Equal(t, "bundle", SubSubCmd{Name: "bundle", Action: "unbundle"}.Subcommand())
}
