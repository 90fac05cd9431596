package git

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandDescription_args(t *testing.T) {
	for _, tc := range []struct {
		desc        string
		subcommand  string
		flags       []Option
		args        []string
		postSepArgs []string
		expected    []string
		expectedErr error
	}{
		{
			desc:       "end of options is appended",
			subcommand: "diff",
			flags:      []Option{Flag{Name: "--no-color"}},
			args:       []string{"base", "head"},
			expected:   []string{"--no-color", "base", "head", "--end-of-options"},
		},
		{
			desc:       "commands not knowing end of options",
			subcommand: "rev-parse",
			flags:      []Option{Flag{Name: "--verify"}},
			args:       []string{"HEAD^{commit}"},
			expected:   []string{"--verify", "HEAD^{commit}"},
		},
		{
			desc:        "post separator arguments",
			subcommand:  "diff",
			args:        []string{"main"},
			postSepArgs: []string{"-file"},
			expected:    []string{"main", "--end-of-options", "--", "-file"},
		},
		{
			desc:        "positional argument with leading dash",
			subcommand:  "merge-base",
			args:        []string{"--all"},
			expectedErr: ErrInvalidArg,
		},
		{
			desc:        "bundle path with leading dash",
			subcommand:  "bundle",
			args:        []string{"-evil.bundle"},
			expectedErr: ErrInvalidArg,
		},
		{
			desc:        "invalid flag",
			subcommand:  "fetch",
			flags:       []Option{Flag{Name: "prune"}},
			expectedErr: ErrInvalidArg,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			desc, ok := commandDescriptions[tc.subcommand]
			require.True(t, ok)

			args, err := desc.args(tc.flags, tc.args, tc.postSepArgs)
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, args)
		})
	}
}

func TestCommandDescriptions_readOnlyCommands(t *testing.T) {
	for _, name := range []string{"bundle", "config", "diff", "merge-base", "rev-parse", "version"} {
		require.False(t, commandDescriptions[name].mayUpdateRef(), name)
	}

	for _, name := range []string{"clone", "fetch"} {
		require.True(t, commandDescriptions[name].mayUpdateRef(), name)
	}
}
