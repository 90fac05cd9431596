package git

import (
	"fmt"
	"strings"
)

const (
	// scNoRefUpdates denotes a command which will never update refs
	scNoRefUpdates = 1 << iota
	// scNoEndOfOptions denotes a command which doesn't know --end-of-options
	scNoEndOfOptions
)

type commandDescription struct {
	flags                  uint
	opts                   []ConfigPair
	validatePositionalArgs func([]string) error
}

// commandDescriptions is the list of git commands packrat may spawn. Anything
// else is rejected by SubCmd.CommandArgs.
var commandDescriptions = map[string]commandDescription{
	"bundle": {
		flags: scNoRefUpdates | scNoEndOfOptions,
		validatePositionalArgs: func(args []string) error {
			// bundle paths are always absolute
			for _, arg := range args {
				if err := validatePositionalArg(arg); err != nil {
					return fmt.Errorf("bundle: %w", err)
				}
			}
			return nil
		},
	},
	"clone": {
		flags: scNoEndOfOptions,
		opts: []ConfigPair{
			// A mirror only ever grows through explicit fetches.
			{Key: "gc.auto", Value: "0"},
		},
	},
	"config": {
		flags: scNoRefUpdates | scNoEndOfOptions,
	},
	"diff": {
		flags: scNoRefUpdates,
		opts: []ConfigPair{
			{Key: "diff.noprefix", Value: "false"},
			{Key: "diff.mnemonicPrefix", Value: "false"},
			{Key: "core.quotePath", Value: "true"},
		},
	},
	"fetch": {
		flags: 0,
		opts: []ConfigPair{
			{Key: "gc.auto", Value: "0"},
			{Key: "fetch.writeCommitGraph", Value: "false"},
		},
	},
	"merge-base": {
		flags: scNoRefUpdates,
	},
	"rev-parse": {
		flags: scNoRefUpdates | scNoEndOfOptions,
	},
	"version": {
		flags: scNoRefUpdates | scNoEndOfOptions,
	},
}

// mayUpdateRef indicates if a command is known to update references. When
// unknown, true is returned to err on the side of caution.
func (c commandDescription) mayUpdateRef() bool {
	return c.flags&scNoRefUpdates == 0
}

// supportsEndOfOptions indicates whether a command can handle the
// `--end-of-options` option.
func (c commandDescription) supportsEndOfOptions() bool {
	return c.flags&scNoEndOfOptions == 0
}

// args validates the given flags and arguments and, if valid, returns the complete command line.
func (c commandDescription) args(flags []Option, args []string, postSepArgs []string) ([]string, error) {
	var commandArgs []string

	for _, o := range flags {
		args, err := o.OptionArgs()
		if err != nil {
			return nil, err
		}
		commandArgs = append(commandArgs, args...)
	}

	if c.validatePositionalArgs != nil {
		if err := c.validatePositionalArgs(args); err != nil {
			return nil, err
		}
	} else {
		for _, a := range args {
			if err := validatePositionalArg(a); err != nil {
				return nil, err
			}
		}
	}
	commandArgs = append(commandArgs, args...)

	if c.supportsEndOfOptions() {
		commandArgs = append(commandArgs, "--end-of-options")
	}

	if len(postSepArgs) > 0 {
		commandArgs = append(commandArgs, "--")
	}

	// post separator args do not need any validation
	commandArgs = append(commandArgs, postSepArgs...)

	return commandArgs, nil
}

func validatePositionalArg(arg string) error {
	if strings.HasPrefix(arg, "-") {
		return fmt.Errorf("positional arg %q cannot start with dash '-': %w", arg, ErrInvalidArg)
	}
	return nil
}
