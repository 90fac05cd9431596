package git

import (
	"fmt"
)

// Cmd is an interface for safe git commands
type Cmd interface {
	CommandArgs() ([]string, error)
	Subcommand() string
}

// SubCmd represents a specific git command
type SubCmd struct {
	Name        string   // e.g. "log", or "cat-file", or "worktree"
	Flags       []Option // optional flags before the positional args
	Args        []string // positional args after all flags
	PostSepArgs []string // post separator (i.e. "--") positional args
}

// Subcommand returns the subcommand name
func (sc SubCmd) Subcommand() string { return sc.Name }

// CommandArgs checks all arguments in the sub command and validates them
func (sc SubCmd) CommandArgs() ([]string, error) {
	desc, ok := commandDescriptions[sc.Name]
	if !ok {
		return nil, fmt.Errorf("invalid sub command name %q: %w", sc.Name, ErrInvalidArg)
	}

	args, err := desc.args(sc.Flags, sc.Args, sc.PostSepArgs)
	if err != nil {
		return nil, err
	}

	return append([]string{sc.Name}, args...), nil
}

// SubSubCmd is a positional argument that appears in the list of options for
// a subcommand, e.g. "list-heads" in `git bundle list-heads`.
type SubSubCmd struct {
	Name        string
	Action      string
	Flags       []Option
	Args        []string
	PostSepArgs []string
}

// Subcommand returns the name of the given git command which this SubSubCmd
// executes. E.g. for `git bundle unbundle`, it would return "bundle".
func (sc SubSubCmd) Subcommand() string { return sc.Name }

// CommandArgs checks all arguments in the SubSubCommand and validates them,
// returning the array of all arguments required to execute it.
func (sc SubSubCmd) CommandArgs() ([]string, error) {
	desc, ok := commandDescriptions[sc.Name]
	if !ok {
		return nil, fmt.Errorf("invalid sub command name %q: %w", sc.Name, ErrInvalidArg)
	}

	if err := validatePositionalArg(sc.Action); err != nil {
		return nil, err
	}

	args, err := desc.args(sc.Flags, sc.Args, sc.PostSepArgs)
	if err != nil {
		return nil, err
	}

	return append([]string{sc.Name, sc.Action}, args...), nil
}
