package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"gitlab.com/packrat/packrat/internal/command"
	"gitlab.com/packrat/packrat/internal/config"
)

// ErrReadOnly is returned when a command which may update references is
// spawned against a read-only repository.
var ErrReadOnly = errors.New("repository is read-only")

// CommandFactory is designed to create and run git commands in a protected and fully managed manner.
type CommandFactory interface {
	// New creates a new command for the repo repository.
	New(ctx context.Context, repo Repository, sc Cmd, opts ...CmdOpt) (*command.Command, error)
	// NewWithoutRepo creates a command without a target repository.
	NewWithoutRepo(ctx context.Context, sc Cmd, opts ...CmdOpt) (*command.Command, error)
}

// ExecCommandFactory knows how to properly construct different types of commands.
type ExecCommandFactory struct {
	cfg config.Git
}

// NewExecCommandFactory returns a new instance of initialized ExecCommandFactory.
func NewExecCommandFactory(cfg config.Git) *ExecCommandFactory {
	if cfg.BinPath == "" {
		cfg.BinPath = "git"
	}
	return &ExecCommandFactory{cfg: cfg}
}

// New creates a new command for the repo repository.
func (cf *ExecCommandFactory) New(ctx context.Context, repo Repository, sc Cmd, opts ...CmdOpt) (*command.Command, error) {
	if repo.Path == "" {
		return nil, fmt.Errorf("empty repository path: %w", ErrInvalidArg)
	}
	return cf.newCommand(ctx, &repo, sc, opts...)
}

// NewWithoutRepo creates a command without a target repository.
func (cf *ExecCommandFactory) NewWithoutRepo(ctx context.Context, sc Cmd, opts ...CmdOpt) (*command.Command, error) {
	return cf.newCommand(ctx, nil, sc, opts...)
}

func (cf *ExecCommandFactory) gitPath() string {
	return cf.cfg.BinPath
}

// newCommand creates a new command.Command for the given git command. If a repo
// is given, the command runs against it via --git-dir and its object
// directory environment.
func (cf *ExecCommandFactory) newCommand(ctx context.Context, repo *Repository, sc Cmd, opts ...CmdOpt) (*command.Command, error) {
	cc := &cmdCfg{}

	if err := handleOpts(cc, opts); err != nil {
		return nil, err
	}

	desc, ok := commandDescriptions[sc.Subcommand()]
	if !ok {
		return nil, fmt.Errorf("invalid sub command name %q: %w", sc.Subcommand(), ErrInvalidArg)
	}

	if repo != nil && repo.ReadOnly && desc.mayUpdateRef() {
		return nil, fmt.Errorf("%s: %w", sc.Subcommand(), ErrReadOnly)
	}

	args, err := combineArgs(desc, sc)
	if err != nil {
		return nil, err
	}

	env := cc.env
	if repo != nil {
		env = append(repo.Env(), env...)
		args = append([]string{"--git-dir", repo.Path}, args...)
	}
	env = append(env, command.GitEnv...)

	execCommand := exec.Command(cf.gitPath(), args...)

	return command.New(ctx, execCommand,
		command.WithStdout(cc.stdout),
		command.WithStderr(cc.stderr),
		command.WithEnvironment(env),
	)
}

func handleOpts(cc *cmdCfg, opts []CmdOpt) error {
	for _, opt := range opts {
		if err := opt(cc); err != nil {
			return err
		}
	}
	return nil
}

func combineArgs(desc commandDescription, sc Cmd) ([]string, error) {
	var args []string

	for _, g := range desc.opts {
		gArgs, err := g.GlobalArgs()
		if err != nil {
			return nil, err
		}
		args = append(args, gArgs...)
	}

	scArgs, err := sc.CommandArgs()
	if err != nil {
		return nil, err
	}

	return append(args, scArgs...), nil
}
