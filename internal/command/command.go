// Package command spawns child processes bound to a context: a cancelled
// context kills the process group and reaps it. Every process is traced,
// counted and logged when it completes.
package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/labkit/tracing"
	"gitlab.com/packrat/packrat/internal/log"
)

// GitEnv is added to the environment of every git process. Neither system
// nor user configuration may change what git prints, diffs in particular
// only depend on repository contents.
var GitEnv = []string{
	"LANG=en_US.UTF-8",
	"GIT_CONFIG_NOSYSTEM=1",
	"GIT_CONFIG_GLOBAL=/dev/null",
	"GIT_TERMINAL_PROMPT=0",
}

// allowedEnvVars are passed on from packrat's environment to children.
var allowedEnvVars = []string{
	"HOME",
	"PATH",
	"LD_LIBRARY_PATH",
	"TZ",

	"GIT_TRACE",
	"GIT_TRACE_PACK_ACCESS",
	"GIT_TRACE_PACKET",
	"GIT_TRACE_PERFORMANCE",
	"GIT_TRACE_SETUP",

	// https://git-scm.com/docs/git-config#git-config-httpproxy
	"all_proxy",
	"http_proxy",
	"HTTP_PROXY",
	"https_proxy",
	"HTTPS_PROXY",
	"no_proxy",
	"NO_PROXY",

	// credentials for private upstreams cloned over SSH
	"SSH_AUTH_SOCK",
	"GIT_SSH_COMMAND",
}

var injectTracingEnv = tracing.NewEnvInjector()

const (
	maxStderrBytes      = 10000
	maxStderrLineLength = 4096
)

// Command is a running process. It is terminated and reaped when the
// context it was created with is cancelled.
type Command struct {
	cmd       *exec.Cmd
	ctx       context.Context
	span      opentracing.Span
	startTime time.Time

	stderr *stderrBuffer

	waitOnce sync.Once
	waitErr  error
}

var running sync.WaitGroup

// WaitAllDone blocks until every process spawned by New has been reaped.
func WaitAllDone() {
	running.Wait()
}

// New starts cmd. The context must be cancellable, it bounds the lifetime
// of the process.
func New(ctx context.Context, cmd *exec.Cmd, opts ...Option) (*Command, error) {
	if ctx.Done() == nil {
		panic("command spawned with context without Done() channel")
	}

	if err := checkNullArgv(cmd); err != nil {
		return nil, err
	}

	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, cmd.Path,
		opentracing.Tag{Key: "args", Value: strings.Join(cmd.Args, " ")},
	)

	c := &Command{
		cmd:       cmd,
		ctx:       ctx,
		span:      span,
		startTime: time.Now(),
	}

	if err := c.setup(cfg); err != nil {
		span.Finish()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		span.Finish()
		return nil, fmt.Errorf("command: start %v: %w", cmd.Args, err)
	}
	inFlightCommandGauge.Inc()

	log.FromContext(ctx).WithFields(logrus.Fields{
		"pid":  cmd.Process.Pid,
		"path": cmd.Path,
		"args": cmd.Args,
	}).Debug("spawn")

	running.Add(1)
	go func() {
		defer running.Done()

		<-ctx.Done()
		// the process runs in its own group, take down its children too
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		_ = c.Wait()
	}()

	return c, nil
}

func (c *Command) setup(cfg config) error {
	cmd := c.cmd

	cmd.Env = append(cfg.env, AllowedEnvironment(os.Environ())...)
	cmd.Env = injectTracingEnv(c.ctx, cmd.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// unset stdout goes to the null device
	cmd.Stdout = cfg.stdout

	if cfg.stderr != nil {
		cmd.Stderr = cfg.stderr
	} else {
		buffer, err := newStderrBuffer(maxStderrBytes, maxStderrLineLength, []byte("\n"))
		if err != nil {
			return fmt.Errorf("command: stderr buffer: %w", err)
		}
		c.stderr = buffer
		cmd.Stderr = buffer
	}

	return nil
}

// Wait waits for the process to exit. It returns the same error however
// often it is called; use ExitStatus to extract the exit code.
func (c *Command) Wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
		inFlightCommandGauge.Dec()

		c.logProcessComplete()
	})

	return c.waitErr
}

// Stderr returns the bounded standard error of the process. It is empty
// when a stderr writer was configured.
func (c *Command) Stderr() string {
	if c.stderr == nil {
		return ""
	}
	return c.stderr.String()
}

// Args returns the argument vector of the process.
func (c *Command) Args() []string {
	return c.cmd.Args
}

// Env returns the environment of the process.
func (c *Command) Env() []string {
	return c.cmd.Env
}

// Pid returns the process ID.
func (c *Command) Pid() int {
	return c.cmd.Process.Pid
}

// AllowedEnvironment returns the entries of envs children may inherit.
func AllowedEnvironment(envs []string) []string {
	var filtered []string

	for _, env := range envs {
		for _, allowed := range allowedEnvVars {
			if strings.HasPrefix(env, allowed+"=") {
				filtered = append(filtered, env)
				break
			}
		}
	}

	return filtered
}

// ExitStatus returns the exit code carried by an error returned by Wait.
func ExitStatus(err error) (int, bool) {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, false
	}

	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return 0, false
	}

	return status.ExitStatus(), true
}

func (c *Command) logProcessComplete() {
	state := c.cmd.ProcessState

	exitCode := 0
	if code, ok := ExitStatus(c.waitErr); ok {
		exitCode = code
	}

	realTime := time.Since(c.startTime)
	commandDurationHistogram.WithLabelValues(subcommand(c.cmd.Args)).Observe(realTime.Seconds())

	stats := logrus.Fields{
		"pid":                    state.Pid(),
		"path":                   c.cmd.Path,
		"args":                   c.cmd.Args,
		"command.exitCode":       exitCode,
		"command.system_time_ms": state.SystemTime().Milliseconds(),
		"command.user_time_ms":   state.UserTime().Milliseconds(),
		"command.real_time_ms":   realTime.Milliseconds(),
	}
	if rusage, ok := state.SysUsage().(*syscall.Rusage); ok {
		stats["command.maxrss"] = rusage.Maxrss
		stats["command.inblock"] = rusage.Inblock
		stats["command.oublock"] = rusage.Oublock
	}

	entry := log.FromContext(c.ctx).WithFields(stats)
	entry.Debug("spawn complete")
	if stderr := c.Stderr(); stderr != "" {
		entry.Error(stderr)
	}

	for key, value := range stats {
		if key == "args" || key == "path" {
			continue
		}
		c.span.SetTag(key, value)
	}
	c.span.Finish()
}

// subcommand extracts the git subcommand from an argument vector for use as
// a metric label, skipping global options.
func subcommand(args []string) string {
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-c" || arg == "-C" || arg == "--git-dir":
			i++
		case strings.HasPrefix(arg, "-"):
		default:
			return arg
		}
	}
	return "unknown"
}

// checkNullArgv rejects arguments exec would refuse with a cryptic error,
// as they are passed on as null-terminated strings.
func checkNullArgv(cmd *exec.Cmd) error {
	for _, arg := range cmd.Args {
		if strings.IndexByte(arg, 0) > -1 {
			return fmt.Errorf("detected null byte in command argument %q", arg)
		}
	}

	return nil
}
