package command

import "io"

type config struct {
	stdout io.Writer
	stderr io.Writer
	env    []string
}

// Option configures a Command created by New.
type Option func(*config)

// WithStdout sends the standard output of the process to stdout. Without it
// the output is discarded.
func WithStdout(stdout io.Writer) Option {
	return func(cfg *config) {
		cfg.stdout = stdout
	}
}

// WithStderr sends the standard error of the process to stderr. Without it
// a bounded prefix is kept, logged and returned by Command.Stderr.
func WithStderr(stderr io.Writer) Option {
	return func(cfg *config) {
		cfg.stderr = stderr
	}
}

// WithEnvironment adds variables to the environment of the process, on top
// of the allowed part of packrat's own environment.
func WithEnvironment(env []string) Option {
	return func(cfg *config) {
		cfg.env = append(cfg.env, env...)
	}
}
