package testhelper

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	packratlog "gitlab.com/packrat/packrat/internal/log"
)

var testDirectory string

// RunOption is an option that can be passed to Run.
type RunOption func(*runConfig)

type runConfig struct {
	setup func() error
}

// WithSetup allows the caller of Run to pass a setup function that will be called after global
// test state has been configured.
func WithSetup(setup func() error) RunOption {
	return func(cfg *runConfig) {
		cfg.setup = setup
	}
}

// Run sets up required testing state and executes the given test suite. After
// the suite finished it verifies that neither goroutines nor child processes
// have leaked.
func Run(m *testing.M, opts ...RunOption) {
	if err := func() error {
		var cfg runConfig
		for _, opt := range opts {
			opt(&cfg)
		}

		defer mustHaveNoChildProcess()
		defer mustHaveNoGoroutines()

		cleanup, err := configure()
		if err != nil {
			return fmt.Errorf("test configuration: %w", err)
		}
		defer cleanup()

		if cfg.setup != nil {
			if err := cfg.setup(); err != nil {
				return fmt.Errorf("error calling setup function: %w", err)
			}
		}

		if code := m.Run(); code != 0 {
			return fmt.Errorf("tests failed with exit code %d", code)
		}

		return nil
	}(); err != nil {
		fmt.Printf("%s\n", err)
		os.Exit(1)
	}
}

func configure() (_ func(), returnedErr error) {
	if err := packratlog.Configure(packratlog.Loggers, "json", "panic"); err != nil {
		return nil, err
	}

	if testDirectory != "" {
		return nil, errors.New("test directory has already been configured")
	}

	var err error
	testDirectory, err = os.MkdirTemp("", "packrat-")
	if err != nil {
		return nil, err
	}
	// macOS symlinks /tmp/ to /private/tmp/ which can cause some check to fail
	if testDirectory, err = filepath.EvalSymlinks(testDirectory); err != nil {
		return nil, err
	}

	defer func() {
		if returnedErr != nil {
			if err := os.RemoveAll(testDirectory); err != nil {
				log.Error(err)
			}
		}
	}()

	if err := configureGit(); err != nil {
		return nil, fmt.Errorf("configuring git: %w", err)
	}

	return func() {
		if err := os.RemoveAll(testDirectory); err != nil {
			log.Errorf("error removing test directory: %v", err)
		}
	}, nil
}

// configureGit isolates git invoked by tests from the developer's environment.
func configureGit() error {
	// Unset environment variables which have an effect on Git itself.
	cmd := exec.Command("git", "rev-parse", "--local-env-vars")
	envvars, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("error computing local envvars: %w", err)
	}
	for _, envvar := range strings.Split(string(envvars), "\n") {
		if err := os.Unsetenv(envvar); err != nil {
			return fmt.Errorf("error unsetting envvar: %w", err)
		}
	}

	testHome := filepath.Join(testDirectory, "home")
	if err := os.MkdirAll(testHome, 0o755); err != nil {
		return err
	}

	// overwrite HOME env variable so user global .gitconfig doesn't influence tests
	return os.Setenv("HOME", testHome)
}
