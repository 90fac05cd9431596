package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml"
	log "github.com/sirupsen/logrus"
)

const (
	// DataPrefix is the top-level directory below repos_path we use to store
	// our own (non-mirror) data. Mirror directories are hex digests, so the
	// '+' keeps the two from ever clashing.
	DataPrefix = "+packrat"

	// EnvPrefix is the prefix of all environment variables overriding the
	// configuration file.
	EnvPrefix = "packrat"
)

// Duration is a time.Duration which decodes from strings like "30s".
type Duration time.Duration

// Duration converts the type to time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	td, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Cfg is a container for all config derived from config.toml.
type Cfg struct {
	ListenAddr             string      `toml:"listen_addr" envconfig:"LISTEN_ADDR"`
	Port                   int         `toml:"port" envconfig:"PORT"`
	PrometheusListenAddr   string      `toml:"prometheus_listen_addr" split_words:"true"`
	ReposPath              string      `toml:"repos_path" envconfig:"REPOS_PATH"`
	StagingDir             string      `toml:"staging_dir" split_words:"true"`
	VersionFile            string      `toml:"version_file" split_words:"true"`
	PIDFile                string      `toml:"pid_file" envconfig:"PID_FILE"`
	GracefulRestartTimeout Duration    `toml:"graceful_restart_timeout" split_words:"true"`
	Debug                  bool        `toml:"debug" envconfig:"DEBUG"`
	Phabricator            Phabricator `toml:"phabricator"`
	Git                    Git         `toml:"git"`
	Logging                Logging     `toml:"logging"`
}

// Phabricator contains the settings required to talk to the Conduit API.
type Phabricator struct {
	URL             string   `toml:"url" split_words:"true"`
	Timeout         Duration `toml:"timeout" split_words:"true"`
	RateLimit       float64  `toml:"rate_limit" split_words:"true"`
	RevisionComment string   `toml:"revision_comment" split_words:"true"`
}

// Git contains the settings for the Git executable
type Git struct {
	BinPath string   `toml:"bin_path" split_words:"true"`
	Timeout Duration `toml:"timeout" split_words:"true"`
}

// Logging contains the logging configuration
type Logging struct {
	Format            string `toml:"format" split_words:"true"`
	Level             string `toml:"level" split_words:"true"`
	SentryDSN         string `toml:"sentry_dsn" envconfig:"SENTRY_DSN"`
	SentryEnvironment string `toml:"sentry_environment" split_words:"true"`
}

// Load initializes the configuration from file and the environment.
// Environment variables take precedence over the file.
func Load(file io.Reader) (Cfg, error) {
	var cfg Cfg

	if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
		return Cfg{}, fmt.Errorf("load toml: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Cfg{}, fmt.Errorf("envconfig: %w", err)
	}

	// The URL used to be configured through an unprefixed variable.
	if legacyURL, ok := os.LookupEnv("PHABRICATOR_URL"); ok && cfg.Phabricator.URL == "" {
		cfg.Phabricator.URL = legacyURL
	}

	cfg.setDefaults()

	return cfg, nil
}

func (cfg *Cfg) setDefaults() {
	if cfg.ListenAddr == "" {
		port := cfg.Port
		if port == 0 {
			port = 8888
		}
		cfg.ListenAddr = ":" + strconv.Itoa(port)
	}

	if cfg.ReposPath == "" {
		cfg.ReposPath = "/repos"
	}
	cfg.ReposPath = filepath.Clean(cfg.ReposPath)

	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(cfg.ReposPath, DataPrefix, "tmp")
	}

	if cfg.GracefulRestartTimeout == 0 {
		cfg.GracefulRestartTimeout = Duration(time.Minute)
	}

	if cfg.Phabricator.URL == "" {
		cfg.Phabricator.URL = "http://localhost"
	}

	if cfg.Phabricator.Timeout == 0 {
		cfg.Phabricator.Timeout = Duration(30 * time.Second)
	}

	if cfg.Git.Timeout == 0 {
		cfg.Git.Timeout = Duration(10 * time.Minute)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Debug {
			cfg.Logging.Level = "debug"
		}
	}
}

// Validate checks the current Config for sanity.
func (cfg *Cfg) Validate() error {
	for _, run := range []func() error{
		cfg.validateListeners,
		cfg.validateReposPath,
		cfg.validateStagingDir,
		cfg.validatePhabricator,
		cfg.validateGit,
	} {
		if err := run(); err != nil {
			return err
		}
	}

	return nil
}

func (cfg *Cfg) validateListeners() error {
	if cfg.ListenAddr == "" {
		return errors.New("invalid listener config: listen_addr must be set")
	}
	return nil
}

func (cfg *Cfg) validateReposPath() error {
	if !filepath.IsAbs(cfg.ReposPath) {
		return fmt.Errorf("repos_path must be absolute: %q", cfg.ReposPath)
	}

	if err := os.MkdirAll(cfg.ReposPath, 0o755); err != nil {
		return fmt.Errorf("repos_path: %w", err)
	}

	return validateIsDirectory(cfg.ReposPath, "repos_path")
}

func (cfg *Cfg) validateStagingDir() error {
	if err := os.MkdirAll(cfg.StagingDir, 0o700); err != nil {
		return fmt.Errorf("staging_dir: %w", err)
	}

	return validateIsDirectory(cfg.StagingDir, "staging_dir")
}

func (cfg *Cfg) validatePhabricator() error {
	u, err := url.Parse(cfg.Phabricator.URL)
	if err != nil {
		return fmt.Errorf("phabricator.url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("phabricator.url: unsupported scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("phabricator.url: missing host in %q", cfg.Phabricator.URL)
	}

	if cfg.Phabricator.RateLimit < 0 {
		return fmt.Errorf("phabricator.rate_limit must not be negative")
	}

	return nil
}

func (cfg *Cfg) validateGit() error {
	if cfg.Git.BinPath == "" {
		path, err := exec.LookPath("git")
		if err != nil {
			return fmt.Errorf("git.bin_path: %w", err)
		}
		cfg.Git.BinPath = path
	}

	log.WithField("resolvedPath", cfg.Git.BinPath).Debug("git path resolved")

	if _, err := os.Stat(cfg.Git.BinPath); err != nil {
		return fmt.Errorf("git.bin_path: %w", err)
	}

	return nil
}

func validateIsDirectory(path, name string) error {
	s, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !s.IsDir() {
		return fmt.Errorf("not a directory: %q", path)
	}

	log.WithField("dir", path).
		Debugf("%s set", name)

	return nil
}
