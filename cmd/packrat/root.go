package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gitlab.com/packrat/packrat/internal/config"
)

const defaultConfigPath = "/etc/packrat/config.toml"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "packrat",
		Short: "Turn git bundles into revisions on a Phabricator review service",
		Long: `packrat accepts git bundles over HTTP, applies them to a local mirror of
the target repository and submits the resulting diff for review.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to the TOML configuration file. Environment variables prefixed with PACKRAT_ take precedence.")

	load := func() (config.Cfg, error) {
		return loadConfig(configPath)
	}

	root.AddCommand(
		newServeCmd(load),
		newMirrorsCmd(load),
		newVersionCmd(),
	)

	return root
}

// loadConfig reads and validates the configuration. A missing file at the
// default location is not an error, the environment alone configures
// packrat then.
func loadConfig(path string) (config.Cfg, error) {
	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err) && path == defaultConfigPath:
		return loadValidated(strings.NewReader(""))
	case err != nil:
		return config.Cfg{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	return loadValidated(file)
}

func loadValidated(file io.Reader) (config.Cfg, error) {
	cfg, err := config.Load(file)
	if err != nil {
		return config.Cfg{}, err
	}

	if err := cfg.Validate(); err != nil {
		return config.Cfg{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
