package main

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gitlab.com/packrat/packrat/internal/config"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/git/mirror"
)

func newMirrorsCmd(load func() (config.Cfg, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirrors",
		Short: "Inspect and maintain the repository mirrors",
	}

	cmd.AddCommand(newMirrorsListCmd(load), newMirrorsUpdateCmd(load))

	return cmd
}

func newMirrorManager(cfg config.Cfg) *mirror.Manager {
	return mirror.NewManager(cfg.ReposPath, git.NewExecCommandFactory(cfg.Git))
}

func newMirrorsListCmd(load func() (config.Cfg, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all mirrors below repos_path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			mirrors, err := newMirrorManager(cfg).List(cmd.Context())
			if err != nil {
				return err
			}

			printMirrors(cmd.OutOrStdout(), mirrors)
			return nil
		},
	}
}

func printMirrors(w io.Writer, mirrors []mirror.Info) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Remote", "Head", "Last fetched", "Path"})
	table.SetBorder(false)

	for _, info := range mirrors {
		head := info.Head.String()
		if head == "" {
			head = "(empty)"
		}

		lastFetched := "never"
		if !info.LastFetched.IsZero() {
			lastFetched = info.LastFetched.UTC().Format(time.RFC3339)
		}

		table.Append([]string{info.RemoteURL, head, lastFetched, info.Path})
	}

	table.Render()
}

func newMirrorsUpdateCmd(load func() (config.Cfg, error)) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Fetch the latest history into all mirrors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			results, err := newMirrorManager(cfg).UpdateAll(cmd.Context(), concurrency)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Remote", "Result"})
			table.SetBorder(false)

			var failed int
			for _, result := range results {
				status := "ok"
				if result.Err != nil {
					status = result.Err.Error()
					failed++
				}
				table.Append([]string{result.RemoteURL, status})
			}
			table.Render()

			if failed > 0 {
				return fmt.Errorf("%d of %d mirrors failed to update", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Number of mirrors updated in parallel")

	return cmd
}
