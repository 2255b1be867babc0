package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matzehuels/zion/pkg/project"
)

func (c *CLI) updateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Re-download every package and record content changes",
		Long: `Re-resolve and re-download every declared package, bypassing the archive
cache. Packages whose content changed are re-extracted and their new hash
is written to zion.toml and zion.lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := c.runBatch(cmd.Context(), "Updating packages", func(ctx context.Context, p *project.Project) (*project.Report, error) {
				return p.Update(ctx)
			})
			if rep != nil {
				defer printDetail("%d updated, %d up to date",
					rep.Count(project.StatusUpdated), rep.Count(project.StatusUpToDate))
			}
			return finishReport("Checked", rep, err)
		},
	}
}

func (c *CLI) fetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Install the packages the manifest and lock describe",
		Long: `Bring deps/ in line with zion.toml and zion.lock:

  locked and installed       nothing to do
  locked, missing            restore from the locked URL
  lock hash differs          re-download and verify against zion.toml
  not locked                 download, verify and lock

A package whose content does not match its manifest hash is installed
but not locked, and reported as unverified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := c.runBatch(cmd.Context(), "Fetching packages", func(ctx context.Context, p *project.Project) (*project.Report, error) {
				return p.Fetch(ctx)
			})
			return finishReport("Fetched", rep, err)
		},
	}
}

func (c *CLI) lockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Record manifest entries in the lock without downloading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.openProject(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			rep, err := s.project.Lock(ctx)
			return finishReport("Locked", rep, err)
		},
	}
}
