package cli

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/zion/pkg/buildfile"
	"github.com/matzehuels/zion/pkg/project"
)

func (c *CLI) addCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <owner/repo[@version]>...",
		Short: "Download packages and add them to the project",
		Long: `Download each package archive, extract it under deps/, record it in
zion.toml and zion.lock, and declare it in build.zig.

Several packages are downloaded concurrently.`,
		Example: `  zion add mitchellh/libxev
  zion add Hejsil/zig-clap@v0.9.1 karlseguin/http.zig`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 1 {
				return c.addOne(ctx, args[0])
			}
			rep, err := c.runBatch(ctx, "Adding packages", func(ctx context.Context, p *project.Project) (*project.Report, error) {
				return p.AddAll(ctx, args)
			})
			if err == nil && rep != nil && rep.Changed {
				defer printNextStep("Build with", "zig build")
			}
			return finishReport("Added", rep, err)
		},
	}
}

func (c *CLI) addOne(ctx context.Context, ref string) error {
	s, err := c.openProject(ctx, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	var spin *Spinner
	if c.showProgress() {
		restore := c.quiet()
		spin = newSpinnerWithContext(ctx, "Fetching "+ref)
		spin.Start()
		defer restore()
	}
	prog := newProgress(loggerFromContext(ctx))

	res, err := s.project.Add(ctx, ref)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return err
	}

	printResult(res)
	if res.Build.Inserted {
		printFile(buildfile.FileName)
	}
	prog.done("added "+res.Name, "files", res.Files, "cached", res.Cached)
	return nil
}

func (c *CLI) removeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>...",
		Aliases: []string{"rm"},
		Short:   "Remove packages from the project",
		Long: `Remove each package from zion.toml and zion.lock, delete the block zion
added to build.zig, and delete its directory under deps/.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.openProject(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, name := range args {
				res, err := s.project.Remove(ctx, name)
				if err != nil {
					return err
				}
				printResult(res)
			}
			return nil
		},
	}
}

// quiet raises the logger to warn level while an animated view owns the
// terminal, and returns a function that restores the previous level.
func (c *CLI) quiet() func() {
	level := c.Logger.GetLevel()
	if level >= log.WarnLevel {
		return func() {}
	}
	c.Logger.SetLevel(log.WarnLevel)
	return func() { c.Logger.SetLevel(level) }
}
