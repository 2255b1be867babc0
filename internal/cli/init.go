package cli

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/matzehuels/zion/pkg/manifest"
	"github.com/matzehuels/zion/pkg/project"
)

func (c *CLI) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [name]",
		Short: "Create zion.toml in the project directory",
		Long: `Create a minimal zion.toml. The project name defaults to the directory
name. An existing manifest is left untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}

			root, err := c.projectRoot()
			if err != nil {
				return err
			}
			p := project.Open(afero.NewOsFs(), root, project.Options{Logger: c.Logger})

			created, err := p.Init(name)
			if err != nil {
				return err
			}
			if !created {
				printInfo("%s already exists", manifest.FileName)
				printDetail("%s", p.ManifestPath())
				return nil
			}
			printSuccess("Created %s", manifest.FileName)
			printFile(p.ManifestPath())
			printNextStep("Add a package", "zion add owner/repo")
			return nil
		},
	}
}
