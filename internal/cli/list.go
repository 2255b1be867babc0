package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/zion/pkg/project"
)

func (c *CLI) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List declared packages",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openProject(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.project.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				printInfo("No dependencies declared")
				printNextStep("Add one with", "zion add owner/repo")
				return nil
			}
			fmt.Fprintln(stdout, entryTable(entries))
			return nil
		},
	}
}

// entryTable renders entries as a bordered table.
func entryTable(entries []project.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		version := e.Version
		if version == "" {
			version = "—"
		}
		rows = append(rows, []string{
			e.Name,
			version,
			shortHash(e.Hash),
			lockState(e),
			yesNo(e.Installed),
			formatRelativeTime(e.LockedAt),
		})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Name", "Version", "Hash", "Lock", "Installed", "Locked").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			base := lipgloss.NewStyle().Padding(0, 1)
			if row < 0 || row >= len(entries) {
				return base
			}
			e := entries[row]
			switch col {
			case 0:
				return base.Foreground(colorCyan)
			case 3:
				if !e.Verified() {
					return base.Foreground(colorYellow)
				}
				return base.Foreground(colorGreen)
			case 4:
				if !e.Installed {
					return base.Foreground(colorYellow)
				}
			case 2, 5:
				return base.Foreground(colorDim)
			}
			return base
		})

	return t.Render()
}

func lockState(e project.Entry) string {
	switch {
	case !e.Locked:
		return "unlocked"
	case !e.Verified():
		return "stale"
	default:
		return "ok"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (c *CLI) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show details of a declared package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openProject(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			e, err := s.project.Info(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(stdout, StyleTitle.Render(e.Name))
			printKeyValue("url", StyleLink.Render(e.URL))
			printKeyValue("hash", e.Hash)
			if e.Version != "" {
				printKeyValue("version", e.Version)
			}
			printKeyValue("lock", lockState(e))
			if e.Locked {
				if e.LockHash != e.Hash {
					printKeyValue("lock hash", e.LockHash)
				}
				printKeyValue("locked", e.LockedAt.Format("2006-01-02 15:04:05")+" "+StyleDim.Render("("+formatRelativeTime(e.LockedAt)+")"))
			}
			printKeyValue("directory", e.Dir)
			printKeyValue("installed", yesNo(e.Installed))
			if !e.Installed {
				printNextStep("Install with", "zion fetch")
			}
			return nil
		},
	}
}
