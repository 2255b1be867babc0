package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/matzehuels/zion/pkg/project"
)

// stdout receives all user-facing output. Tests swap it out.
var stdout io.Writer = os.Stdout

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")  // Teal - primary actions
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - warnings
	colorRed    = lipgloss.Color("167") // Soft red - errors
	colorBlue   = lipgloss.Color("75")  // Light blue - links
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

// =============================================================================
// Public Styles
// =============================================================================

var (
	// StyleTitle for main headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)

	// StyleHighlight for package names.
	StyleHighlight = lipgloss.NewStyle().Foreground(colorCyan)

	// StyleLink for URLs.
	StyleLink = lipgloss.NewStyle().Foreground(colorBlue).Underline(true)

	// StyleDim for secondary/muted text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleSuccess for success messages.
	StyleSuccess = lipgloss.NewStyle().Foreground(colorGreen)

	// StyleWarning for warning messages.
	StyleWarning = lipgloss.NewStyle().Foreground(colorYellow)
)

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)
	styleIconSpinner = lipgloss.NewStyle().Foreground(colorCyan)

	styleCached = lipgloss.NewStyle().Foreground(colorGreen)
	styleFresh  = lipgloss.NewStyle().Foreground(colorGray)

	styleCommand = lipgloss.NewStyle().Foreground(colorBlue)
	styleBlock   = lipgloss.NewStyle().Foreground(colorWhite).PaddingLeft(4)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
	iconArrow   = "→"
	iconCached  = "cached"
	iconFresh   = "downloaded"
)

// =============================================================================
// Status Output
// =============================================================================

// printSuccess prints a success message.
func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stdout, styleIconSuccess.Render(iconSuccess)+" "+msg)
}

// printError prints an error message.
func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stdout, styleIconError.Render(iconError)+" "+msg)
}

// printWarning prints a warning message.
func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stdout, styleIconWarning.Render(iconWarning)+" "+StyleWarning.Render(msg))
}

// printInfo prints an info/status message.
func printInfo(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stdout, styleIconInfo.Render(iconInfo)+" "+msg)
}

// printDetail prints a detail line (indented).
func printDetail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stdout, "  "+StyleDim.Render(msg))
}

// printFile prints a written-file line.
func printFile(path string) {
	fmt.Fprintln(stdout, "  "+StyleDim.Render(iconArrow)+" "+StyleValue.Render(path))
}

// printKeyValue prints a labeled value.
func printKeyValue(key, value string) {
	keyStyle := lipgloss.NewStyle().Foreground(colorGray).Width(12)
	fmt.Fprintln(stdout, keyStyle.Render(key)+" "+StyleValue.Render(value))
}

// printNextStep prints a suggested next command.
func printNextStep(description, cmd string) {
	fmt.Fprintln(stdout, StyleDim.Render(description+":")+" "+styleCommand.Render(cmd))
}

// printBlock prints a multi-line snippet indented, for pasting.
func printBlock(text string) {
	fmt.Fprintln(stdout, styleBlock.Render(text))
}

// =============================================================================
// Results
// =============================================================================

// printResult prints one per-package outcome with its warnings and any
// manual build.zig instructions.
func printResult(r *project.Result) {
	name := StyleHighlight.Render(r.Name)
	switch {
	case r.Err != nil:
		printError("%s %s", name, StyleDim.Render(errMessage(r.Err)))
	case r.Status == project.StatusUnverified:
		printWarning("%s %s", r.Name, r.Status)
	default:
		printSuccess("%s %s", name, r.Status)
	}

	if r.OK() && r.Hash != "" {
		printStats(r)
	}
	switch {
	case r.Build.Inserted:
		printDetail("build.zig: declared %s (%s)", r.Build.Entry, r.Build.Anchor)
	case r.Build.AlreadyPresent:
		printDetail("build.zig: already declared")
	}
	for _, w := range r.Warnings {
		printWarning("%s", w)
	}
	if r.ManualInstructions != "" {
		printDetail("add this to build.zig:")
		printBlock(r.ManualInstructions)
	}
}

// printStats prints hash, source and timing for a result on one line.
func printStats(r *project.Result) {
	parts := []string{StyleDim.Render(shortHash(r.Hash))}
	switch r.Status {
	case project.StatusAdded, project.StatusUpdated, project.StatusRestored, project.StatusVerified, project.StatusUnverified:
		if r.Cached {
			parts = append(parts, styleCached.Render(iconCached))
		} else {
			parts = append(parts, styleFresh.Render(iconFresh))
		}
	}
	if r.Files > 0 {
		parts = append(parts, StyleDim.Render(fmt.Sprintf("%d files", r.Files)))
	}
	if r.Elapsed > 0 {
		parts = append(parts, StyleDim.Render(r.Elapsed.Round(time.Millisecond).String()))
	}
	fmt.Fprintln(stdout, "  "+strings.Join(parts, StyleDim.Render(" · ")))
}

// printSummary prints the closing line of a batch flow.
func printSummary(verb string, rep *project.Report) {
	failed := len(rep.Failed())
	total := len(rep.Results)
	line := fmt.Sprintf("%s %d of %d packages", verb, total-failed, total)
	if failed > 0 {
		printWarning("%s, %d failed", line, failed)
		return
	}
	printSuccess("%s", line)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// printNewline prints an empty line.
func printNewline() {
	fmt.Fprintln(stdout)
}
