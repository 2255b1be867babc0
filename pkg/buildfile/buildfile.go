// Package buildfile patches build.zig so the build can see installed
// packages.
//
// The file is edited as text, line by line. Every block zion writes starts
// with a tag comment naming the package:
//
//	    // Added by zion add libxev
//	    _ = b.addModule("libxev", .{
//	        .root_source_file = b.path("deps/libxev/src/root.zig"),
//	    });
//
// The tag is what RemoveBlock looks for; declarations without it are left
// alone and reported for manual cleanup. Blocks are inserted without blank
// separators, so removing one restores the surrounding lines exactly.
package buildfile

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/matzehuels/zion/pkg/errors"
)

// FileName is the build description zion patches.
const FileName = "build.zig"

// Marker is the line after which new blocks are inserted when present.
const Marker = "// zion: dependencies"

// Anchors reported in AddResult.Anchor.
const (
	AnchorMarker     = "marker"
	AnchorModule     = "addModule"
	AnchorExecutable = "addExecutable"
)

const indent = "    "

// entryCandidates are tried in order under the package directory. The
// {name} placeholder is the dependency name.
var entryCandidates = []string{
	"src/root.zig",
	"src/main.zig",
	"src/{name}.zig",
	"{name}.zig",
}

// Integrator inserts and removes per-package build declarations.
type Integrator interface {
	AddBlock(name, dir string) (AddResult, error)
	RemoveBlock(name string) (RemoveResult, error)
	ManualInstructions(name, dir string) string
}

// AddResult describes what AddBlock did.
type AddResult struct {
	Inserted       bool
	AlreadyPresent bool
	Anchor         string // which anchor the block was placed against
	Entry          string // root source file, relative to the project
}

// RemoveResult describes what RemoveBlock did.
type RemoveResult struct {
	Removed bool
	// ManualCleanup is set when a declaration for the package exists but
	// was not written by zion.
	ManualCleanup bool
}

// ZigIntegrator edits <root>/build.zig.
type ZigIntegrator struct {
	fs   afero.Fs
	root string
}

// NewZigIntegrator returns an integrator for the project at root.
func NewZigIntegrator(fs afero.Fs, root string) *ZigIntegrator {
	return &ZigIntegrator{fs: fs, root: root}
}

// Path returns the build file path.
func (z *ZigIntegrator) Path() string {
	return filepath.Join(z.root, FileName)
}

// Tag returns the comment line that opens the block for name.
func Tag(name string) string {
	return "// Added by zion add " + name
}

func declaration(name string) string {
	return fmt.Sprintf("addModule(%q", name)
}

// Block returns the lines of the generated declaration.
func Block(name, entry string) []string {
	return []string{
		indent + Tag(name),
		indent + fmt.Sprintf("_ = b.addModule(%q, .{", name),
		indent + indent + fmt.Sprintf(".root_source_file = b.path(%q),", entry),
		indent + "});",
	}
}

// Entry returns the root source file for the package installed at dir,
// relative to the project root. dir is relative to the project root too.
func (z *ZigIntegrator) Entry(name, dir string) string {
	for _, c := range entryCandidates {
		rel := strings.ReplaceAll(c, "{name}", name)
		if ok, _ := afero.Exists(z.fs, filepath.Join(z.root, dir, rel)); ok {
			return path.Join(filepath.ToSlash(dir), rel)
		}
	}
	return path.Join(filepath.ToSlash(dir), entryCandidates[0])
}

// ManualInstructions returns the block a user should paste into build.zig
// when it could not be inserted automatically.
func (z *ZigIntegrator) ManualInstructions(name, dir string) string {
	return strings.Join(Block(name, z.Entry(name, dir)), "\n")
}

// AddBlock inserts the declaration for name. It is idempotent: a second
// call finds the first block and changes nothing.
func (z *ZigIntegrator) AddBlock(name, dir string) (AddResult, error) {
	p := z.Path()
	data, err := afero.ReadFile(z.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return AddResult{}, errors.New(errors.ErrCodePreconditionMissing, "%s not found in %s", FileName, z.root)
		}
		return AddResult{}, errors.Wrap(errors.ErrCodeInternal, err, "read %s", p)
	}

	lines := strings.Split(string(data), "\n")
	if findTag(lines, name) >= 0 || findDeclaration(lines, name) >= 0 {
		return AddResult{AlreadyPresent: true}, nil
	}

	entry := z.Entry(name, dir)
	block := Block(name, entry)
	res := AddResult{Inserted: true, Entry: entry}

	var at int
	switch {
	case indexOf(lines, isMarker) >= 0:
		at = indexOf(lines, isMarker) + 1
		res.Anchor = AnchorMarker
	case indexOf(lines, isModuleDecl) >= 0:
		at = indexOf(lines, isModuleDecl)
		res.Anchor = AnchorModule
	default:
		start := indexOf(lines, isExecutable)
		end := -1
		if start >= 0 {
			end = closingLine(lines, start)
		}
		if end < 0 {
			return AddResult{}, errors.New(errors.ErrCodeInjectionFailed,
				"no insertion point in %s: add %q, a b.addModule declaration or b.addExecutable", FileName, Marker)
		}
		at = end + 1
		res.Anchor = AnchorExecutable
	}

	out := make([]string, 0, len(lines)+len(block))
	out = append(out, lines[:at]...)
	out = append(out, block...)
	out = append(out, lines[at:]...)

	if err := z.write(p, out); err != nil {
		return AddResult{}, err
	}
	return res, nil
}

// RemoveBlock deletes the tagged declaration for name. A missing build
// file, or no declaration at all, is not an error.
func (z *ZigIntegrator) RemoveBlock(name string) (RemoveResult, error) {
	p := z.Path()
	data, err := afero.ReadFile(z.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return RemoveResult{}, nil
		}
		return RemoveResult{}, errors.Wrap(errors.ErrCodeInternal, err, "read %s", p)
	}

	lines := strings.Split(string(data), "\n")
	start := findTag(lines, name)
	if start < 0 {
		if findDeclaration(lines, name) >= 0 {
			return RemoveResult{ManualCleanup: true}, nil
		}
		return RemoveResult{}, nil
	}

	// The tag must sit directly above the declaration zion wrote, and the
	// declaration must close cleanly; anything else was edited by hand.
	end := -1
	if start+1 < len(lines) && strings.Contains(code(lines[start+1]), declaration(name)) {
		end = closingLine(lines, start+1)
	}
	if end < 0 {
		return RemoveResult{ManualCleanup: true}, nil
	}

	out := make([]string, 0, len(lines))
	out = append(out, lines[:start]...)
	out = append(out, lines[end+1:]...)

	if err := z.write(p, out); err != nil {
		return RemoveResult{}, err
	}
	return RemoveResult{Removed: true}, nil
}

func (z *ZigIntegrator) write(p string, lines []string) error {
	tmp := p + ".tmp"
	if err := afero.WriteFile(z.fs, tmp, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", tmp)
	}
	if err := z.fs.Rename(tmp, p); err != nil {
		_ = z.fs.Remove(tmp)
		return errors.Wrap(errors.ErrCodeInternal, err, "replace %s", p)
	}
	return nil
}

func findTag(lines []string, name string) int {
	tag := Tag(name)
	return indexOf(lines, func(l string) bool { return strings.TrimSpace(l) == tag })
}

func findDeclaration(lines []string, name string) int {
	decl := declaration(name)
	return indexOf(lines, func(l string) bool {
		return !isComment(l) && strings.Contains(l, decl)
	})
}

func isComment(l string) bool { return strings.HasPrefix(strings.TrimSpace(l), "//") }

func isMarker(l string) bool { return strings.TrimSpace(l) == Marker }

func isModuleDecl(l string) bool { return !isComment(l) && strings.Contains(l, "b.addModule(") }

func isExecutable(l string) bool { return !isComment(l) && strings.Contains(l, "b.addExecutable(") }

func indexOf(lines []string, match func(string) bool) int {
	for i, l := range lines {
		if match(l) {
			return i
		}
	}
	return -1
}

// closingLine returns the line, at or after start, on which the bracket
// depth opened at start first returns to zero. That line must end the
// statement with ");" once any trailing comment is stripped; otherwise, or
// when the construct never closes, it returns -1.
func closingLine(lines []string, start int) int {
	depth := 0
	for i := start; i < len(lines); i++ {
		depth += bracketDelta(lines[i])
		if depth > 0 {
			continue
		}
		if depth == 0 && strings.HasSuffix(strings.TrimSpace(code(lines[i])), ");") {
			return i
		}
		return -1
	}
	return -1
}

// code returns line without its trailing "//" comment. Slashes inside
// string literals are kept.
func code(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case inString && c == '\\':
			i++
		case c == '"':
			inString = !inString
		case !inString && c == '/' && i+1 < len(line) && line[i+1] == '/':
			return line[:i]
		}
	}
	return line
}

func bracketDelta(line string) int {
	delta := 0
	inString := false
	line = code(line)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inString && c == '\\':
			i++
		case c == '"':
			inString = !inString
		case inString:
		case c == '(' || c == '{':
			delta++
		case c == ')' || c == '}':
			delta--
		}
	}
	return delta
}
