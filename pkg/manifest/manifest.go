// Package manifest reads and writes zion.toml, the user-edited declaration
// of a project's identity and direct dependencies.
//
// A manifest looks like:
//
//	name = "myapp"
//	version = "0.1.0"
//
//	[dependencies.libxev]
//	url = "https://github.com/mitchellh/libxev/archive/refs/heads/main.tar.gz"
//	hash = "4c7c8a..."
//
// Dependencies are keyed by name; adding an existing name replaces it.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/matzehuels/zion/pkg/errors"
)

// FileName is the manifest file name at the project root.
const FileName = "zion.toml"

// DefaultVersion is the version written by Default.
const DefaultVersion = "0.1.0"

// Dependency is a declared dependency: where it comes from and what it
// hashed to when it was added or last updated.
type Dependency struct {
	URL  string `toml:"url"`
	Hash string `toml:"hash"`
}

// Manifest is the parsed zion.toml.
type Manifest struct {
	Name         string
	Version      string
	Dependencies map[string]Dependency
}

// file is the on-disk shape. Field order is the serialization order.
type file struct {
	Name         string                `toml:"name"`
	Version      string                `toml:"version"`
	Dependencies map[string]Dependency `toml:"dependencies,omitempty"`
}

// Default returns the minimal manifest for a new project.
func Default(name string) *Manifest {
	return &Manifest{
		Name:         name,
		Version:      DefaultVersion,
		Dependencies: make(map[string]Dependency),
	}
}

// Load parses the manifest at path. A missing file is a
// PRECONDITION_MISSING error; a file that does not parse is
// INVALID_MANIFEST.
func Load(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return nil, errors.New(errors.ErrCodePreconditionMissing,
			"%s not found (run 'zion init' first)", path)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "read %s", path)
	}
	return Parse(data)
}

// Parse decodes manifest content.
func Parse(data []byte) (*Manifest, error) {
	var f file
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "parse manifest")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.ErrCodeInvalidManifest, "unknown manifest keys: %s", strings.Join(keys, ", "))
	}

	m := &Manifest{
		Name:         f.Name,
		Version:      f.Version,
		Dependencies: f.Dependencies,
	}
	if m.Dependencies == nil {
		m.Dependencies = make(map[string]Dependency)
	}
	for name, dep := range m.Dependencies {
		if err := errors.ValidatePackageName(name); err != nil {
			return nil, err
		}
		if dep.URL == "" {
			return nil, errors.New(errors.ErrCodeInvalidManifest, "dependency %q has no url", name)
		}
		if err := errors.ValidateHash(dep.Hash); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "dependency %q", name)
		}
	}
	return m, nil
}

// Add inserts or replaces a dependency.
func (m *Manifest) Add(name, url, hash string) {
	if m.Dependencies == nil {
		m.Dependencies = make(map[string]Dependency)
	}
	m.Dependencies[name] = Dependency{URL: url, Hash: hash}
}

// Remove deletes a dependency, or returns PACKAGE_NOT_FOUND listing the
// names that do exist.
func (m *Manifest) Remove(name string) error {
	if _, ok := m.Dependencies[name]; !ok {
		return m.NotFound(name)
	}
	delete(m.Dependencies, name)
	return nil
}

// Get returns the dependency registered under name.
func (m *Manifest) Get(name string) (Dependency, bool) {
	dep, ok := m.Dependencies[name]
	return dep, ok
}

// Has reports whether name is declared.
func (m *Manifest) Has(name string) bool {
	_, ok := m.Dependencies[name]
	return ok
}

// Names returns the dependency names in sorted order. Every flow that walks
// the manifest uses this order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NotFound returns the PACKAGE_NOT_FOUND error for name.
func (m *Manifest) NotFound(name string) error {
	names := m.Names()
	if len(names) == 0 {
		return errors.New(errors.ErrCodePackageNotFound, "package %q not found (no dependencies declared)", name)
	}
	return errors.New(errors.ErrCodePackageNotFound, "package %q not found (available: %s)",
		name, strings.Join(names, ", "))
}

// Encode renders the manifest: identity fields first, then one table per
// dependency in name order.
func (m *Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(file{Name: m.Name, Version: m.Version}); err != nil {
		return nil, err
	}
	for _, name := range m.Names() {
		dep := m.Dependencies[name]
		fmt.Fprintf(&buf, "\n[dependencies.%s]\n", tomlKey(name))
		if err := enc.Encode(dep); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Save overwrites the manifest at path.
func (m *Manifest) Save(fs afero.Fs, path string) error {
	data, err := m.Encode()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encode manifest")
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", path)
	}
	return nil
}

// tomlKey quotes name unless it is a valid bare key.
func tomlKey(name string) string {
	for _, r := range name {
		bare := r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !bare {
			return fmt.Sprintf("%q", name)
		}
	}
	return name
}
