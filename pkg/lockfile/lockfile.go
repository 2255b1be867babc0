// Package lockfile reads and writes zion.lock, the reproducible record of
// what each dependency resolved to and when.
//
// The file is JSON:
//
//	{
//	  "packages": [
//	    {"name": "libxev", "url": "https://...", "hash": "4c7c...", "timestamp": 1718000000},
//	    {"name": "zap", "url": "https://...", "hash": "9a1b...", "timestamp": 1718000042, "version": "v0.4.0"}
//	  ]
//	}
//
// Entry order is preserved across load and save. There is at most one
// entry per name; re-adding a name replaces its entry in place.
package lockfile

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/afero"

	"github.com/matzehuels/zion/pkg/errors"
)

// FileName is the lock file name at the project root.
const FileName = "zion.lock"

// Package is one locked dependency.
type Package struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version,omitempty"`
}

// LockFile is the in-memory lock store.
type LockFile struct {
	Packages []Package `json:"packages"`

	recovered bool
	now       func() time.Time
}

// New returns an empty lock.
func New() *LockFile {
	return &LockFile{Packages: []Package{}, now: time.Now}
}

// Load reads the lock file at path.
//
// A missing file yields an empty lock and a nil error. Content that does
// not parse also yields an empty lock, together with a LOCK_CORRUPT error:
// the returned lock is usable, and callers decide whether to continue with
// it (discarding the old content on the next save) or stop.
func Load(fs afero.Fs, path string) (*LockFile, error) {
	data, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "read %s", path)
	}

	l, err := Parse(data)
	if err != nil {
		empty := New()
		empty.recovered = true
		return empty, err
	}
	return l, nil
}

// Parse decodes lock content. Duplicate names keep the last entry, at the
// position of the first.
func Parse(data []byte) (*LockFile, error) {
	var raw struct {
		Packages []Package `json:"packages"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(errors.ErrCodeLockCorrupt, err, "parse lock file")
	}

	l := New()
	for _, p := range raw.Packages {
		if p.Name == "" {
			return nil, errors.New(errors.ErrCodeLockCorrupt, "lock entry without name")
		}
		if err := errors.ValidatePackageName(p.Name); err != nil {
			return nil, errors.Wrap(errors.ErrCodeLockCorrupt, err, "lock entry %q", p.Name)
		}
		if err := errors.ValidateHash(p.Hash); err != nil {
			return nil, errors.Wrap(errors.ErrCodeLockCorrupt, err, "lock entry %q", p.Name)
		}
		l.put(p)
	}
	return l, nil
}

// Recovered reports whether this lock replaced a corrupt file.
func (l *LockFile) Recovered() bool { return l.recovered }

// Add upserts the entry for name and stamps it with the current time.
func (l *LockFile) Add(name, url, hash, version string) {
	l.put(Package{
		Name:      name,
		URL:       url,
		Hash:      hash,
		Version:   version,
		Timestamp: l.clock().Unix(),
	})
}

// Get returns the entry for name.
func (l *LockFile) Get(name string) (Package, bool) {
	if i := l.index(name); i >= 0 {
		return l.Packages[i], true
	}
	return Package{}, false
}

// Has reports whether name is locked.
func (l *LockFile) Has(name string) bool {
	return l.index(name) >= 0
}

// Remove drops the entry for name and reports whether one existed.
func (l *LockFile) Remove(name string) bool {
	i := l.index(name)
	if i < 0 {
		return false
	}
	l.Packages = slices.Delete(l.Packages, i, i+1)
	return true
}

// Len returns the number of locked packages.
func (l *LockFile) Len() int { return len(l.Packages) }

// Encode renders the lock as indented JSON with a trailing newline.
func (l *LockFile) Encode() ([]byte, error) {
	pkgs := l.Packages
	if pkgs == nil {
		pkgs = []Package{}
	}
	data, err := json.MarshalIndent(struct {
		Packages []Package `json:"packages"`
	}{pkgs}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes the lock to path through a temp file and rename.
func (l *LockFile) Save(fs afero.Fs, path string) error {
	data, err := l.Encode()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encode lock file")
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create %s", filepath.Dir(path))
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", tmpPath)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		return errors.Wrap(errors.ErrCodeInternal, err, "rename %s", tmpPath)
	}
	l.recovered = false
	return nil
}

func (l *LockFile) put(p Package) {
	if i := l.index(p.Name); i >= 0 {
		l.Packages[i] = p
		return
	}
	l.Packages = append(l.Packages, p)
}

func (l *LockFile) index(name string) int {
	return slices.IndexFunc(l.Packages, func(p Package) bool { return p.Name == name })
}

func (l *LockFile) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}
