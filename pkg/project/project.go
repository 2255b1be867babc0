// Package project runs zion's dependency flows against one Zig project:
// add, remove, update, fetch and lock.
//
// A project is a directory holding:
//
//	zion.toml    declared dependencies (manifest)
//	zion.lock    what each dependency resolved to (lock)
//	build.zig    the build description zion patches
//	deps/<name>  extracted package sources
//
// Every mutating flow checks that the manifest exists, then takes the
// project's advisory lock and reads the manifest, so a missing manifest
// fails the flow before any file, the lock file included, is created.
package project

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/matzehuels/zion/pkg/archive"
	"github.com/matzehuels/zion/pkg/buildfile"
	"github.com/matzehuels/zion/pkg/errors"
	"github.com/matzehuels/zion/pkg/fetch"
	"github.com/matzehuels/zion/pkg/lockfile"
	"github.com/matzehuels/zion/pkg/manifest"
	"github.com/matzehuels/zion/pkg/scheduler"
)

// PackagesDir is the package tree under the project root.
const PackagesDir = "deps"

// Fetcher downloads and hashes one archive. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Archive, error)
}

// Batcher runs fetch jobs concurrently. *scheduler.Scheduler implements it.
type Batcher interface {
	RunBatch(ctx context.Context, jobs []scheduler.Job) []scheduler.Outcome
}

// Options configures a Project. Only Fetcher is required.
type Options struct {
	Fetcher    Fetcher
	Scheduler  Batcher              // defaults to a scheduler over Fetcher
	Integrator buildfile.Integrator // defaults to build.zig at the root
	Locker     Locker               // defaults to flock on OS filesystems
	Logger     *log.Logger
}

// Project is a Zig project on fs rooted at root.
type Project struct {
	fs     afero.Fs
	root   string
	fetch  Fetcher
	sched  Batcher
	build  buildfile.Integrator
	locker Locker
	logger *log.Logger
}

// Open returns a Project. It does not touch the filesystem.
func Open(fs afero.Fs, root string, opts Options) *Project {
	p := &Project{
		fs:     fs,
		root:   root,
		fetch:  opts.Fetcher,
		sched:  opts.Scheduler,
		build:  opts.Integrator,
		locker: opts.Locker,
		logger: opts.Logger,
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	if p.sched == nil {
		p.sched = scheduler.New(p.fetch, scheduler.Options{Logger: p.logger})
	}
	if p.build == nil {
		p.build = buildfile.NewZigIntegrator(fs, root)
	}
	if p.locker == nil {
		if _, ok := fs.(*afero.OsFs); ok {
			p.locker = NewFileLocker(filepath.Join(root, LockFileName))
		} else {
			p.locker = NopLocker{}
		}
	}
	return p
}

// Root returns the project directory.
func (p *Project) Root() string { return p.root }

// ManifestPath returns the path of zion.toml.
func (p *Project) ManifestPath() string { return filepath.Join(p.root, manifest.FileName) }

// LockPath returns the path of zion.lock.
func (p *Project) LockPath() string { return filepath.Join(p.root, lockfile.FileName) }

// BuildPath returns the path of build.zig.
func (p *Project) BuildPath() string { return filepath.Join(p.root, buildfile.FileName) }

// PackageDir returns where name is extracted.
func (p *Project) PackageDir(name string) string {
	return filepath.Join(p.root, p.packageRel(name))
}

func (p *Project) packageRel(name string) string {
	return filepath.Join(PackagesDir, name)
}

// Init writes a default manifest named name. It reports false, and changes
// nothing, when a manifest already exists.
func (p *Project) Init(name string) (bool, error) {
	if name == "" {
		name = filepath.Base(p.root)
	}
	if err := errors.ValidateProjectName(name); err != nil {
		return false, err
	}
	if err := p.requireRoot(); err != nil {
		return false, err
	}
	unlock, err := p.locker.Lock()
	if err != nil {
		return false, err
	}
	defer unlock()

	if ok, _ := afero.Exists(p.fs, p.ManifestPath()); ok {
		return false, nil
	}
	if err := manifest.Default(name).Save(p.fs, p.ManifestPath()); err != nil {
		return false, err
	}
	p.logger.Info("created manifest", "path", p.ManifestPath(), "name", name)
	return true, nil
}

// List returns every declared dependency in name order.
func (p *Project) List() ([]Entry, error) {
	m, err := manifest.Load(p.fs, p.ManifestPath())
	if err != nil {
		return nil, err
	}
	l, err := p.loadLock()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(m.Dependencies))
	for _, name := range m.Names() {
		entries = append(entries, p.entry(m, l, name))
	}
	return entries, nil
}

// Info returns the entry for name, or PACKAGE_NOT_FOUND.
func (p *Project) Info(name string) (Entry, error) {
	m, err := manifest.Load(p.fs, p.ManifestPath())
	if err != nil {
		return Entry{}, err
	}
	if !m.Has(name) {
		return Entry{}, m.NotFound(name)
	}
	l, err := p.loadLock()
	if err != nil {
		return Entry{}, err
	}
	return p.entry(m, l, name), nil
}

func (p *Project) entry(m *manifest.Manifest, l *lockfile.LockFile, name string) Entry {
	dep, _ := m.Get(name)
	e := Entry{
		Name: name,
		URL:  dep.URL,
		Hash: dep.Hash,
		Dir:  p.PackageDir(name),
	}
	if pkg, ok := l.Get(name); ok {
		e.Locked = true
		e.LockHash = pkg.Hash
		e.Version = pkg.Version
		e.LockedAt = time.Unix(pkg.Timestamp, 0)
	}
	e.Installed, _ = afero.DirExists(p.fs, e.Dir)
	return e
}

// loadLock reads the lock. A corrupt lock is logged and replaced by an
// empty one, which the next save writes over the bad file.
func (p *Project) loadLock() (*lockfile.LockFile, error) {
	l, err := lockfile.Load(p.fs, p.LockPath())
	if err != nil {
		if errors.Is(err, errors.ErrCodeLockCorrupt) && l != nil {
			p.logger.Warn("lock file is corrupt, starting from an empty lock", "path", p.LockPath(), "err", err)
			return l, nil
		}
		return nil, err
	}
	return l, nil
}

// state is the manifest and lock of a mutating flow, loaded under the
// project lock.
type state struct {
	m *manifest.Manifest
	l *lockfile.LockFile
}

// requireRoot fails with PRECONDITION_MISSING when the project directory
// does not exist.
func (p *Project) requireRoot() error {
	if ok, _ := afero.DirExists(p.fs, p.root); !ok {
		return errors.New(errors.ErrCodePreconditionMissing, "project directory %s does not exist", p.root)
	}
	return nil
}

// begin takes the project lock and loads the manifest and lock. The
// returned function releases the lock.
func (p *Project) begin() (*state, func(), error) {
	if err := p.requireRoot(); err != nil {
		return nil, nil, err
	}
	if ok, _ := afero.Exists(p.fs, p.ManifestPath()); !ok {
		// Load reports the missing manifest.
		if _, err := manifest.Load(p.fs, p.ManifestPath()); err != nil {
			return nil, nil, err
		}
	}
	unlock, err := p.locker.Lock()
	if err != nil {
		return nil, nil, err
	}
	m, err := manifest.Load(p.fs, p.ManifestPath())
	if err != nil {
		unlock()
		return nil, nil, err
	}
	l, err := p.loadLock()
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return &state{m: m, l: l}, unlock, nil
}

func (p *Project) saveManifest(m *manifest.Manifest) error {
	if err := m.Save(p.fs, p.ManifestPath()); err != nil {
		return err
	}
	p.logger.Info("saved manifest", "path", p.ManifestPath(), "dependencies", len(m.Dependencies))
	return nil
}

func (p *Project) saveLock(l *lockfile.LockFile) error {
	if err := l.Save(p.fs, p.LockPath()); err != nil {
		return err
	}
	p.logger.Info("saved lock", "path", p.LockPath(), "packages", l.Len())
	return nil
}

// install replaces deps/<name> with the content of a and checks that the
// result looks like a Zig package. Layout problems are warnings.
func (p *Project) install(name string, a *fetch.Archive) (archive.Stats, []string, error) {
	dir := p.PackageDir(name)
	if err := p.fs.RemoveAll(dir); err != nil {
		return archive.Stats{}, nil, errors.Wrap(errors.ErrCodeExtractionFailed, err, "clear %s", dir)
	}
	stats, err := archive.ExtractTarGzFile(p.fs, a.CachePath, dir, 1)
	if err != nil {
		return stats, nil, err
	}
	p.logger.Info("extracted package", "name", name, "dir", dir, "contents", stats.Describe())

	var warnings []string
	if ok, _ := afero.Exists(p.fs, filepath.Join(dir, buildfile.FileName)); !ok {
		warnings = append(warnings, "package has no "+buildfile.FileName)
	}
	if ok, _ := afero.DirExists(p.fs, filepath.Join(dir, "src")); !ok {
		warnings = append(warnings, "package has no src/ directory")
	}
	for _, w := range warnings {
		p.logger.Warn(w, "name", name)
	}
	return stats, warnings, nil
}

// integrate inserts the build declaration for name. Failures never undo
// the install: they degrade to manual instructions on the result.
func (p *Project) integrate(res *Result) {
	build, err := p.build.AddBlock(res.Name, p.packageRel(res.Name))
	res.Build = build
	switch {
	case err != nil:
		res.ManualInstructions = p.build.ManualInstructions(res.Name, p.packageRel(res.Name))
		res.Warnings = append(res.Warnings, errors.UserMessage(err))
		p.logger.Warn("could not update build file, add the module by hand", "name", res.Name, "err", err)
	case build.AlreadyPresent:
		p.logger.Debug("build file already declares module", "name", res.Name)
	default:
		p.logger.Info("updated build file", "name", res.Name, "anchor", build.Anchor)
	}
}

func removeIfExists(fs afero.Fs, path string) error {
	if err := fs.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
