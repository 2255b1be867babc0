package project

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/zion/internal/testutil"
	"github.com/matzehuels/zion/pkg/buildfile"
	"github.com/matzehuels/zion/pkg/cache"
	"github.com/matzehuels/zion/pkg/errors"
	"github.com/matzehuels/zion/pkg/fetch"
	"github.com/matzehuels/zion/pkg/lockfile"
	"github.com/matzehuels/zion/pkg/manifest"
	"github.com/matzehuels/zion/pkg/scheduler"
)

const root = "/proj"

const buildZig = `const std = @import("std");

pub fn build(b: *std.Build) void {
    const target = b.standardTargetOptions(.{});
    // zion: dependencies

    const exe = b.addExecutable(.{
        .name = "app",
        .root_source_file = b.path("src/main.zig"),
        .target = target,
    });
    b.installArtifact(exe);
}
`

const libxev = "mitchellh/libxev"

func quietLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.ErrorLevel})
}

// countingLocker records how often a flow took the project lock.
type countingLocker struct {
	mu    sync.Mutex
	locks int
	held  bool
}

func (l *countingLocker) Lock() (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks++
	l.held = true
	return func() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}, nil
}

type env struct {
	fs     afero.Fs
	host   *testutil.Host
	locker *countingLocker
	p      *Project
}

func newEnv(t *testing.T) *env {
	t.Helper()
	host := testutil.NewHost(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(root, 0o755))

	f := fetch.New(fetch.Options{
		CacheDir: t.TempDir(),
		Resolver: fetch.NewResolver(fetch.ResolverOptions{Host: host.URL, Logger: quietLogger()}),
		Primary:  fetch.NewHTTPTransfer(host.Client(), quietLogger()),
		Logger:   quietLogger(),
	})
	sched := scheduler.New(f, scheduler.Options{
		Concurrency: 2,
		Attempts:    2,
		BaseDelay:   time.Millisecond,
		Logger:      quietLogger(),
	})

	e := &env{fs: fs, host: host, locker: &countingLocker{}}
	e.p = Open(fs, root, Options{
		Fetcher:   f,
		Scheduler: sched,
		Locker:    e.locker,
		Logger:    quietLogger(),
	})
	return e
}

// initProject writes a manifest and build.zig.
func (e *env) initProject(t *testing.T) {
	t.Helper()
	_, err := e.p.Init("app")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(e.fs, e.p.BuildPath(), []byte(buildZig), 0o644))
}

// publish serves a Zig package for ref on main and returns its hash.
func (e *env) publish(ref, marker string) string {
	name := ref[strings.Index(ref, "/")+1:]
	data := testutil.ZigPackage(name+"-main", name, marker)
	e.host.Branch(ref, "main", data)
	return cache.Hash(data)
}

func (e *env) manifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Load(e.fs, e.p.ManifestPath())
	require.NoError(t, err)
	return m
}

func (e *env) lock(t *testing.T) *lockfile.LockFile {
	t.Helper()
	l, err := lockfile.Load(e.fs, e.p.LockPath())
	require.NoError(t, err)
	return l
}

func (e *env) read(t *testing.T, path string) string {
	t.Helper()
	data, err := afero.ReadFile(e.fs, path)
	require.NoError(t, err)
	return string(data)
}

// snapshot returns every file under root with its content.
func (e *env) snapshot(t *testing.T) map[string]string {
	t.Helper()
	files := make(map[string]string)
	require.NoError(t, afero.Walk(e.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		files[path] = e.read(t, path)
		return nil
	}))
	return files
}

func TestAdd(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	hash := e.publish(libxev, "v1")
	locks := e.locker.locks

	res, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)
	assert.Equal(t, StatusAdded, res.Status)
	assert.Equal(t, "libxev", res.Name)
	assert.Equal(t, hash, res.Hash)
	assert.Equal(t, e.host.BranchURL(libxev, "main"), res.URL)
	assert.True(t, res.Build.Inserted)
	assert.Empty(t, res.ManualInstructions)
	assert.Empty(t, res.Warnings)

	dep, ok := e.manifest(t).Get("libxev")
	require.True(t, ok)
	assert.Equal(t, manifest.Dependency{URL: res.URL, Hash: hash}, dep)

	locked, ok := e.lock(t).Get("libxev")
	require.True(t, ok)
	assert.Equal(t, hash, locked.Hash)
	assert.Equal(t, res.URL, locked.URL)
	assert.NotZero(t, locked.Timestamp)

	assert.Contains(t, e.read(t, root+"/deps/libxev/src/root.zig"), "libxev v1")
	assert.Contains(t, e.read(t, e.p.BuildPath()), buildfile.Tag("libxev"))
	assert.Contains(t, e.read(t, e.p.BuildPath()), `b.path("deps/libxev/src/root.zig")`)

	assert.Equal(t, locks+1, e.locker.locks)
	assert.False(t, e.locker.held)
}

func TestAddVersioned(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.host.Tag("a/zap", "v0.4.0", testutil.ZigPackage("zap-0.4.0", "zap", "tagged"))

	res, err := e.p.Add(context.Background(), "a/zap@v0.4.0")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.URL, "/a/zap/archive/refs/tags/v0.4.0.tar.gz"))

	locked, ok := e.lock(t).Get("zap")
	require.True(t, ok)
	assert.Equal(t, "v0.4.0", locked.Version)
}

func TestAddInvalidReferenceBeforeIO(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	before := e.snapshot(t)
	locks := e.locker.locks

	_, err := e.p.Add(context.Background(), "not-a-reference")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidReference))
	assert.Equal(t, before, e.snapshot(t))
	assert.Equal(t, locks, e.locker.locks, "rejected before taking the lock")
}

func TestAddWithoutManifest(t *testing.T) {
	e := newEnv(t)
	e.publish(libxev, "v1")

	_, err := e.p.Add(context.Background(), libxev)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodePreconditionMissing))
	assert.Equal(t, 0, e.host.Gets(libxev, "main"))
	exists, _ := afero.DirExists(e.fs, e.p.PackageDir("libxev"))
	assert.False(t, exists)
}

func TestAddInjectionFailedStillRecords(t *testing.T) {
	e := newEnv(t)
	_, err := e.p.Init("app")
	require.NoError(t, err)
	plain := "pub fn build(b: *std.Build) void {\n    _ = b;\n}\n"
	require.NoError(t, afero.WriteFile(e.fs, e.p.BuildPath(), []byte(plain), 0o644))
	e.publish(libxev, "v1")

	res, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)
	assert.Contains(t, res.ManualInstructions, `_ = b.addModule("libxev", .{`)
	require.NotEmpty(t, res.Warnings)

	assert.True(t, e.manifest(t).Has("libxev"))
	assert.True(t, e.lock(t).Has("libxev"))
	assert.Equal(t, plain, e.read(t, e.p.BuildPath()))
}

func TestAddDownloadFailedChangesNothing(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	before := e.snapshot(t)

	_, err := e.p.Add(context.Background(), "ghost/missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeDownloadFailed))
	assert.Equal(t, before, e.snapshot(t))
}

func TestAddRecoversCorruptLock(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")
	require.NoError(t, afero.WriteFile(e.fs, e.p.LockPath(), []byte("{not json"), 0o644))

	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)

	l := e.lock(t)
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Has("libxev"))
}

func TestAddAll(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")
	e.publish("Hejsil/zig-clap", "v1")

	report, err := e.p.AddAll(context.Background(), []string{libxev, "ghost/missing", "Hejsil/zig-clap"})
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	assert.Equal(t, "libxev", report.Results[0].Name)
	assert.Equal(t, StatusAdded, report.Results[0].Status)
	assert.Equal(t, StatusFailed, report.Results[1].Status)
	assert.True(t, errors.Is(report.Results[1].Err, errors.ErrCodeDownloadFailed))
	assert.Equal(t, "zig-clap", report.Results[2].Name)
	assert.Equal(t, StatusAdded, report.Results[2].Status)

	assert.True(t, report.Changed)
	assert.Len(t, report.Failed(), 1)
	assert.True(t, errors.Is(report.Err(), errors.ErrCodeDownloadFailed))

	assert.Equal(t, []string{"libxev", "zig-clap"}, e.manifest(t).Names())
	assert.Equal(t, 2, e.lock(t).Len())
	build := e.read(t, e.p.BuildPath())
	assert.Contains(t, build, buildfile.Tag("libxev"))
	assert.Contains(t, build, buildfile.Tag("zig-clap"))
}

func TestAddAllValidatesFirst(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")

	_, err := e.p.AddAll(context.Background(), []string{libxev, "bad"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidReference))
	assert.Equal(t, 0, e.host.Heads(libxev, "main"))
	assert.Equal(t, 0, e.host.Gets(libxev, "main"))
}

func TestRemove(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")
	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)

	res, err := e.p.Remove(context.Background(), "libxev")
	require.NoError(t, err)
	assert.Equal(t, StatusRemoved, res.Status)
	assert.Empty(t, res.Warnings)

	assert.False(t, e.manifest(t).Has("libxev"))
	assert.False(t, e.lock(t).Has("libxev"))
	assert.Equal(t, buildZig, e.read(t, e.p.BuildPath()))
	exists, _ := afero.DirExists(e.fs, e.p.PackageDir("libxev"))
	assert.False(t, exists)
}

func TestRemoveGhostTouchesNothing(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")
	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)
	before := e.snapshot(t)

	_, err = e.p.Remove(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodePackageNotFound))
	assert.Contains(t, err.Error(), "libxev")
	assert.Equal(t, before, e.snapshot(t))
}

func TestRemoveManualDeclaration(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	m := e.manifest(t)
	m.Add("app", "https://example.com/a/app.tar.gz", strings.Repeat("a", 64))
	require.NoError(t, m.Save(e.fs, e.p.ManifestPath()))
	manual := strings.Replace(buildZig, "    // zion: dependencies\n",
		"    _ = b.addModule(\"app\", .{\n        .root_source_file = b.path(\"x.zig\"),\n    });\n", 1)
	require.NoError(t, afero.WriteFile(e.fs, e.p.BuildPath(), []byte(manual), 0o644))

	res, err := e.p.Remove(context.Background(), "app")
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "by hand")
	assert.Equal(t, manual, e.read(t, e.p.BuildPath()))
	assert.False(t, e.manifest(t).Has("app"))
}

func TestRemoveRejectsDotEntry(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")
	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)

	edited := e.read(t, e.p.ManifestPath()) +
		"\n[dependencies.\".\"]\nurl = \"https://example.com/a.tar.gz\"\nhash = \"" + strings.Repeat("a", 64) + "\"\n"
	require.NoError(t, afero.WriteFile(e.fs, e.p.ManifestPath(), []byte(edited), 0o644))

	_, err = e.p.Remove(context.Background(), ".")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidPackage))

	_, err = e.p.List()
	require.Error(t, err, "the manifest itself is rejected")

	exists, _ := afero.DirExists(e.fs, e.p.PackageDir("libxev"))
	assert.True(t, exists, "installed packages survive")
}

func TestUpdateUnchanged(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")
	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)
	before := e.snapshot(t)

	report, err := e.p.Update(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusUpToDate, report.Results[0].Status)
	assert.False(t, report.Changed)
	assert.Equal(t, before, e.snapshot(t))
	assert.Equal(t, 2, e.host.Gets(libxev, "main"), "update always downloads again")
}

func TestUpdateChanged(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")
	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)

	newHash := e.publish(libxev, "v2")
	report, err := e.p.Update(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusUpdated, report.Results[0].Status)
	assert.True(t, report.Changed)

	dep, _ := e.manifest(t).Get("libxev")
	assert.Equal(t, newHash, dep.Hash)
	locked, _ := e.lock(t).Get("libxev")
	assert.Equal(t, newHash, locked.Hash)
	assert.Contains(t, e.read(t, root+"/deps/libxev/src/root.zig"), "libxev v2")
}

func TestUpdateReportsFailuresPerPackage(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")
	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)

	m := e.manifest(t)
	m.Add("gone", e.host.BranchURL("ghost/gone", "main"), strings.Repeat("a", 64))
	require.NoError(t, m.Save(e.fs, e.p.ManifestPath()))

	report, err := e.p.Update(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, StatusFailed, report.Results[0].Status)
	assert.Equal(t, "gone", report.Results[0].Name)
	assert.Equal(t, StatusUpToDate, report.Results[1].Status)
}

func TestFetchPresentIsNoop(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")
	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)
	before := e.snapshot(t)

	report, err := e.p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, report.Results[0].Status)
	assert.False(t, report.Changed)
	assert.Equal(t, before, e.snapshot(t))
	assert.Equal(t, 1, e.host.Gets(libxev, "main"))
}

func TestFetchRestoresMissingPackage(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")
	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)
	require.NoError(t, e.fs.RemoveAll(e.p.PackageDir("libxev")))

	report, err := e.p.Fetch(context.Background())
	require.NoError(t, err)
	res := report.Results[0]
	assert.Equal(t, StatusRestored, res.Status)
	assert.True(t, res.Cached, "the cached archive is reused")
	assert.False(t, report.Changed)
	assert.Contains(t, e.read(t, root+"/deps/libxev/src/root.zig"), "libxev v1")
}

func TestFetchReverifiesStaleLock(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	hash := e.publish(libxev, "v1")
	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)

	l := e.lock(t)
	l.Add("libxev", e.host.BranchURL(libxev, "main"), strings.Repeat("0", 64), "")
	require.NoError(t, l.Save(e.fs, e.p.LockPath()))

	report, err := e.p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, report.Results[0].Status)
	assert.True(t, report.Changed)
	locked, _ := e.lock(t).Get("libxev")
	assert.Equal(t, hash, locked.Hash)
	assert.Equal(t, 2, e.host.Gets(libxev, "main"), "stale lock bypasses the archive cache")
}

func TestFetchHashMismatchLeavesUnverified(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	e.publish(libxev, "v1")
	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)

	stale := strings.Repeat("0", 64)
	l := e.lock(t)
	l.Add("libxev", e.host.BranchURL(libxev, "main"), stale, "")
	require.NoError(t, l.Save(e.fs, e.p.LockPath()))
	e.publish(libxev, "v2")

	report, err := e.p.Fetch(context.Background())
	require.NoError(t, err)
	res := report.Results[0]
	assert.Equal(t, StatusUnverified, res.Status)
	assert.True(t, res.OK(), "a mismatch is not fatal")
	assert.NoError(t, report.Err())
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "does not match")

	locked, _ := e.lock(t).Get("libxev")
	assert.Equal(t, stale, locked.Hash, "unverified content is not locked")
}

func TestFetchLocksUnlockedPackage(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	hash := e.publish(libxev, "v1")
	m := e.manifest(t)
	m.Add("libxev", e.host.BranchURL(libxev, "main"), hash)
	require.NoError(t, m.Save(e.fs, e.p.ManifestPath()))

	report, err := e.p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, report.Results[0].Status)
	assert.True(t, report.Changed)

	locked, ok := e.lock(t).Get("libxev")
	require.True(t, ok)
	assert.Equal(t, hash, locked.Hash)
	assert.Contains(t, e.read(t, root+"/deps/libxev/src/root.zig"), "libxev v1")
	assert.Equal(t, 0, e.host.Heads(libxev, "main"), "the manifest URL is used as-is")
}

func TestLockWithoutNetwork(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	m := e.manifest(t)
	hashA, hashB := strings.Repeat("a", 64), strings.Repeat("b", 64)
	m.Add("libxev", e.host.BranchURL(libxev, "main"), hashA)
	m.Add("zap", e.host.URL+"/a/zap/archive/refs/tags/v0.4.0.tar.gz", hashB)
	require.NoError(t, m.Save(e.fs, e.p.ManifestPath()))

	l := lockfile.New()
	l.Add("libxev", e.host.BranchURL(libxev, "main"), hashA, "")
	require.NoError(t, l.Save(e.fs, e.p.LockPath()))

	report, err := e.p.Lock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusUpToDate, report.Results[0].Status)
	assert.Equal(t, StatusLocked, report.Results[1].Status)

	zap, ok := e.lock(t).Get("zap")
	require.True(t, ok)
	assert.Equal(t, hashB, zap.Hash)
	assert.Equal(t, "v0.4.0", zap.Version)
	assert.Equal(t, 0, e.host.Heads(libxev, "main"))
	assert.Equal(t, 0, e.host.Gets(libxev, "main"))

	report, err = e.p.Lock(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Changed)
}

func TestListAndInfo(t *testing.T) {
	e := newEnv(t)
	e.initProject(t)
	hash := e.publish(libxev, "v1")
	_, err := e.p.Add(context.Background(), libxev)
	require.NoError(t, err)

	entries, err := e.p.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "libxev", entries[0].Name)
	assert.Equal(t, hash, entries[0].Hash)
	assert.True(t, entries[0].Installed)
	assert.True(t, entries[0].Verified())

	info, err := e.p.Info("libxev")
	require.NoError(t, err)
	assert.Equal(t, entries[0], info)

	_, err = e.p.Info("ghost")
	assert.True(t, errors.Is(err, errors.ErrCodePackageNotFound))
}

func TestInit(t *testing.T) {
	e := newEnv(t)

	created, err := e.p.Init("")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "proj", e.manifest(t).Name)

	created, err = e.p.Init("other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "proj", e.manifest(t).Name)
}

func TestFlowsRequireManifest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.p.Update(ctx)
	assert.True(t, errors.Is(err, errors.ErrCodePreconditionMissing))
	_, err = e.p.Fetch(ctx)
	assert.True(t, errors.Is(err, errors.ErrCodePreconditionMissing))
	_, err = e.p.Lock(ctx)
	assert.True(t, errors.Is(err, errors.ErrCodePreconditionMissing))
	_, err = e.p.Remove(ctx, "x")
	assert.True(t, errors.Is(err, errors.ErrCodePreconditionMissing))
	assert.False(t, e.locker.held)
	assert.Equal(t, 0, e.locker.locks, "the lock is not taken without a manifest")
}

func TestMissingProjectDirIsPrecondition(t *testing.T) {
	p := Open(afero.NewMemMapFs(), "/nowhere", Options{Logger: quietLogger()})

	_, err := p.Remove(context.Background(), "ghost")
	assert.True(t, errors.Is(err, errors.ErrCodePreconditionMissing))
	_, err = p.Init("app")
	assert.True(t, errors.Is(err, errors.ErrCodePreconditionMissing))
	_, err = p.Fetch(context.Background())
	assert.True(t, errors.Is(err, errors.ErrCodePreconditionMissing))
	assert.Equal(t, errors.ExitValidation, errors.ExitCode(err))
}
