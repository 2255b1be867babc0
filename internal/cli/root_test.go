package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/zion/internal/testutil"
	"github.com/matzehuels/zion/pkg/errors"
	"github.com/matzehuels/zion/pkg/project"
)

const testBuildZig = `const std = @import("std");

pub fn build(b: *std.Build) void {
    // zion: dependencies
    const exe = b.addExecutable(.{
        .name = "app",
        .root_source_file = b.path("src/main.zig"),
    });
    b.installArtifact(exe);
}
`

// testEnv points the configuration at a fake host and a private cache,
// and returns a project directory containing build.zig.
func testEnv(t *testing.T) (*testutil.Host, string) {
	t.Helper()
	host := testutil.NewHost(t)
	t.Setenv("ZION_HOST", host.URL)
	t.Setenv("ZION_CACHE_DIR", t.TempDir())
	t.Setenv("ZION_RESOLVE_CACHE", "none")
	t.Setenv("ZION_PROGRESS", "false")
	t.Setenv("ZION_RETRIES", "1")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "build.zig"), []byte(testBuildZig), 0o644); err != nil {
		t.Fatal(err)
	}
	return host, dir
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	prev := stdout
	stdout = &out
	t.Cleanup(func() { stdout = prev })

	c := New(io.Discard, LogInfo)
	root := c.RootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := New(io.Discard, LogInfo).RootCommand()

	want := []string{"init", "add", "remove", "update", "fetch", "lock", "list", "info", "cache", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("subcommand %q not registered", name)
		}
	}

	for _, flag := range []string{"dir", "config", "concurrency", "no-progress"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("persistent flag --%s missing", flag)
		}
	}
}

func TestInitAddListRemove(t *testing.T) {
	host, dir := testEnv(t)
	host.Branch("mitchellh/libxev", "main", testutil.ZigPackage("libxev-main", "libxev", "v1"))

	out, err := execute(t, "init", "-C", dir, "app")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "Created zion.toml") {
		t.Errorf("init output = %q", out)
	}

	out, err = execute(t, "add", "-C", dir, "mitchellh/libxev")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "libxev added") {
		t.Errorf("add output = %q", out)
	}
	for _, f := range []string{"zion.toml", "zion.lock", "deps/libxev/src/root.zig"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("%s not written: %v", f, err)
		}
	}
	build, _ := os.ReadFile(filepath.Join(dir, "build.zig"))
	if !strings.Contains(string(build), "// Added by zion add libxev") {
		t.Errorf("build.zig not patched:\n%s", build)
	}

	out, err = execute(t, "list", "-C", dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "libxev") || !strings.Contains(out, "ok") {
		t.Errorf("list output = %q", out)
	}

	out, err = execute(t, "info", "-C", dir, "libxev")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(out, host.BranchURL("mitchellh/libxev", "main")) {
		t.Errorf("info output missing url: %q", out)
	}

	if _, err := execute(t, "remove", "-C", dir, "libxev"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	build, _ = os.ReadFile(filepath.Join(dir, "build.zig"))
	if string(build) != testBuildZig {
		t.Errorf("build.zig not restored:\n%s", build)
	}
	if _, err := os.Stat(filepath.Join(dir, "deps", "libxev")); !os.IsNotExist(err) {
		t.Errorf("package directory still present: %v", err)
	}
}

func TestAddInvalidReferenceExitCode(t *testing.T) {
	_, dir := testEnv(t)
	if _, err := execute(t, "init", "-C", dir); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "add", "-C", dir, "not-a-reference")
	if got := errors.ExitCode(err); got != errors.ExitValidation {
		t.Errorf("ExitCode = %d, want %d (err %v)", got, errors.ExitValidation, err)
	}
}

func TestRemoveUnknownExitCode(t *testing.T) {
	_, dir := testEnv(t)
	if _, err := execute(t, "init", "-C", dir); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "remove", "-C", dir, "ghost")
	if got := errors.ExitCode(err); got != errors.ExitNotFound {
		t.Errorf("ExitCode = %d, want %d (err %v)", got, errors.ExitNotFound, err)
	}
}

func TestMissingProjectDirExitCode(t *testing.T) {
	_, dir := testEnv(t)
	missing := filepath.Join(dir, "nope")

	_, err := execute(t, "remove", "-C", missing, "ghost")
	if got := errors.ExitCode(err); got != errors.ExitValidation {
		t.Errorf("ExitCode = %d, want %d (err %v)", got, errors.ExitValidation, err)
	}
	if _, statErr := os.Stat(missing); !os.IsNotExist(statErr) {
		t.Errorf("%s was created", missing)
	}
}

func TestRemoveWithoutManifestLeavesNoLockFile(t *testing.T) {
	_, dir := testEnv(t)

	_, err := execute(t, "remove", "-C", dir, "ghost")
	if got := errors.ExitCode(err); got != errors.ExitValidation {
		t.Errorf("ExitCode = %d, want %d (err %v)", got, errors.ExitValidation, err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, project.LockFileName)); !os.IsNotExist(statErr) {
		t.Errorf("%s created without a manifest", project.LockFileName)
	}
}

func TestBatchFailureIsReported(t *testing.T) {
	host, dir := testEnv(t)
	host.Branch("mitchellh/libxev", "main", testutil.ZigPackage("libxev-main", "libxev", "v1"))
	if _, err := execute(t, "init", "-C", dir); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "add", "-C", dir, "mitchellh/libxev", "nobody/missing")
	if err == nil {
		t.Fatal("expected an error for the missing package")
	}
	if !Reported(err) {
		t.Errorf("batch failure should be marked as reported: %v", err)
	}
	if got := errors.ExitCode(err); got != errors.ExitNetwork {
		t.Errorf("ExitCode = %d, want %d", got, errors.ExitNetwork)
	}
	if !strings.Contains(out, "Added 1 of 2 packages") {
		t.Errorf("summary missing: %q", out)
	}
}

func TestFetchRestoresAfterDelete(t *testing.T) {
	host, dir := testEnv(t)
	host.Branch("mitchellh/libxev", "main", testutil.ZigPackage("libxev-main", "libxev", "v1"))
	if _, err := execute(t, "init", "-C", dir); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "add", "-C", dir, "mitchellh/libxev"); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(filepath.Join(dir, "deps")); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "fetch", "-C", dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(out, "restored") {
		t.Errorf("fetch output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "deps", "libxev", "build.zig")); err != nil {
		t.Errorf("package not restored: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "zion") || !strings.Contains(out, "commit:") {
		t.Errorf("version output = %q", out)
	}
}
