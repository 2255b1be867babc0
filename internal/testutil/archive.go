// Package testutil provides fixtures shared by zion's package tests: source
// archives built in memory and a fake archive host.
package testutil

import (
	"archive/tar"
	"bytes"
	"sort"

	"github.com/klauspost/compress/gzip"
)

// TarGz builds a gzip-compressed tarball. Every path in files is placed
// under a single wrapper directory, the way hosted source archives are.
// Paths ending in "/" become directory entries.
func TarGz(wrapper string, files map[string]string) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	_ = tw.WriteHeader(&tar.Header{Name: wrapper + "/", Typeflag: tar.TypeDir, Mode: 0o755})
	for _, name := range names {
		full := wrapper + "/" + name
		if name[len(name)-1] == '/' {
			_ = tw.WriteHeader(&tar.Header{Name: full, Typeflag: tar.TypeDir, Mode: 0o755})
			continue
		}
		body := files[name]
		_ = tw.WriteHeader(&tar.Header{
			Name:     full,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(body)),
		})
		_, _ = tw.Write([]byte(body))
	}

	_ = tw.Close()
	_ = gz.Close()
	return buf.Bytes()
}

// ZigPackage returns a tarball laid out like a typical Zig library.
func ZigPackage(wrapper, name, marker string) []byte {
	return TarGz(wrapper, map[string]string{
		"build.zig":    "const std = @import(\"std\");\npub fn build(b: *std.Build) void {\n    _ = b;\n}\n",
		"src/":         "",
		"src/root.zig": "// " + name + " " + marker + "\npub const version = \"" + marker + "\";\n",
		"README.md":    "# " + name + "\n",
	})
}
