// Package archive unpacks source archives into the package tree.
//
// Hosted source archives wrap the repository in a single top-level
// directory (libxev-main/...). ExtractTarGz strips that wrapper so a
// package lands directly in deps/<name>.
package archive

import (
	"archive/tar"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/matzehuels/zion/pkg/errors"
)

// MaxEntryBytes caps the decompressed size of a single file.
const MaxEntryBytes = 512 << 20

// Stats describes an extraction.
type Stats struct {
	Files int
	Dirs  int
	Bytes int64
}

// ExtractTarGzFile opens the archive at src on the OS filesystem and
// extracts it into dest on fs.
func ExtractTarGzFile(fs afero.Fs, src, dest string, strip int) (Stats, error) {
	f, err := os.Open(src)
	if err != nil {
		return Stats{}, errors.Wrap(errors.ErrCodeExtractionFailed, err, "open archive %s", src)
	}
	defer f.Close()
	return ExtractTarGz(fs, f, dest, strip)
}

// ExtractTarGz reads a gzip-compressed tarball from r and writes its
// regular files and directories under dest, dropping strip leading path
// components from each entry. Entries that would land outside dest are
// rejected; symlinks and other special files are skipped.
func ExtractTarGz(fs afero.Fs, r io.Reader, dest string, strip int) (Stats, error) {
	var stats Stats

	gz, err := gzip.NewReader(r)
	if err != nil {
		return stats, errors.Wrap(errors.ErrCodeExtractionFailed, err, "open gzip stream")
	}
	defer func() { _ = gz.Close() }()

	if err := fs.MkdirAll(dest, 0o755); err != nil {
		return stats, errors.Wrap(errors.ErrCodeExtractionFailed, err, "create %s", dest)
	}

	tr := tar.NewReader(gz)
	for {
		hdr, nextErr := tr.Next()
		if stderrors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return stats, errors.Wrap(errors.ErrCodeExtractionFailed, nextErr, "read tar entry")
		}

		rel, ok := stripComponents(hdr.Name, strip)
		if !ok {
			continue
		}
		if err := errors.ValidatePath(rel); err != nil {
			return stats, errors.Wrap(errors.ErrCodeExtractionFailed, err, "unsafe entry %q", hdr.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return stats, errors.Wrap(errors.ErrCodeExtractionFailed, err, "create %s", target)
			}
			stats.Dirs++
		case tar.TypeReg:
			n, err := writeFile(fs, target, tr, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return stats, err
			}
			stats.Files++
			stats.Bytes += n
		default:
			// symlinks, hard links, devices
		}
	}

	if stats.Files == 0 {
		return stats, errors.New(errors.ErrCodeExtractionFailed, "archive contained no files")
	}
	return stats, nil
}

func writeFile(fs afero.Fs, target string, r io.Reader, perm os.FileMode) (int64, error) {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, errors.Wrap(errors.ErrCodeExtractionFailed, err, "create %s", filepath.Dir(target))
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeExtractionFailed, err, "create %s", target)
	}

	n, copyErr := io.Copy(f, io.LimitReader(r, MaxEntryBytes+1))
	closeErr := f.Close()
	if copyErr != nil {
		return n, errors.Wrap(errors.ErrCodeExtractionFailed, copyErr, "write %s", target)
	}
	if n > MaxEntryBytes {
		return n, errors.New(errors.ErrCodeExtractionFailed, "%s exceeds %d bytes", target, MaxEntryBytes)
	}
	if closeErr != nil {
		return n, errors.Wrap(errors.ErrCodeExtractionFailed, closeErr, "close %s", target)
	}
	return n, nil
}

// stripComponents removes n leading components from a tar entry name.
// It returns false when nothing is left (the wrapper directory itself).
func stripComponents(name string, n int) (string, bool) {
	name = strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(name, "./")), "/")
	if name == "" || name == "." {
		return "", false
	}
	parts := strings.Split(name, "/")
	if len(parts) <= n {
		return "", false
	}
	return strings.Join(parts[n:], "/"), true
}

// Describe formats stats for log output.
func (s Stats) Describe() string {
	return fmt.Sprintf("%d files, %d dirs, %d bytes", s.Files, s.Dirs, s.Bytes)
}
