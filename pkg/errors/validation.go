package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// packageNameRegex is the repository-name character set a dependency name
// is drawn from.
var packageNameRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidatePackageName validates a dependency name for safety and correctness.
// Names become directory names under the package tree and identifiers in
// build.zig, so anything that could escape the tree is rejected:
//   - No empty names, and not "." or ".."
//   - Only letters, digits, '.', '_' and '-'
//   - No traversal sequences
//   - Maximum length of 100 characters
func ValidatePackageName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidPackage, "package name cannot be empty")
	}

	if len(name) > 100 {
		return New(ErrCodeInvalidPackage, "package name too long (max 100 characters)")
	}

	if !packageNameRegex.MatchString(name) {
		return New(ErrCodeInvalidPackage, "package name %q may only contain letters, digits, '.', '_' and '-'", name)
	}

	if strings.Trim(name, ".") == "" || strings.Contains(name, "..") {
		return New(ErrCodeInvalidPackage, "package name %q is not a valid directory name", name)
	}

	return nil
}

// ValidateProjectName validates the name written into a new manifest. It
// is only stored as a TOML string, so any printable text up to 100
// characters is accepted.
func ValidateProjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return New(ErrCodeInvalidInput, "project name cannot be empty")
	}
	if len(name) > 100 {
		return New(ErrCodeInvalidInput, "project name too long (max 100 characters)")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "project name contains invalid control characters")
		}
	}
	return nil
}

// ValidatePath validates a relative path inside an extracted archive.
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No path traversal components (..)
//   - No backslashes (Windows-style paths)
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	if strings.HasPrefix(path, "/") {
		return New(ErrCodeInvalidPath, "path must be relative (cannot start with /)")
	}

	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return New(ErrCodeInvalidPath, "path cannot contain path traversal sequences (..)")
		}
	}

	if strings.Contains(path, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes")
	}

	return nil
}

// ValidateURL validates a URL string for safety.
// It ensures the URL has a safe scheme (http or https).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}

	return nil
}

// hashRegex matches a lowercase hex sha256 digest.
var hashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidateHash validates a content hash as recorded in the manifest and lock.
func ValidateHash(hash string) error {
	if !hashRegex.MatchString(hash) {
		return New(ErrCodeInvalidManifest, "invalid content hash: %q", hash)
	}
	return nil
}
