package fetch

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/matzehuels/zion/pkg/errors"
)

// Regex patterns for GitHub-style resource validation.
var (
	// Usernames/orgs: 1-39 alphanumeric or hyphen, not starting with hyphen
	validOwner = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,38}$`)
	// Repo names: 1-100 alphanumeric, hyphen, underscore, or dot
	validRepo = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,100}$`)

	unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// Reference identifies a remote source repository, optionally pinned to a
// release tag.
type Reference struct {
	Owner   string
	Repo    string
	Version string // semver tag such as "v0.4.0"; empty means default branch
}

// ParseReference parses "owner/repo" or "owner/repo@vX.Y.Z". The input must
// contain exactly one "/"; both halves must be valid GitHub names and the
// optional version must be valid semver. No I/O happens here.
func ParseReference(s string) (Reference, error) {
	raw := strings.TrimSpace(s)
	body, version, hasVersion := strings.Cut(raw, "@")

	if strings.Count(body, "/") != 1 {
		return Reference{}, errors.New(errors.ErrCodeInvalidReference,
			"invalid package reference %q: use owner/repo", s)
	}
	owner, repo, _ := strings.Cut(body, "/")
	repo = strings.TrimSuffix(repo, ".git")

	if !validOwner.MatchString(owner) {
		return Reference{}, errors.New(errors.ErrCodeInvalidReference,
			"invalid owner %q: must be 1-39 alphanumeric characters or hyphens, cannot start with hyphen", owner)
	}
	if !validRepo.MatchString(repo) || repo == "." || repo == ".." {
		return Reference{}, errors.New(errors.ErrCodeInvalidReference,
			"invalid repo %q: must be 1-100 alphanumeric characters, hyphens, underscores, or dots", repo)
	}
	if hasVersion && !semver.IsValid(version) {
		return Reference{}, errors.New(errors.ErrCodeInvalidReference,
			"invalid version %q: must be a semantic version such as v1.2.3", version)
	}

	return Reference{Owner: owner, Repo: repo, Version: version}, nil
}

// ReferenceFromURL recovers the reference from an archive URL previously
// produced by a Resolver, or from a plain repository URL. Tag archives
// whose tag is valid semver keep the version; branch archives do not, so
// re-resolving them probes the branches again.
func ReferenceFromURL(rawURL string) (Reference, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Reference{}, errors.New(errors.ErrCodeInvalidReference, "cannot derive a reference from %q", rawURL)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return Reference{}, errors.New(errors.ErrCodeInvalidReference, "cannot derive a reference from %q", rawURL)
	}

	s := parts[0] + "/" + parts[1]
	// owner/repo/archive/refs/tags/<tag>.tar.gz
	if len(parts) == 6 && parts[2] == "archive" && parts[3] == "refs" && parts[4] == "tags" {
		tag := strings.TrimSuffix(parts[5], archiveSuffix)
		if semver.IsValid(tag) {
			s += "@" + tag
		}
	}
	return ParseReference(s)
}

// String returns the canonical "owner/repo[@version]" form.
func (r Reference) String() string {
	if r.Version != "" {
		return r.Owner + "/" + r.Repo + "@" + r.Version
	}
	return r.Owner + "/" + r.Repo
}

// Name is the dependency name a reference installs under.
func (r Reference) Name() string {
	return r.Repo
}

// Slug returns "owner/repo" without the version.
func (r Reference) Slug() string {
	return r.Owner + "/" + r.Repo
}

// CacheFileName is the archive file name for this reference: the
// canonical string with every character outside [A-Za-z0-9._-] replaced
// by "_".
func (r Reference) CacheFileName() string {
	return unsafePathChars.ReplaceAllString(r.String(), "_") + archiveSuffix
}
