// Package pkg provides the libraries behind zion, a dependency manager for
// Zig projects.
//
// # Overview
//
// zion downloads package source archives, records them in a manifest and a
// lock file, extracts them under deps/ and declares them in build.zig. The
// pkg directory is organized by concern:
//
//  1. [project] - Orchestration (add, remove, update, fetch, lock)
//  2. [fetch] and [scheduler] - Resolution, download and concurrent batches
//  3. [manifest], [lockfile] and [buildfile] - The three project files
//  4. [archive] and [cache] - Extraction, hashing and caches
//  5. [errors], [httputil], [observability] and [buildinfo] - Shared plumbing
//
// # Architecture
//
// The data flow of `zion add owner/repo`:
//
//	owner/repo[@vX.Y.Z]
//	         ↓
//	    [fetch] package (resolve URL, download, sha256)
//	         ↓
//	    [archive] package (extract into deps/<name>)
//	         ↓
//	    [manifest] + [lockfile] packages (record url and hash)
//	         ↓
//	    [buildfile] package (declare the module in build.zig)
//
// # Quick Start
//
//	import (
//	    "context"
//
//	    "github.com/spf13/afero"
//
//	    "github.com/matzehuels/zion/pkg/fetch"
//	    "github.com/matzehuels/zion/pkg/project"
//	)
//
//	f := fetch.New(fetch.Options{CacheDir: cacheDir})
//	p := project.Open(afero.NewOsFs(), ".", project.Options{Fetcher: f})
//
//	res, err := p.Add(context.Background(), "mitchellh/libxev")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Name, res.Hash)
//
// # Main Packages
//
// [project] - The lifecycle flows. Every mutating flow takes an advisory
// lock on the project directory, loads the manifest and lock, and writes
// them back once.
//
// [fetch] - References, URL resolution by probing the host, and the
// archive cache. Downloads use net/http with a curl fallback.
//
// [scheduler] - Runs batches of fetches with bounded concurrency and
// per-job retries, reporting progress and results in input order.
//
// [buildfile] - Text-level edits of build.zig, tagged so they can be found
// and removed again.
//
// [cache] - Key-value caches (file, redis, null) used for resolutions, and
// the sha256 helpers used for archive hashes.
package pkg
