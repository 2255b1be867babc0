package project

import (
	stderrors "errors"
	"time"

	"github.com/matzehuels/zion/pkg/buildfile"
)

// Status is what a flow did to one package.
type Status string

const (
	StatusAdded      Status = "added"
	StatusRemoved    Status = "removed"
	StatusUpToDate   Status = "up-to-date"
	StatusUpdated    Status = "updated"
	StatusPresent    Status = "present"    // locked, matching and installed
	StatusRestored   Status = "restored"   // reinstalled from the locked URL
	StatusVerified   Status = "verified"   // re-downloaded and matched the manifest
	StatusLocked     Status = "locked"     // newly recorded in the lock
	StatusUnverified Status = "unverified" // content differs from the manifest hash
	StatusFailed     Status = "failed"
)

// Result is the outcome of a flow for one package.
type Result struct {
	Name    string
	Ref     string
	URL     string
	Hash    string
	Status  Status
	Cached  bool
	Files   int
	Elapsed time.Duration

	Build buildfile.AddResult
	// ManualInstructions holds the build.zig block to paste by hand when
	// it could not be inserted.
	ManualInstructions string

	Warnings []string
	Err      error
}

// OK reports whether the package did not fail.
func (r Result) OK() bool { return r.Err == nil && r.Status != StatusFailed }

// Report collects per-package results of a batch flow, in manifest or
// argument order.
type Report struct {
	Results []Result
	// Changed is set when the manifest or lock was written.
	Changed bool
}

// Count returns how many results have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Failed returns the failed results.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the errors of all failed packages, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, res.Err)
	}
	return stderrors.Join(errs...)
}

// Entry is a declared dependency joined with its lock entry and install
// state.
type Entry struct {
	Name      string
	URL       string
	Hash      string
	Version   string
	Locked    bool
	LockHash  string
	LockedAt  time.Time
	Installed bool
	Dir       string
}

// Verified reports whether the lock agrees with the manifest.
func (e Entry) Verified() bool { return e.Locked && e.LockHash == e.Hash }
