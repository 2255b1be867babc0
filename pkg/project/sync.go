package project

import (
	"context"

	"github.com/spf13/afero"

	"github.com/matzehuels/zion/pkg/errors"
	"github.com/matzehuels/zion/pkg/fetch"
	"github.com/matzehuels/zion/pkg/scheduler"
)

// pending pairs a manifest entry with the job that fetches it.
type pending struct {
	res  *Result
	ref  fetch.Reference
	mode fetchMode
}

type fetchMode int

const (
	modeRestore fetchMode = iota // locked, matching, not installed
	modeVerify                   // lock disagrees with the manifest
	modeLock                     // not in the lock yet
)

// Update re-resolves every dependency from its recorded URL and downloads
// it again. Packages whose content hash is unchanged are left alone;
// changed ones are re-extracted and their manifest and lock entries
// rewritten. Both files are saved once, and only if something changed.
func (p *Project) Update(ctx context.Context) (*Report, error) {
	st, unlock, err := p.begin()
	if err != nil {
		return nil, err
	}
	defer unlock()

	names := st.m.Names()
	report := &Report{Results: make([]Result, len(names))}
	var (
		jobs []scheduler.Job
		work []pending
	)
	for i, name := range names {
		dep, _ := st.m.Get(name)
		res := &report.Results[i]
		*res = Result{Name: name, URL: dep.URL, Hash: dep.Hash}

		ref, err := fetch.ReferenceFromURL(dep.URL)
		if err != nil {
			res.fail(err)
			continue
		}
		res.Ref = ref.String()
		jobs = append(jobs, scheduler.Job{Ref: ref.String(), Refresh: true})
		work = append(work, pending{res: res, ref: ref})
	}

	p.logger.Info("checking for updates", "packages", len(jobs))
	outcomes := p.sched.RunBatch(ctx, jobs)

	for i, o := range outcomes {
		w := work[i]
		res := w.res
		res.Elapsed = o.Elapsed
		if !o.OK {
			res.fail(o.Err)
			p.logger.Error("fetch failed", "name", res.Name, "attempts", o.Attempts, "err", o.Err)
			continue
		}

		a := o.Archive
		if a.Hash == res.Hash {
			res.Status = StatusUpToDate
			p.logger.Debug("package is up to date", "name", res.Name)
			continue
		}

		stats, warnings, err := p.install(res.Name, a)
		if err != nil {
			res.fail(err)
			continue
		}
		p.logger.Info("package changed", "name", res.Name, "old", short(res.Hash), "new", short(a.Hash))
		st.m.Add(res.Name, a.URL, a.Hash)
		st.l.Add(res.Name, a.URL, a.Hash, w.ref.Version)
		res.URL = a.URL
		res.Hash = a.Hash
		res.Files = stats.Files
		res.Warnings = append(res.Warnings, warnings...)
		res.Status = StatusUpdated
		report.Changed = true
	}

	if report.Changed {
		if err := p.saveManifest(st.m); err != nil {
			return report, err
		}
		if err := p.saveLock(st.l); err != nil {
			return report, err
		}
	}
	return report, ctx.Err()
}

// Fetch brings the package tree in line with the manifest and lock.
//
// Each dependency falls into one of four cases:
//   - locked with the manifest hash and installed: nothing to do
//   - locked with the manifest hash but not installed: download from the
//     locked URL and extract
//   - locked with a different hash: download again, ignoring the cache,
//     and compare with the manifest hash
//   - not locked: download, compare with the manifest hash, lock
//
// Content that does not match the manifest hash is still extracted, but
// it is not locked and its result is StatusUnverified with a warning.
// The lock is saved once if it changed.
func (p *Project) Fetch(ctx context.Context) (*Report, error) {
	st, unlock, err := p.begin()
	if err != nil {
		return nil, err
	}
	defer unlock()

	names := st.m.Names()
	report := &Report{Results: make([]Result, len(names))}
	var (
		jobs []scheduler.Job
		work []pending
	)
	for i, name := range names {
		dep, _ := st.m.Get(name)
		res := &report.Results[i]
		*res = Result{Name: name, URL: dep.URL, Hash: dep.Hash}

		ref, err := fetch.ReferenceFromURL(dep.URL)
		if err != nil {
			res.fail(err)
			continue
		}
		res.Ref = ref.String()

		locked, isLocked := st.l.Get(name)
		installed, _ := afero.DirExists(p.fs, p.PackageDir(name))
		switch {
		case isLocked && locked.Hash == dep.Hash && installed:
			res.Status = StatusPresent
		case isLocked && locked.Hash == dep.Hash:
			jobs = append(jobs, scheduler.Job{Ref: ref.String(), URL: locked.URL})
			work = append(work, pending{res: res, ref: ref, mode: modeRestore})
		case isLocked:
			jobs = append(jobs, scheduler.Job{Ref: ref.String(), URL: dep.URL, Refresh: true})
			work = append(work, pending{res: res, ref: ref, mode: modeVerify})
		default:
			jobs = append(jobs, scheduler.Job{Ref: ref.String(), URL: dep.URL})
			work = append(work, pending{res: res, ref: ref, mode: modeLock})
		}
	}

	p.logger.Info("fetching packages", "packages", len(jobs), "present", len(names)-len(jobs))
	outcomes := p.sched.RunBatch(ctx, jobs)

	for i, o := range outcomes {
		w := work[i]
		res := w.res
		res.Elapsed = o.Elapsed
		if !o.OK {
			res.fail(o.Err)
			p.logger.Error("fetch failed", "name", res.Name, "attempts", o.Attempts, "err", o.Err)
			continue
		}

		a := o.Archive
		res.Cached = a.Cached
		matches := a.Hash == res.Hash

		stats, warnings, err := p.install(res.Name, a)
		if err != nil {
			res.fail(err)
			continue
		}
		res.Files = stats.Files
		res.Warnings = append(res.Warnings, warnings...)

		if !matches {
			msg := errors.New(errors.ErrCodeHashMismatch, "content hash %s does not match manifest hash %s",
				short(a.Hash), short(res.Hash))
			res.Warnings = append(res.Warnings, msg.Message)
			res.Status = StatusUnverified
			p.logger.Warn("hash mismatch, package left unverified", "name", res.Name,
				"expected", short(res.Hash), "got", short(a.Hash))
			continue
		}

		switch w.mode {
		case modeRestore:
			res.Status = StatusRestored
		case modeVerify:
			res.Status = StatusVerified
		case modeLock:
			res.Status = StatusLocked
		}
		if w.mode != modeRestore {
			st.l.Add(res.Name, a.URL, a.Hash, w.ref.Version)
			report.Changed = true
		}
	}

	if report.Changed {
		if err := p.saveLock(st.l); err != nil {
			return report, err
		}
	}
	return report, ctx.Err()
}

// Lock records every manifest dependency in the lock whose entry is
// missing or disagrees on URL or hash. It does not touch the network.
func (p *Project) Lock(_ context.Context) (*Report, error) {
	st, unlock, err := p.begin()
	if err != nil {
		return nil, err
	}
	defer unlock()

	names := st.m.Names()
	report := &Report{Results: make([]Result, len(names))}
	for i, name := range names {
		dep, _ := st.m.Get(name)
		res := &report.Results[i]
		*res = Result{Name: name, URL: dep.URL, Hash: dep.Hash, Status: StatusUpToDate}

		if locked, ok := st.l.Get(name); ok && locked.URL == dep.URL && locked.Hash == dep.Hash {
			continue
		}
		version := ""
		if ref, err := fetch.ReferenceFromURL(dep.URL); err == nil {
			res.Ref = ref.String()
			version = ref.Version
		}
		st.l.Add(name, dep.URL, dep.Hash, version)
		res.Status = StatusLocked
		report.Changed = true
	}

	if report.Changed {
		if err := p.saveLock(st.l); err != nil {
			return report, err
		}
	}
	return report, nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
