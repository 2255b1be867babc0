package project

import (
	"context"

	"github.com/matzehuels/zion/pkg/errors"
	"github.com/matzehuels/zion/pkg/fetch"
	"github.com/matzehuels/zion/pkg/scheduler"
)

// Add installs the package ref and records it.
//
// The reference is validated before any I/O. Once the archive is fetched
// and extracted, the manifest and lock are saved and build.zig is patched;
// a build file that cannot be patched leaves the package installed and
// recorded, with Result.ManualInstructions set.
func (p *Project) Add(ctx context.Context, ref string) (*Result, error) {
	r, err := fetch.ParseReference(ref)
	if err != nil {
		return nil, err
	}
	if err := errors.ValidatePackageName(r.Name()); err != nil {
		return nil, err
	}

	st, unlock, err := p.begin()
	if err != nil {
		return nil, err
	}
	defer unlock()

	p.logger.Info("fetching package", "ref", r)
	a, err := p.fetch.Fetch(ctx, fetch.Request{Ref: r.String()})
	if err != nil {
		return nil, err
	}

	res := &Result{Name: r.Name(), Ref: r.String()}
	if err := p.add(st, r, a, res); err != nil {
		return nil, err
	}
	if err := p.saveManifest(st.m); err != nil {
		return nil, err
	}
	if err := p.saveLock(st.l); err != nil {
		return nil, err
	}
	p.integrate(res)
	return res, nil
}

// AddAll adds several packages. Every reference is validated up front;
// the downloads then run concurrently and the installs one by one. A
// package that fails is reported and does not stop the others.
func (p *Project) AddAll(ctx context.Context, refs []string) (*Report, error) {
	parsed := make([]fetch.Reference, len(refs))
	jobs := make([]scheduler.Job, len(refs))
	for i, s := range refs {
		r, err := fetch.ParseReference(s)
		if err != nil {
			return nil, err
		}
		if err := errors.ValidatePackageName(r.Name()); err != nil {
			return nil, err
		}
		parsed[i] = r
		jobs[i] = scheduler.Job{Ref: r.String()}
	}

	st, unlock, err := p.begin()
	if err != nil {
		return nil, err
	}
	defer unlock()

	p.logger.Info("fetching packages", "count", len(jobs))
	outcomes := p.sched.RunBatch(ctx, jobs)

	report := &Report{Results: make([]Result, len(outcomes))}
	for i, o := range outcomes {
		res := &report.Results[i]
		res.Name = parsed[i].Name()
		res.Ref = o.Ref
		res.Elapsed = o.Elapsed
		if !o.OK {
			res.fail(o.Err)
			p.logger.Error("fetch failed", "ref", o.Ref, "attempts", o.Attempts, "err", o.Err)
			continue
		}
		if err := p.add(st, parsed[i], o.Archive, res); err != nil {
			res.fail(err)
			p.logger.Error("install failed", "ref", o.Ref, "err", err)
			continue
		}
		report.Changed = true
	}

	if report.Changed {
		if err := p.saveManifest(st.m); err != nil {
			return report, err
		}
		if err := p.saveLock(st.l); err != nil {
			return report, err
		}
		for i := range report.Results {
			if res := &report.Results[i]; res.OK() {
				p.integrate(res)
			}
		}
	}
	return report, ctx.Err()
}

// add extracts a and records it in the in-memory manifest and lock.
func (p *Project) add(st *state, r fetch.Reference, a *fetch.Archive, res *Result) error {
	stats, warnings, err := p.install(r.Name(), a)
	if err != nil {
		return err
	}
	st.m.Add(r.Name(), a.URL, a.Hash)
	st.l.Add(r.Name(), a.URL, a.Hash, r.Version)

	res.URL = a.URL
	res.Hash = a.Hash
	res.Cached = a.Cached
	res.Files = stats.Files
	res.Warnings = append(res.Warnings, warnings...)
	res.Status = StatusAdded
	return nil
}

// Remove deletes name from the manifest, the lock, build.zig and the
// package tree. An unknown name is PACKAGE_NOT_FOUND and nothing changes.
func (p *Project) Remove(_ context.Context, name string) (*Result, error) {
	if err := errors.ValidatePackageName(name); err != nil {
		return nil, err
	}
	st, unlock, err := p.begin()
	if err != nil {
		return nil, err
	}
	defer unlock()

	dep, ok := st.m.Get(name)
	if !ok {
		return nil, st.m.NotFound(name)
	}
	res := &Result{Name: name, URL: dep.URL, Hash: dep.Hash, Status: StatusRemoved}

	_ = st.m.Remove(name)
	if err := p.saveManifest(st.m); err != nil {
		return nil, err
	}
	if st.l.Remove(name) {
		if err := p.saveLock(st.l); err != nil {
			return nil, err
		}
	}

	build, err := p.build.RemoveBlock(name)
	switch {
	case err != nil:
		res.Warnings = append(res.Warnings, errors.UserMessage(err))
		p.logger.Warn("could not update build file", "name", name, "err", err)
	case build.ManualCleanup:
		res.Warnings = append(res.Warnings, "build.zig declares "+name+" by hand; remove it manually")
		p.logger.Warn("build file declaration was not added by zion, remove it manually", "name", name)
	case build.Removed:
		p.logger.Info("updated build file", "name", name)
	}

	if err := removeIfExists(p.fs, p.PackageDir(name)); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "remove %s", p.PackageDir(name))
	}
	p.logger.Info("removed package", "name", name, "dir", p.PackageDir(name))
	return res, nil
}

func (r *Result) fail(err error) {
	r.Status = StatusFailed
	r.Err = err
}
