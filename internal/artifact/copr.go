package artifact

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"enge/internal/copr"
)

// CoprAPI is the part of the Copr client the resolver needs.
type CoprAPI interface {
	ListBuilds(ctx context.Context, owner, project string) ([]copr.Build, error)
	GetBuild(ctx context.Context, id int64) (copr.Build, error)
}

type CoprResolver struct {
	Client       CoprAPI
	BaseURL      string
	Owner        string
	OwnerIsGroup bool
	Confirm      ConfirmFunc
	Log          logrus.FieldLogger
}

func (r *CoprResolver) Kind() Kind { return KindCopr }

func (r *CoprResolver) owner() string {
	if r.OwnerIsGroup && !strings.HasPrefix(r.Owner, "@") {
		return "@" + r.Owner
	}
	return r.Owner
}

func (r *CoprResolver) Resolve(ctx context.Context, req Request) ([]BuildTarget, string, error) {
	var (
		build copr.Build
		ok    bool
		err   error
	)
	ref := ""
	if len(req.Reference.Values) > 0 {
		ref = req.Reference.Values[0]
	}
	if req.Reference.ByID {
		if ref == "" {
			return nil, "", ErrNoReference
		}
		build, err = r.byID(ctx, req, ref)
		if err != nil {
			return nil, ref, err
		}
	} else {
		build, ok, err = r.byVersion(ctx, req, ref)
		if err != nil || !ok {
			return nil, ref, err
		}
	}
	if ref == "" {
		ref = strconv.FormatInt(build.ID, 10)
	}
	targets := r.expand(build, req)
	if err := checkTargets(r.Log, req, targets); err != nil {
		return nil, ref, err
	}
	return targets, ref, nil
}

// VersionPattern matches ref as a whole dot- or dash-delimited token of a
// package version, so "5" matches "5.2.20240101000000" but not "15.2".
func VersionPattern(ref string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[.-])` + regexp.QuoteMeta(ref) + `([.-]|$)`)
}

func (r *CoprResolver) byVersion(ctx context.Context, req Request, ref string) (copr.Build, bool, error) {
	if ref == "" {
		r.Log.Infof("No reference given, selecting the latest build of %s in %s/%s.", req.Package, r.owner(), req.Repository)
	} else {
		r.Log.Infof("Gathering the fedora-copr-build information for the referenced %s.", ref)
	}
	builds, err := r.Client.ListBuilds(ctx, r.owner(), req.Repository)
	if err != nil {
		return copr.Build{}, false, fmt.Errorf("%w: list copr builds: %v", ErrUpstreamUnreachable, err)
	}
	var pattern *regexp.Regexp
	if ref != "" {
		pattern = VersionPattern(ref)
	}
	var candidates []copr.Build
	for _, b := range builds {
		if b.State == copr.StateFailed || b.SourcePackage.Name != req.Package || b.SourcePackage.Version == "" {
			continue
		}
		if pattern != nil && !pattern.MatchString(b.SourcePackage.Version) {
			continue
		}
		candidates = append(candidates, b)
	}
	if len(candidates) == 0 {
		r.Log.Warnf("No build for given reference %s found!", ref)
		r.Log.Warn(copr.BuildsURL(r.BaseURL, r.owner(), req.Repository, r.OwnerIsGroup))
		return copr.Build{}, false, nil
	}

	// Upstream lists newest first.
	selected := candidates[0]
	if selected.State != copr.StateRunning {
		return selected, true, nil
	}
	r.warnRunning(selected, req.Repository)
	yes, err := r.Confirm.ask(fmt.Sprintf("Build %d is still running. Continue with the newest finished build instead?", selected.ID))
	if err != nil {
		return copr.Build{}, false, err
	}
	if !yes {
		return copr.Build{}, false, ErrDeclined
	}
	for _, b := range candidates[1:] {
		if b.State != copr.StateRunning {
			r.Log.Infof("Using the older build %d instead.", b.ID)
			return b, true, nil
		}
	}
	r.Log.Warnf("No finished build for reference %s found.", ref)
	return copr.Build{}, false, nil
}

func (r *CoprResolver) byID(ctx context.Context, req Request, ref string) (copr.Build, error) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return copr.Build{}, fmt.Errorf("%w: invalid copr build id %q", ErrNotFound, ref)
	}
	r.Log.Infof("Gathering the fedora-copr-build information for the referenced buildID %d.", id)
	build, err := r.Client.GetBuild(ctx, id)
	if err != nil {
		return copr.Build{}, fmt.Errorf("%w: get copr build %d: %v", ErrUpstreamUnreachable, id, err)
	}
	if build.SourcePackage.Name != req.Package {
		return copr.Build{}, fmt.Errorf("%w: build %d points to owner %s, project %s, package %s",
			ErrOwnershipMismatch, id, build.OwnerName, build.ProjectName, build.SourcePackage.Name)
	}
	if build.State == copr.StateFailed {
		return copr.Build{}, fmt.Errorf("%w: build %d", ErrBuildFailed, id)
	}
	if build.State == copr.StateRunning {
		r.warnRunning(build, req.Repository)
		yes, err := r.Confirm.ask(fmt.Sprintf("Build %d is still running. Continue with it anyway?", id))
		if err != nil {
			return copr.Build{}, err
		}
		if !yes {
			return copr.Build{}, ErrDeclined
		}
	}
	return build, nil
}

func (r *CoprResolver) warnRunning(b copr.Build, project string) {
	r.Log.Warnf("There is currently %s build task, consider waiting for completion.", b.State)
	r.Log.Warnf("See the project's builds dashboard: %s", copr.BuildsURL(r.BaseURL, r.owner(), project, r.OwnerIsGroup))
}

// expand emits one target per requested entry whose chroot the build has.
func (r *CoprResolver) expand(b copr.Build, req Request) []BuildTarget {
	r.Log.Infof("Looking for a buildID for the %s version %s.", b.SourcePackage.Name, b.SourcePackage.Version)
	if ts, ok := BuildTime(b.SourcePackage.Version); ok {
		r.Log.Debugf("Build found built at %s", ts.Format(time.DateTime))
	}
	r.Log.Infof("Build URL: %s", copr.BuildURL(r.BaseURL, r.owner(), req.Repository, r.OwnerIsGroup, b.ID))

	var out []BuildTarget
	for _, e := range req.Targets {
		if !b.HasChroot(e.Chroot) {
			r.Log.Warnf("Build %d has no %s chroot, skipping target %s.", b.ID, e.Chroot, e.Key)
			continue
		}
		out = append(out, BuildTarget{
			BuildID: fmt.Sprintf("%d:%s", b.ID, e.Chroot),
			Compose: e.Compose,
			Chroot:  e.Chroot,
			Distro:  e.Distro,
		})
		r.Log.Infof("Assigned the copr buildID %d for testing on %s to the test batch.", b.ID, e.Compose)
	}
	return out
}

// BuildTime reads the YYYYmmddHHMMSS stamp Copr puts in the fourth dot
// field of a package version.
func BuildTime(version string) (time.Time, bool) {
	fields := strings.Split(version, ".")
	if len(fields) < 4 || len(fields[3]) < 14 {
		return time.Time{}, false
	}
	ts, err := time.Parse("20060102150405", fields[3][:14])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
