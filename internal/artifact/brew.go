package artifact

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"enge/internal/catalog"
	"enge/internal/koji"
)

// KojiAPI is the part of the Koji client the resolver needs.
type KojiAPI interface {
	ListBuilds(ctx context.Context, prefix string) ([]koji.Build, error)
}

type BrewResolver struct {
	Client  KojiAPI
	Catalog catalog.Catalog
	// TaskURL is prefixed to a task id to link to it.
	TaskURL string
	Log     logrus.FieldLogger
}

type brewTask struct {
	id     int
	volume string
}

func (r *BrewResolver) Kind() Kind { return KindBrew }

func (r *BrewResolver) Resolve(ctx context.Context, req Request) ([]BuildTarget, string, error) {
	if len(req.Reference.Values) == 0 {
		return nil, "", ErrNoReference
	}
	builds, err := r.Client.ListBuilds(ctx, req.Package)
	if err != nil {
		return nil, "", fmt.Errorf("%w: list brew builds: %v", ErrUpstreamUnreachable, err)
	}

	var tasks []brewTask
	if req.Reference.ByID {
		r.Log.Infof("Gathering the brew build information for the %s task ID %s.", req.Package, req.Reference)
		tasks, err = tasksByID(builds, req.Reference.Values)
		if err != nil {
			return nil, "", err
		}
	} else {
		r.Log.Infof("Gathering the brew build information for the %s version %s.", req.Package, req.Reference)
		tasks = tasksByNVR(builds, req.Reference.Values)
	}

	r.Log.Info("Checking for available builds.")
	if len(tasks) == 0 {
		return nil, "", fmt.Errorf("%w: no suitable tasks for reference %s", ErrNotFound, req.Reference)
	}

	buckets := r.Catalog.EPELComposes()
	var (
		out []BuildTarget
		ids []string
	)
	for _, t := range tasks {
		id := strconv.Itoa(t.id)
		ids = append(ids, id)
		r.Log.Infof("Available build task ID %s for %s assigned.", id, t.volume)
		if r.TaskURL != "" {
			r.Log.Infof("LINK: %s%s", r.TaskURL, id)
		}
		bucket, ok := buckets[t.volume]
		if !ok {
			r.Log.Warnf("Task %s was built for volume %q which maps to no EPEL compose, skipping.", id, t.volume)
			continue
		}
		for _, e := range req.Targets {
			if !contains(bucket, e.Compose) {
				continue
			}
			r.Log.Infof("Assigning build id %s for testing on %s to test batch.", id, e.Compose)
			out = append(out, BuildTarget{BuildID: id, Compose: e.Compose, Chroot: e.Chroot, Distro: e.Distro})
		}
	}
	ref := strings.Join(ids, ",")
	if err := checkTargets(r.Log, req, out); err != nil {
		return nil, ref, err
	}
	return out, ref, nil
}

// tasksByNVR keeps the builds whose NVR contains any of refs, first seen
// task wins.
func tasksByNVR(builds []koji.Build, refs []string) []brewTask {
	seen := map[int]bool{}
	var tasks []brewTask
	for _, b := range builds {
		for _, ref := range refs {
			if !strings.Contains(b.NVR, ref) {
				continue
			}
			if !seen[b.TaskID] {
				seen[b.TaskID] = true
				tasks = append(tasks, brewTask{id: b.TaskID, volume: b.VolumeName})
			}
			break
		}
	}
	return tasks
}

func tasksByID(builds []koji.Build, refs []string) ([]brewTask, error) {
	seen := map[int]bool{}
	var tasks []brewTask
	for _, ref := range refs {
		id, err := strconv.Atoi(strings.TrimSpace(ref))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid brew task id %q", ErrNotFound, ref)
		}
		if seen[id] {
			continue
		}
		for _, b := range builds {
			if b.TaskID == id {
				seen[id] = true
				tasks = append(tasks, brewTask{id: id, volume: b.VolumeName})
				break
			}
		}
	}
	return tasks, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
