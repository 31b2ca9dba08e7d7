// Package artifact resolves a build reference in Copr or Brew into the
// per-compose build targets a test request is sent for.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"enge/internal/catalog"
)

var (
	ErrUpstreamUnreachable = errors.New("upstream build system unreachable")
	ErrOwnershipMismatch   = errors.New("build does not belong to the requested package")
	ErrNotFound            = errors.New("no build found for the reference")
	ErrBuildFailed         = errors.New("build reports as failed")
	ErrNoReference         = errors.New("no reference given")
	ErrDeclined            = errors.New("declined to continue")
	ErrUnmatchedTarget     = errors.New("no build for the requested target")
	// ErrAmbiguousTarget is returned for a target key missing from the catalog.
	ErrAmbiguousTarget = catalog.ErrUnknownTarget
)

// Kind selects the build system.
type Kind string

const (
	KindCopr Kind = "copr"
	KindBrew Kind = "brew"
)

// BuildTarget is one installable build for one compose.
type BuildTarget struct {
	// BuildID is "<copr build>:<chroot>" for Copr and the task id for Brew.
	BuildID string
	Compose string
	Chroot  string
	Distro  string
}

// Reference is what the user asked for: version or NVR substrings, or
// numeric build/task ids when ByID is set.
type Reference struct {
	Values []string
	ByID   bool
}

func (r Reference) String() string {
	return strings.Join(r.Values, ",")
}

type Request struct {
	Package    string
	Repository string
	Reference  Reference
	Targets    []catalog.Entry
	// TargetsNamed is set when the user listed the targets. Every named
	// target must then get a build; the whole-catalog default only warns.
	TargetsNamed bool
}

// checkTargets reports the requested targets that got no build target.
func checkTargets(log logrus.FieldLogger, req Request, got []BuildTarget) error {
	var missing []string
	for _, e := range req.Targets {
		found := false
		for _, t := range got {
			if t.Compose == e.Compose && t.Chroot == e.Chroot {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, e.Key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if req.TargetsNamed {
		return fmt.Errorf("%w: %s", ErrUnmatchedTarget, strings.Join(missing, ", "))
	}
	for _, k := range missing {
		log.Warnf("No build matches target %s, it will not be tested.", k)
	}
	return nil
}

// Resolver turns a Request into build targets and the canonical reference
// that was used.
type Resolver interface {
	Kind() Kind
	Resolve(ctx context.Context, req Request) ([]BuildTarget, string, error)
}

// ConfirmFunc asks a yes/no question. A nil ConfirmFunc answers yes.
type ConfirmFunc func(question string) (bool, error)

func (f ConfirmFunc) ask(question string) (bool, error) {
	if f == nil {
		return true, nil
	}
	return f(question)
}
