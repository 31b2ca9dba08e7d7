package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"enge/internal/artifact"
)

var (
	// ErrAmbiguousFilter is returned for a plan or test filter combined with
	// more than one plan.
	ErrAmbiguousFilter = errors.New("testfilter or planfilter cannot be used with multiple requested plans, specify one plan with additional filters per request")
	// ErrUpstreamUnreachable is returned when the tests repository cannot be reached.
	ErrUpstreamUnreachable = artifact.ErrUpstreamUnreachable
)

// StatusChecker answers with the HTTP status of a GET.
type StatusChecker interface {
	Status(ctx context.Context, url string) (int, string, error)
}

// ProbeRepository fails when the tests repository answers 404 or not at all.
func ProbeRepository(ctx context.Context, c StatusChecker, url string) error {
	code, reason, err := c.Status(ctx, url)
	if err != nil {
		return fmt.Errorf("%w: tests repository %s: %v", ErrUpstreamUnreachable, url, err)
	}
	if code == 404 {
		return fmt.Errorf("%w: tests repository %s returned status code of %d %s", ErrUpstreamUnreachable, url, code, reason)
	}
	return nil
}

// TestRun sends every plan to every target the reference resolves to.
type TestRun struct {
	Resolver   artifact.Resolver
	Dispatcher *Dispatcher
	Request    artifact.Request
	Plans      []string
	// Params is the template for each request; Plan is set per plan.
	Params RunParams
	DryRun bool
	Out    io.Writer
	Log    logrus.FieldLogger
}

// Execute resolves the reference once and submits plans x targets. A
// failed submission is logged and the batch goes on.
func (r *TestRun) Execute(ctx context.Context) error {
	if len(r.Plans) > 1 && (r.Params.PlanFilter != "" || r.Params.TestFilter != "") {
		return ErrAmbiguousFilter
	}
	targets, ref, err := r.Resolver.Resolve(ctx, r.Request)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		r.Log.Warnf("Nothing to submit for the %s reference %s.", r.Resolver.Kind(), ref)
		return nil
	}
	if !r.DryRun {
		if err := r.Dispatcher.Begin(); err != nil {
			return err
		}
	}

	for _, plan := range r.Plans {
		params := r.Params
		params.Plan = plan
		for _, t := range targets {
			payload := Build(t, params)
			if r.DryRun {
				out, err := json.MarshalIndent(payload, "", "    ")
				if err != nil {
					return err
				}
				fmt.Fprintf(r.Out, "\nDRY RUN  | Printing out requested payload:\n%s\n", out)
				continue
			}
			r.Log.Infof("Sending a test plan %s for %s build %s for %s to the Testing Farm.",
				lastSegment(plan), r.Resolver.Kind(), ref, t.Compose)
			_, err := r.Dispatcher.Submit(ctx, payload, Submission{
				Plan:         plan,
				Compose:      t.Compose,
				ArtifactID:   t.BuildID,
				ArtifactType: params.ArtifactType,
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.Log.Errorf("Submitting %s for %s failed: %v", plan, t.Compose, err)
			}
		}
	}
	return nil
}

func lastSegment(name string) string {
	name = strings.TrimRight(name, "/")
	return name[strings.LastIndex(name, "/")+1:]
}
