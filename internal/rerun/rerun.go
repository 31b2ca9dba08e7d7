// Package rerun resubmits the failed or errored plans of earlier requests.
package rerun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"

	"enge/internal/dispatch"
	"enge/internal/results"
)

// ErrMultipleEnvironments is returned when an original request targeted more
// than one environment; failed plans cannot be matched back to one of them.
var ErrMultipleEnvironments = errors.New("multiple environments were requested in the original task, refusing to rerun it")

// Filter selects the testsuite result that qualifies a plan.
type Filter string

const (
	FilterAny    Filter = ""
	FilterError  Filter = "ERROR"
	FilterFailed Filter = "FAILED"
)

// volatile keys are assigned by the server and rejected on submission.
var volatile = []string{
	"id", "user_id", "token_id", "notes", "result", "run", "user",
	"queued_time", "run_time", "created", "updated", "state",
}

// Candidate is a task with plans to run again.
type Candidate struct {
	UUID   string
	URL    string
	Target string
	// Plans are the qualifying plan names joined with "|".
	Plans string
	// KeepSelection resubmits the original fmf plan selection unchanged.
	// It is set for tasks that errored before reporting any plan.
	KeepSelection bool
}

func (c Candidate) planList() []string {
	return strings.Split(c.Plans, "|")
}

// Qualify returns the tasks of rs with at least one testsuite matching f.
// Tasks without per-suite detail because the whole request errored qualify
// under FilterAny and FilterError with their original plan.
func Qualify(rs *results.ResultSet, f Filter) []Candidate {
	var out []Candidate
	for _, tr := range rs.Tasks {
		var (
			names []string
			keep  bool
		)
		if len(tr.Testsuites) == 0 && (tr.State == "error" || tr.PipelineError) {
			if f != FilterFailed && tr.Plan != "" {
				names = append(names, tr.Plan)
				keep = true
			}
		}
		for _, s := range tr.Testsuites {
			if f == FilterAny || s.Result == string(f) {
				names = append(names, s.Name)
			}
		}
		if len(names) == 0 {
			continue
		}
		out = append(out, Candidate{
			UUID:          tr.UUID,
			URL:           tr.URL,
			Target:        tr.TargetName,
			Plans:         strings.Join(names, "|"),
			KeepSelection: keep,
		})
	}
	return out
}

// Table lists the candidates one per row.
func Table(cands []Candidate) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Original Request", "Target", "Re-run Plans"})
	for _, c := range cands {
		tw.AppendRow(table.Row{c.UUID, c.Target, strings.Join(c.planList(), "\n")})
	}
	tw.Style().Options.SeparateRows = true
	return tw
}

// RawFetcher returns the stored request document.
type RawFetcher interface {
	GetRequestRaw(ctx context.Context, requestURL string) (map[string]any, error)
}

// BuildPayload turns the original request of c into a new submission. The
// plan name is narrowed to the qualifying plans unless the original request
// errored outright or c keeps its selection, in which case the original
// fmf name and plan filter are resubmitted as they were.
func BuildPayload(ctx context.Context, f RawFetcher, c Candidate, log logrus.FieldLogger) (map[string]any, error) {
	doc, err := f.GetRequestRaw(ctx, c.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c.UUID, err)
	}
	envs, _ := doc["environments_requested"].([]any)
	if len(envs) > 1 {
		return nil, fmt.Errorf("%w: %s", ErrMultipleEnvironments, c.UUID)
	}

	if state, _ := doc["state"].(string); state == "error" || c.KeepSelection {
		log.Infof("The original plan filtering will be used for %s, since no plan from the original request finished successfully.", c.UUID)
	} else if fmf := fmfOf(doc); fmf != nil {
		fmf["name"] = c.Plans
	}

	for _, k := range volatile {
		delete(doc, k)
	}
	doc["environments"] = doc["environments_requested"]
	delete(doc, "environments_requested")
	return doc, nil
}

func fmfOf(doc map[string]any) map[string]any {
	test, _ := doc["test"].(map[string]any)
	fmf, _ := test["fmf"].(map[string]any)
	return fmf
}

// artifactOf returns the first artifact id and type of a payload.
func artifactOf(doc map[string]any) (id, typ string) {
	envs, _ := doc["environments"].([]any)
	if len(envs) == 0 {
		return "", ""
	}
	env, _ := envs[0].(map[string]any)
	arts, _ := env["artifacts"].([]any)
	if len(arts) == 0 {
		return "", ""
	}
	a, _ := arts[0].(map[string]any)
	id, _ = a["id"].(string)
	typ, _ = a["type"].(string)
	return id, typ
}

type Rerun struct {
	Client     RawFetcher
	Dispatcher *dispatch.Dispatcher
	Filter     Filter
	// DryRun stops after the qualification table.
	DryRun bool
	Out    io.Writer
	Log    logrus.FieldLogger
}

// Execute qualifies the tasks of rs and resubmits them. Every payload is
// built before the first submission, so a refused task submits nothing.
func (r *Rerun) Execute(ctx context.Context, rs *results.ResultSet) error {
	cands := Qualify(rs, r.Filter)
	if len(cands) == 0 {
		r.Log.Info("None of the provided tasks qualify for a re-run.")
		r.Log.Debug("All the results seem to be PASSing, time to celebrate!")
		return nil
	}
	r.Log.Info("The following plans qualify for a re-run:")
	fmt.Fprintln(r.Out, Table(cands).Render())
	if r.DryRun {
		return nil
	}

	payloads := make([]map[string]any, 0, len(cands))
	for _, c := range cands {
		p, err := BuildPayload(ctx, r.Client, c, r.Log)
		if err != nil {
			return err
		}
		payloads = append(payloads, p)
	}

	if err := r.Dispatcher.Begin(); err != nil {
		return err
	}
	for i, p := range payloads {
		c := cands[i]
		id, typ := artifactOf(p)
		_, err := r.Dispatcher.Submit(ctx, p, dispatch.Submission{
			Plan:         c.Plans,
			Compose:      c.Target,
			ArtifactID:   id,
			ArtifactType: typ,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.Log.Errorf("Resubmitting %s failed: %v", c.UUID, err)
		}
	}
	return nil
}
