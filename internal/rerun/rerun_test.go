package rerun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enge/internal/dispatch"
	"enge/internal/results"
	"enge/internal/testingfarm"
)

const original = `{
  "id": "%[1]s",
  "user_id": "u-1",
  "token_id": "t-1",
  "state": "%[2]s",
  "created": "2024-05-01T10:00:00",
  "updated": "2024-05-01T11:00:00",
  "result": {"overall": "failed"},
  "run": {"artifacts": "x"},
  "notes": [],
  "test": {"fmf": {"url": "https://git.example/tests", "ref": "main", "name": "/plans/tier0"}},
  "environments_requested": [
    {"arch": "x86_64", "os": {"compose": "RHEL-9"},
     "artifacts": [{"id": "298", "type": "fedora-copr-build", "packages": ["pkg"]}]}
    %[3]s
  ],
  "settings": {"pipeline": {"parallel-limit": 4}}
}`

type farm struct {
	mu        sync.Mutex
	srv       *httptest.Server
	docs      map[string]string
	submitted []map[string]any
}

func newFarm(t *testing.T) *farm {
	f := &farm{docs: map[string]string{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPost {
			var m map[string]any
			_ = json.NewDecoder(r.Body).Decode(&m)
			f.submitted = append(f.submitted, m)
			fmt.Fprintf(w, `{"id":"new-%d"}`, len(f.submitted))
			return
		}
		doc, ok := f.docs[strings.TrimPrefix(r.URL.Path, "/requests/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, doc)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *farm) add(id, state string, extraEnv bool) string {
	extra := ""
	if extraEnv {
		extra = `, {"arch": "aarch64", "os": {"compose": "RHEL-9"}}`
	}
	f.docs[id] = fmt.Sprintf(original, id, state, extra)
	return f.srv.URL + "/requests/" + id
}

func nullLog() *logrus.Logger {
	log, _ := logtest.NewNullLogger()
	return log
}

type memArchive struct {
	resets int
	lines  []string
}

func (m *memArchive) Reset() error { m.resets++; m.lines = nil; return nil }

func (m *memArchive) Append(line string) error { m.lines = append(m.lines, line); return nil }

func resultSet(f *farm) *results.ResultSet {
	rs := results.NewResultSet()
	rs.Add(&results.TaskResult{
		UUID: "aaa", URL: f.add("aaa", "complete", false), TargetName: "RHEL-9", Plan: "/plans/tier0", State: "complete",
		Testsuites: []results.TestsuiteResult{
			{Name: "/plans/tier0/basic", Result: "FAILED"},
			{Name: "/plans/tier0/upgrade", Result: "ERROR"},
		},
	})
	rs.Add(&results.TaskResult{
		UUID: "bbb", URL: f.add("bbb", "error", false), TargetName: "RHEL-8", Plan: "/plans/tier0", State: "error",
	})
	rs.Add(&results.TaskResult{
		UUID: "ccc", URL: f.add("ccc", "complete", false), TargetName: "RHEL-10", Plan: "/plans/tier1", State: "complete",
		Testsuites: []results.TestsuiteResult{{Name: "/plans/tier1/basic", Result: "PASSED"}},
	})
	return rs
}

func TestQualify(t *testing.T) {
	rs := resultSet(newFarm(t))

	failed := Qualify(rs, FilterFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "aaa", failed[0].UUID)
	assert.Equal(t, "/plans/tier0/basic", failed[0].Plans)

	errored := Qualify(rs, FilterError)
	require.Len(t, errored, 2)
	assert.Equal(t, "/plans/tier0/upgrade", errored[0].Plans)
	assert.Equal(t, Candidate{UUID: "bbb", URL: rs.Tasks[1].URL, Target: "RHEL-8", Plans: "/plans/tier0", KeepSelection: true}, errored[1])
	assert.False(t, errored[0].KeepSelection)

	all := Qualify(rs, FilterAny)
	require.Len(t, all, 3)
	assert.Equal(t, "/plans/tier0/basic|/plans/tier0/upgrade", all[0].Plans)
}

func TestBuildPayloadStripsVolatileFields(t *testing.T) {
	f := newFarm(t)
	c := Candidate{UUID: "aaa", URL: f.add("aaa", "complete", false), Target: "RHEL-9", Plans: "/plans/a|/plans/b"}

	p, err := BuildPayload(context.Background(), testingfarm.New(f.srv.URL+"/requests", "", "", nil), c, nullLog())
	require.NoError(t, err)

	for _, k := range []string{"id", "state", "result", "created", "updated", "user", "user_id", "token_id", "notes", "run", "environments_requested"} {
		assert.NotContains(t, p, k)
	}
	require.Contains(t, p, "environments")
	assert.Len(t, p["environments"], 1)
	assert.Equal(t, "/plans/a|/plans/b", fmfOf(p)["name"])
	assert.Equal(t, "main", fmfOf(p)["ref"])

	id, typ := artifactOf(p)
	assert.Equal(t, "298", id)
	assert.Equal(t, "fedora-copr-build", typ)
}

func TestBuildPayloadKeepsPlanOfErroredRequest(t *testing.T) {
	f := newFarm(t)
	c := Candidate{UUID: "bbb", URL: f.add("bbb", "error", false), Plans: "/plans/other"}
	log, hook := logtest.NewNullLogger()

	p, err := BuildPayload(context.Background(), testingfarm.New(f.srv.URL+"/requests", "", "", nil), c, log)
	require.NoError(t, err)
	assert.Equal(t, "/plans/tier0", fmfOf(p)["name"])
	assert.Contains(t, hook.LastEntry().Message, "original plan filtering")
}

func TestPipelineErrorKeepsPlanFilter(t *testing.T) {
	f := newFarm(t)
	url := f.add("eee", "complete", false)
	f.docs["eee"] = strings.Replace(f.docs["eee"], `"name": "/plans/tier0"`, `"name": null, "plan_filter": "tag:sanity"`, 1)
	rs := results.NewResultSet()
	rs.Add(&results.TaskResult{UUID: "eee", URL: url, TargetName: "RHEL-9", Plan: "tag:sanity", State: "complete", PipelineError: true})

	cands := Qualify(rs, FilterError)
	require.Len(t, cands, 1)
	require.True(t, cands[0].KeepSelection)

	p, err := BuildPayload(context.Background(), testingfarm.New(f.srv.URL+"/requests", "", "", nil), cands[0], nullLog())
	require.NoError(t, err)
	assert.Nil(t, fmfOf(p)["name"])
	assert.Equal(t, "tag:sanity", fmfOf(p)["plan_filter"])
}

func TestBuildPayloadMultipleEnvironments(t *testing.T) {
	f := newFarm(t)
	c := Candidate{UUID: "ddd", URL: f.add("ddd", "complete", true), Plans: "/plans/a"}

	_, err := BuildPayload(context.Background(), testingfarm.New(f.srv.URL+"/requests", "", "", nil), c, nullLog())
	assert.ErrorIs(t, err, ErrMultipleEnvironments)
}

func newRerun(f *farm, filter Filter, out io.Writer) (*Rerun, *memArchive) {
	client := testingfarm.New(f.srv.URL+"/requests", "https://artifacts.example", "key", nil)
	arch := &memArchive{}
	log := nullLog()
	return &Rerun{
		Client: client,
		Dispatcher: &dispatch.Dispatcher{
			Client:        client,
			APIKey:        "key",
			Archive:       arch,
			SummaryHeader: true,
			Out:           out,
			Log:           log,
		},
		Filter: filter,
		Out:    out,
		Log:    log,
	}, arch
}

func TestExecute(t *testing.T) {
	f := newFarm(t)
	rs := resultSet(f)
	var out bytes.Buffer
	r, arch := newRerun(f, FilterAny, &out)

	require.NoError(t, r.Execute(context.Background(), rs))

	require.Len(t, f.submitted, 3)
	assert.Equal(t, "/plans/tier0/basic|/plans/tier0/upgrade", f.submitted[0]["test"].(map[string]any)["fmf"].(map[string]any)["name"])
	assert.Equal(t, "/plans/tier0", f.submitted[1]["test"].(map[string]any)["fmf"].(map[string]any)["name"])
	assert.Equal(t, 1, arch.resets)
	assert.Equal(t, []string{"new-1", "new-2", "new-3"}, arch.lines)
	assert.Equal(t, 1, strings.Count(out.String(), "~ SUMMARY ~"))
	assert.Contains(t, strings.ToLower(out.String()), "re-run plans")
	assert.Contains(t, out.String(), "https://artifacts.example/new-2")
}

func TestExecuteDryRun(t *testing.T) {
	f := newFarm(t)
	rs := resultSet(f)
	var out bytes.Buffer
	r, arch := newRerun(f, FilterFailed, &out)
	r.DryRun = true

	require.NoError(t, r.Execute(context.Background(), rs))
	assert.Empty(t, f.submitted)
	assert.Zero(t, arch.resets)
	assert.Contains(t, out.String(), "aaa")
	assert.NotContains(t, out.String(), "bbb")
}

func TestExecuteRefusesBeforeSubmitting(t *testing.T) {
	f := newFarm(t)
	rs := resultSet(f)
	rs.Add(&results.TaskResult{
		UUID: "ddd", URL: f.add("ddd", "complete", true), TargetName: "RHEL-9", State: "complete",
		Testsuites: []results.TestsuiteResult{{Name: "/plans/x", Result: "FAILED"}},
	})
	r, arch := newRerun(f, FilterFailed, io.Discard)

	err := r.Execute(context.Background(), rs)
	assert.ErrorIs(t, err, ErrMultipleEnvironments)
	assert.Empty(t, f.submitted)
	assert.Zero(t, arch.resets)
}

func TestExecuteNothingQualifies(t *testing.T) {
	f := newFarm(t)
	rs := results.NewResultSet()
	rs.Add(&results.TaskResult{UUID: "ccc", URL: f.add("ccc", "complete", false), State: "complete",
		Testsuites: []results.TestsuiteResult{{Name: "/plans/ok", Result: "PASSED"}}})
	var out bytes.Buffer
	r, _ := newRerun(f, FilterFailed, &out)

	require.NoError(t, r.Execute(context.Background(), rs))
	assert.Empty(t, out.String())
	assert.Empty(t, f.submitted)
}
