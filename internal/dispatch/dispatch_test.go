package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enge/internal/archive"
	"enge/internal/artifact"
	"enge/internal/history"
	"enge/internal/httpx"
	"enge/internal/testingfarm"
)

type fakeClient struct {
	payloads []any
	headers  []http.Header
	ids      []string
	statuses []int
	err      error
}

func (f *fakeClient) Submit(ctx context.Context, payload any, header http.Header) (testingfarm.SubmitResult, error) {
	if f.err != nil {
		return testingfarm.SubmitResult{}, f.err
	}
	f.payloads = append(f.payloads, payload)
	f.headers = append(f.headers, header)
	id := ""
	if len(f.ids) > 0 {
		id, f.ids = f.ids[0], f.ids[1:]
	}
	if id == "" {
		return testingfarm.SubmitResult{StatusCode: 400, Body: []byte(`{"message":"bad compose"}`)}, nil
	}
	return testingfarm.SubmitResult{StatusCode: 200, ID: id}, nil
}

func (f *fakeClient) Status(ctx context.Context, url string) (int, string, error) {
	if len(f.statuses) == 0 {
		return 404, "Not Found", nil
	}
	code := f.statuses[0]
	f.statuses = f.statuses[1:]
	return code, http.StatusText(code), nil
}

func (f *fakeClient) ArtifactsLink(id string) string { return "https://artifacts.example/" + id }

type fakeResolver struct {
	targets []artifact.BuildTarget
	calls   int
}

func (f *fakeResolver) Kind() artifact.Kind { return artifact.KindCopr }

func (f *fakeResolver) Resolve(ctx context.Context, req artifact.Request) ([]artifact.BuildTarget, string, error) {
	f.calls++
	return f.targets, "pr123", nil
}

type memLedger struct{ entries []history.Entry }

func (m *memLedger) Record(ctx context.Context, e history.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func testParams() RunParams {
	return RunParams{
		GitURL:        "https://github.com/oamg/convert2rhel",
		GitBranch:     "main",
		Plan:          "/plans/tier0",
		Arch:          "x86_64",
		ArtifactType:  testingfarm.ArtifactCopr,
		Package:       "convert2rhel",
		BusinessUnit:  "oamg",
		ParallelLimit: 4,
	}
}

var el9 = artifact.BuildTarget{BuildID: "298:epel-9-x86_64", Compose: "RHEL-9", Chroot: "epel-9-x86_64", Distro: "RHEL 9"}

func TestBuildIsIdempotent(t *testing.T) {
	a, err := json.Marshal(Build(el9, testParams()))
	require.NoError(t, err)
	b, err := json.Marshal(Build(el9, testParams()))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func TestBuildPayloadShape(t *testing.T) {
	p := testParams()
	p.UEFI = true
	data, err := json.Marshal(Build(el9, p))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	want := map[string]any{
		"test": map[string]any{"fmf": map[string]any{
			"url":  "https://github.com/oamg/convert2rhel",
			"ref":  "main",
			"name": "/plans/tier0",
		}},
		"environments": []any{map[string]any{
			"arch": "x86_64",
			"os":   map[string]any{"compose": "RHEL-9"},
			"artifacts": []any{map[string]any{
				"id":       "298:epel-9-x86_64",
				"type":     "fedora-copr-build",
				"packages": []any{"convert2rhel"},
			}},
			"settings": map[string]any{"provisioning": map[string]any{"tags": map[string]any{"BusinessUnit": "oamg"}}},
			"tmt":      map[string]any{"context": map[string]any{"distro": "RHEL 9", "arch": "x86_64", "boot_method": "uefi"}},
			"hardware": map[string]any{"boot": map[string]any{"method": "uefi"}},
		}},
		"settings": map[string]any{"pipeline": map[string]any{"parallel-limit": float64(4)}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	assert.NotContains(t, string(data), "Bearer")
}

func TestBuildOmitsUnsetFilters(t *testing.T) {
	p := testParams()
	p.ParallelLimit = 0
	p.PlanFilter = "tag:sanity"
	data, err := json.Marshal(Build(el9, p))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"plan_filter":"tag:sanity"`)
	assert.NotContains(t, string(data), "test_filter")
	assert.NotContains(t, string(data), "parallel-limit")
	assert.Contains(t, string(data), `"boot_method":"bios"`)
}

func newDispatcher(t *testing.T, c *fakeClient) (*Dispatcher, *archive.Writer, *memLedger, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	w := archive.NewWriter(filepath.Join(dir, "latest"), filepath.Join(dir, "archive"), time.Now(), nil)
	l, _ := logtest.NewNullLogger()
	ledger := &memLedger{}
	out := &bytes.Buffer{}
	return &Dispatcher{Client: c, APIKey: "k3y", Archive: w, Ledger: ledger, Tag: "nightly", Out: out, Log: l}, w, ledger, out
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Fields(string(b))
}

func TestTestRunSubmitsPlansTimesTargets(t *testing.T) {
	c := &fakeClient{ids: []string{"id-1", "", "id-3", "id-4"}}
	d, w, ledger, out := newDispatcher(t, c)
	require.NoError(t, os.MkdirAll(filepath.Dir(w.ArchivePath), 0o755))
	require.NoError(t, os.WriteFile(w.ArchivePath, []byte("older\n"), 0o644))
	require.NoError(t, os.WriteFile(w.LatestPath, []byte("stale\n"), 0o644))

	el10 := artifact.BuildTarget{BuildID: "298:epel-10-x86_64", Compose: "RHEL-10", Chroot: "epel-10-x86_64", Distro: "RHEL 10"}
	res := &fakeResolver{targets: []artifact.BuildTarget{el9, el10}}
	l, hook := logtest.NewNullLogger()
	d.Log = l
	run := &TestRun{
		Resolver:   res,
		Dispatcher: d,
		Plans:      []string{"/plans/a", "/plans/b"},
		Params:     testParams(),
		Out:        out,
		Log:        l,
	}
	require.NoError(t, run.Execute(context.Background()))

	assert.Equal(t, 1, res.calls)
	require.Len(t, c.payloads, 4)
	assert.Equal(t, "/plans/a", c.payloads[0].(testingfarm.Payload).Test.FMF.Name)
	assert.Equal(t, "RHEL-10", c.payloads[1].(testingfarm.Payload).Environments[0].OS.Compose)
	assert.Equal(t, "/plans/b", c.payloads[3].(testingfarm.Payload).Test.FMF.Name)
	assert.Equal(t, "Bearer k3y", c.headers[0].Get("Authorization"))

	// The second submission had no id: it is logged, not recorded.
	assert.Equal(t, []string{"id-1", "id-3", "id-4"}, readLines(t, w.LatestPath))
	assert.Equal(t, []string{"older", "id-1", "id-3", "id-4"}, readLines(t, w.ArchivePath))
	require.Len(t, ledger.entries, 3)
	assert.Equal(t, history.Entry{TaskID: "id-3", Plan: "/plans/b", Compose: "RHEL-9", ArtifactID: "298:epel-9-x86_64", ArtifactType: testingfarm.ArtifactCopr, Tag: "nightly"}, ledger.entries[1])
	assert.Contains(t, out.String(), "   Test results:     https://artifacts.example/id-4")

	var rejected bool
	for _, e := range hook.AllEntries() {
		if strings.Contains(e.Message, "bad compose") {
			rejected = true
		}
	}
	assert.True(t, rejected)
}

func TestTestRunAmbiguousFilter(t *testing.T) {
	c := &fakeClient{ids: []string{"id-1"}}
	d, w, _, out := newDispatcher(t, c)
	res := &fakeResolver{targets: []artifact.BuildTarget{el9}}
	p := testParams()
	p.TestFilter = "tag:x"
	run := &TestRun{Resolver: res, Dispatcher: d, Plans: []string{"/plans/a", "/plans/b"}, Params: p, Out: out, Log: d.Log}

	err := run.Execute(context.Background())
	assert.ErrorIs(t, err, ErrAmbiguousFilter)
	assert.Zero(t, res.calls)
	assert.Empty(t, c.payloads)
	_, statErr := os.Stat(w.LatestPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestTestRunDryRun(t *testing.T) {
	c := &fakeClient{}
	d, w, _, out := newDispatcher(t, c)
	run := &TestRun{Resolver: &fakeResolver{targets: []artifact.BuildTarget{el9}}, Dispatcher: d, Plans: []string{"/plans/a"}, Params: testParams(), DryRun: true, Out: out, Log: d.Log}

	require.NoError(t, run.Execute(context.Background()))
	assert.Empty(t, c.payloads)
	assert.Contains(t, out.String(), "DRY RUN  | Printing out requested payload:")
	assert.Contains(t, out.String(), `"id": "298:epel-9-x86_64"`)
	_, err := os.Stat(w.LatestPath)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestTestRunNothingResolved(t *testing.T) {
	c := &fakeClient{}
	d, _, _, out := newDispatcher(t, c)
	run := &TestRun{Resolver: &fakeResolver{}, Dispatcher: d, Plans: []string{"/plans/a"}, Params: testParams(), Out: out, Log: d.Log}
	require.NoError(t, run.Execute(context.Background()))
	assert.Empty(t, c.payloads)
}

func TestAwaitCompletion(t *testing.T) {
	c := &fakeClient{ids: []string{"id-1"}, statuses: []int{404, 404, 200}}
	d, _, _, out := newDispatcher(t, c)
	d.Wait = 5
	d.PollInterval = time.Millisecond

	_, err := d.Submit(context.Background(), Build(el9, testParams()), Submission{Plan: "/plans/a", Compose: "RHEL-9"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Response successful!")
	assert.Contains(t, out.String(), "Targeted system:  RHEL-9")
	assert.Empty(t, c.statuses)
}

func TestAwaitCompletionTimesOut(t *testing.T) {
	c := &fakeClient{ids: []string{"id-1"}}
	d, w, _, out := newDispatcher(t, c)
	d.Wait = 2
	d.PollInterval = time.Millisecond

	_, err := d.Submit(context.Background(), Build(el9, testParams()), Submission{Plan: "/plans/a", Compose: "RHEL-9"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "The request response is still 404 Not Found")
	assert.Contains(t, out.String(), "https://artifacts.example/id-1")
	assert.Equal(t, []string{"id-1"}, readLines(t, w.LatestPath))
}

func TestSummaryHeaderOnce(t *testing.T) {
	c := &fakeClient{ids: []string{"a", "b"}}
	d, _, _, out := newDispatcher(t, c)
	d.SummaryHeader = true
	for i := 0; i < 2; i++ {
		_, err := d.Submit(context.Background(), struct{}{}, Submission{Plan: "/plans/a", Compose: "RHEL-9"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, strings.Count(out.String(), "~ SUMMARY ~"))
}

func TestProbeRepository(t *testing.T) {
	assert.NoError(t, ProbeRepository(context.Background(), &fakeClient{statuses: []int{200}}, "https://git.example/repo"))
	err := ProbeRepository(context.Background(), &fakeClient{statuses: []int{404}}, "https://git.example/repo")
	assert.ErrorIs(t, err, artifact.ErrUpstreamUnreachable)
}

func TestSubmitTransportError(t *testing.T) {
	d, w, _, _ := newDispatcher(t, &fakeClient{err: errors.New("connection reset")})
	_, err := d.Submit(context.Background(), struct{}{}, Submission{})
	assert.ErrorContains(t, err, "connection reset")
	_, statErr := os.Stat(w.LatestPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestSubmitRejectedOnceAndLogged(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"message":"compose RHEL-9 is unsupported"}`)
	}))
	defer srv.Close()

	tf := testingfarm.New(srv.URL, "https://artifacts.example", "k3y", httpx.NewClient(httpx.Options{RetryMax: 3}))
	d, w, ledger, _ := newDispatcher(t, &fakeClient{})
	d.Client = tf
	l, hook := logtest.NewNullLogger()
	d.Log = l

	id, err := d.Submit(context.Background(), Build(el9, testParams()), Submission{Plan: "/plans/a", Compose: "RHEL-9"})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "status 500")
	assert.Contains(t, hook.LastEntry().Message, "compose RHEL-9 is unsupported")
	assert.Empty(t, ledger.entries)
	_, statErr := os.Stat(w.LatestPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}
