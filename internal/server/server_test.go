package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"enge/internal/history"
	"enge/internal/results"
)

const (
	testSecret   = "s3cret"
	testEndpoint = "https://api.example/v0.1/requests"
	taskUUID     = "0b5e0f5c-3a1c-4f55-9a55-2a8c6b7d1e01"
)

type fakeReporter struct {
	urls []string
}

func (f *fakeReporter) Collect(ctx context.Context, url string) (*results.TaskResult, results.ExitCode, error) {
	f.urls = append(f.urls, url)
	return &results.TaskResult{
		UUID:       results.TaskID(url),
		URL:        url,
		TargetName: "RHEL-9",
		State:      "complete",
		Overall:    "failed",
		Testsuites: []results.TestsuiteResult{{Name: "/plans/tier0", Result: "FAILED"}},
	}, results.Failed, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *history.Ledger, *fakeReporter) {
	t.Helper()
	ledger, err := history.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	rep := &fakeReporter{}
	log, _ := logtest.NewNullLogger()
	handler, err := New(Config{
		History:      ledger,
		Reports:      rep,
		Endpoint:     testEndpoint,
		ArtifactsURL: "https://artifacts.example",
		BasePath:     "/v0",
		Auth:         AuthConfig{JWTSecret: testSecret},
		Log:          log,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, ledger, rep
}

func token(t *testing.T, secret, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func get(t *testing.T, url, bearer string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthIsPublic(t *testing.T) {
	srv, _, _ := newTestServer(t)
	res, body := get(t, srv.URL+"/v0/health", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, body)
	}
	if !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("unexpected health body %s", body)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, body := get(t, srv.URL+"/v0/submissions", "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d %s", res.StatusCode, body)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", envelope.Error.Code)
	}

	res, _ = get(t, srv.URL+"/v0/submissions", token(t, "wrong", "ci"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a foreign signature, got %d", res.StatusCode)
	}
	res, _ = get(t, srv.URL+"/v0/submissions", token(t, testSecret, ""))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without subject, got %d", res.StatusCode)
	}
}

func TestListSubmissions(t *testing.T) {
	srv, ledger, _ := newTestServer(t)
	ctx := context.Background()
	for i, tag := range []string{"nightly", "", "nightly"} {
		if err := ledger.Record(ctx, history.Entry{
			TaskID:       taskUUID[:len(taskUUID)-1] + string(rune('1'+i)),
			Plan:         "/plans/tier0",
			Compose:      "RHEL-9",
			ArtifactID:   "298",
			ArtifactType: "fedora-copr-build",
			Tag:          tag,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	res, body := get(t, srv.URL+"/v0/submissions?tag=nightly", token(t, testSecret, "ci"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, body)
	}
	var list submissionList
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("expected 2 tagged submissions, got %d", len(list.Items))
	}
	if list.Items[0].Tag != "nightly" || list.Items[0].Compose != "RHEL-9" {
		t.Fatalf("unexpected entry %+v", list.Items[0])
	}

	res, body = get(t, srv.URL+"/v0/submissions?limit=1", token(t, testSecret, "ci"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("limited list status %d: %s", res.StatusCode, body)
	}
	_ = json.Unmarshal(body, &list)
	if len(list.Items) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(list.Items))
	}
}

func TestGetReport(t *testing.T) {
	srv, _, rep := newTestServer(t)

	res, body := get(t, srv.URL+"/v0/reports/"+taskUUID, token(t, testSecret, "ci"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report status %d: %s", res.StatusCode, body)
	}
	var out ReportResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if out.ExitCode != int(results.Failed) {
		t.Fatalf("expected exit code %d, got %d", results.Failed, out.ExitCode)
	}
	if out.Task == nil || out.Task.UUID != taskUUID || len(out.Task.Testsuites) != 1 {
		t.Fatalf("unexpected task %+v", out.Task)
	}
	if len(rep.urls) != 1 || rep.urls[0] != testEndpoint+"/"+taskUUID {
		t.Fatalf("collector called with %v", rep.urls)
	}
}

func TestGetReportMalformed(t *testing.T) {
	srv, _, rep := newTestServer(t)

	res, body := get(t, srv.URL+"/v0/reports/not-a-task", token(t, testSecret, "ci"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, body)
	}
	if len(rep.urls) != 0 {
		t.Fatalf("collector should not run for a malformed reference")
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv, _, _ := newTestServer(t)
	res, body := get(t, srv.URL+"/v0/openapi.json", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	if !strings.Contains(string(body), "bearerAuth") || !strings.Contains(string(body), "/v0/reports/{uuid}") {
		t.Fatalf("openapi document misses routes or security: %s", body)
	}
}

func TestOpenAPIDocumentConcurrent(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var wg sync.WaitGroup
	bodies := make([][]byte, 8)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := http.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i, b := range bodies {
		if !strings.Contains(string(b), "bearerAuth") {
			t.Fatalf("response %d misses the security scheme: %q", i, b)
		}
	}
}
