package engesdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPI(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v0/submissions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"code":"unauthorized"}}`)
			return
		}
		assert.Equal(t, "nightly", r.URL.Query().Get("tag"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"items":[{"id":2,"task_id":"abc","plan":"/plans/a","compose":"RHEL-9","tag":"nightly","submitted_at":"2024-05-01T10:00:00Z"}]}`)
	})
	mux.HandleFunc("/v0/reports/abc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"exit_code":2,"task":{"uuid":"abc","state":"complete","overall":"failed","testsuites":[{"name":"/plans/a","result":"FAILED"}]}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListSubmissions(t *testing.T) {
	srv := newAPI(t)
	items, err := New(srv.URL, "tok").ListSubmissions(context.Background(), "nightly", 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "abc", items[0].TaskID)
	assert.Equal(t, 2024, items[0].SubmittedAt.Year())
}

func TestGetReport(t *testing.T) {
	srv := newAPI(t)
	rep, err := New(srv.URL+"/", "tok").GetReport(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.ExitCode)
	require.NotNil(t, rep.Task)
	assert.Equal(t, "FAILED", rep.Task.Testsuites[0].Result)
}

func TestAPIError(t *testing.T) {
	srv := newAPI(t)
	_, err := New(srv.URL, "wrong").ListSubmissions(context.Background(), "nightly", 5)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "unauthorized")
}
