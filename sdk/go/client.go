// Package engesdk is a client for the enge report API.
package engesdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal enge HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Reports are collected live, so
// the timeout is generous.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     2 * time.Minute,
	}
}

// Submission is one recorded Testing Farm request.
type Submission struct {
	ID           int64     `json:"id"`
	TaskID       string    `json:"task_id"`
	Plan         string    `json:"plan"`
	Compose      string    `json:"compose"`
	ArtifactID   string    `json:"artifact_id"`
	ArtifactType string    `json:"artifact_type"`
	Tag          string    `json:"tag,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

type Testcase struct {
	Name   string `json:"name"`
	Result string `json:"result"`
	LogURL string `json:"log_url,omitempty"`
}

type Testsuite struct {
	Name      string     `json:"name"`
	Arch      string     `json:"arch"`
	Result    string     `json:"result"`
	Testcases []Testcase `json:"testcases"`
}

// Task is the normalized result of one request.
type Task struct {
	UUID          string      `json:"uuid"`
	URL           string      `json:"url"`
	TargetName    string      `json:"target_name"`
	Arch          string      `json:"arch"`
	Plan          string      `json:"plan"`
	State         string      `json:"state"`
	Overall       string      `json:"overall"`
	Summary       string      `json:"summary"`
	Degraded      bool        `json:"degraded"`
	PipelineError bool        `json:"pipeline_error"`
	Testsuites    []Testsuite `json:"testsuites"`
}

// Report pairs a task with the exit status enge report would use for it.
// Task is nil while the request has nothing to report.
type Report struct {
	ExitCode int   `json:"exit_code"`
	Task     *Task `json:"task"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health reports whether the server answers.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "v0/health", nil)
}

// ListSubmissions returns the newest submissions, optionally for one tag.
// A limit of 0 uses the server default.
func (c *Client) ListSubmissions(ctx context.Context, tag string, limit int) ([]Submission, error) {
	q := url.Values{}
	if tag != "" {
		q.Set("tag", tag)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "v0/submissions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Submission `json:"items"`
	}
	err := c.get(ctx, endpoint, &resp)
	return resp.Items, err
}

// GetReport collects the results of request uuid.
func (c *Client) GetReport(ctx context.Context, uuid string) (Report, error) {
	var resp Report
	err := c.get(ctx, "v0/reports/"+url.PathEscape(uuid), &resp)
	return resp, err
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/"+strings.TrimLeft(endpoint, "/"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
