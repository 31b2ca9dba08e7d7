// Package httpx holds the retrying HTTP client shared by the API clients.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	rh "github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// APIError wraps non-2xx responses.
type APIError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: url=%s status=%d body=%s", e.URL, e.StatusCode, strings.TrimSpace(e.Body))
}

type Options struct {
	RetryMax int
	Timeout  time.Duration
	Logger   *logrus.Logger
}

// NewClient returns a standard *http.Client backed by retryablehttp. Only
// GET, HEAD and OPTIONS are retried; other methods, and requests whose
// context went through Once, are sent a single time. When retries run out
// the last response is returned as is so callers can read its body.
func NewClient(opts Options) *http.Client {
	c := rh.NewClient()
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.Logger = NewLeveledLogger(opts.Logger)
	c.ErrorHandler = rh.PassthroughErrorHandler
	if opts.Timeout > 0 {
		c.HTTPClient.Timeout = opts.Timeout
	}
	return &http.Client{
		Transport: &router{
			retry: &rh.RoundTripper{Client: c},
			once:  c.HTTPClient,
		},
	}
}

type onceKey struct{}

// Once marks requests made with ctx as not retryable.
func Once(ctx context.Context) context.Context {
	return context.WithValue(ctx, onceKey{}, true)
}

type router struct {
	retry http.RoundTripper
	once  *http.Client
}

func (t *router) RoundTrip(req *http.Request) (*http.Response, error) {
	if once, _ := req.Context().Value(onceKey{}).(bool); once {
		return t.once.Do(req)
	}
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return t.retry.RoundTrip(req)
	}
	return t.once.Do(req)
}

// GetJSON decodes the JSON body of a GET on url into out.
func GetJSON(ctx context.Context, hc *http.Client, url string, header http.Header, out any) error {
	body, err := Get(ctx, hc, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// Get returns the body of a successful GET on url.
func Get(ctx context.Context, hc *http.Client, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{URL: url, StatusCode: resp.StatusCode, Body: string(b)}
	}
	return b, nil
}
