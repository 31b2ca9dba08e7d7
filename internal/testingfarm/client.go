// Package testingfarm is a minimal Testing Farm API client.
package testingfarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"enge/internal/httpx"
)

// APIError wraps non-2xx responses.
type APIError = httpx.APIError

// Client talks to the requests endpoint and the artifacts storage.
type Client struct {
	Endpoint     string
	ArtifactsURL string
	APIKey       string
	HTTPClient   *http.Client
}

// New creates a client with sane defaults.
func New(endpoint, artifactsURL, apiKey string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		Endpoint:     strings.TrimRight(endpoint, "/"),
		ArtifactsURL: strings.TrimRight(artifactsURL, "/"),
		APIKey:       apiKey,
		HTTPClient:   hc,
	}
}

// AuthHeader carries the bearer token next to, never inside, a payload.
func AuthHeader(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+apiKey)
	return h
}

// SubmitResult is the outcome of a POST. ID is empty when the body did not
// carry one.
type SubmitResult struct {
	StatusCode int
	Body       []byte
	ID         string
}

// Submit posts payload to the requests endpoint once. A response without an
// id is not an error; callers inspect SubmitResult.ID.
func (c *Client) Submit(ctx context.Context, payload any, header http.Header) (SubmitResult, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return SubmitResult{}, err
	}
	req, err := http.NewRequestWithContext(httpx.Once(ctx), http.MethodPost, c.Endpoint, &buf)
	if err != nil {
		return SubmitResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return SubmitResult{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmitResult{}, err
	}
	res := SubmitResult{StatusCode: resp.StatusCode, Body: b}
	var created struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(b, &created) == nil {
		res.ID = created.ID
	}
	return res, nil
}

// GetRequest fetches a request by its full URL.
func (c *Client) GetRequest(ctx context.Context, requestURL string) (Request, error) {
	var r Request
	err := httpx.GetJSON(ctx, c.HTTPClient, requestURL, nil, &r)
	return r, err
}

// GetRequestRaw fetches a request keeping every field the server returned.
func (c *Client) GetRequestRaw(ctx context.Context, requestURL string) (map[string]any, error) {
	var m map[string]any
	err := httpx.GetJSON(ctx, c.HTTPClient, requestURL, nil, &m)
	return m, err
}

// Status returns the HTTP status code and reason of a single GET on url.
// Non-2xx is not an error.
func (c *Client) Status(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(httpx.Once(ctx), http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, http.StatusText(resp.StatusCode), nil
}

// Fetch returns the body of a GET on url, such as an XUnit document or a log.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	return httpx.Get(ctx, c.HTTPClient, url, nil)
}

// RequestURL is the API URL of request id.
func (c *Client) RequestURL(id string) string {
	return fmt.Sprintf("%s/%s", c.Endpoint, id)
}

// ArtifactsLink is the artifacts storage page of request id.
func (c *Client) ArtifactsLink(id string) string {
	return fmt.Sprintf("%s/%s", c.ArtifactsURL, id)
}
