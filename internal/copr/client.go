// Package copr is a minimal client for the Copr API v3 build endpoints.
package copr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"enge/internal/httpx"
)

// Build states used by the resolvers.
const (
	StateFailed    = "failed"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
)

type SourcePackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	URL     string `json:"url"`
}

type Build struct {
	ID            int64         `json:"id"`
	State         string        `json:"state"`
	Chroots       []string      `json:"chroots"`
	OwnerName     string        `json:"ownername"`
	ProjectName   string        `json:"projectname"`
	SourcePackage SourcePackage `json:"source_package"`
}

// HasChroot reports whether the build produced chroot.
func (b Build) HasChroot(chroot string) bool {
	for _, c := range b.Chroots {
		if c == chroot {
			return true
		}
	}
	return false
}

type buildList struct {
	Items []Build `json:"items"`
}

// Client talks to a Copr frontend.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: hc}
}

// ListBuilds returns the builds of owner/project in the order Copr reports
// them, newest first.
func (c *Client) ListBuilds(ctx context.Context, owner, project string) ([]Build, error) {
	q := url.Values{}
	q.Set("ownername", owner)
	q.Set("projectname", project)
	var resp buildList
	if err := httpx.GetJSON(ctx, c.HTTPClient, c.BaseURL+"/api_3/build/list?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) GetBuild(ctx context.Context, id int64) (Build, error) {
	var b Build
	err := httpx.GetJSON(ctx, c.HTTPClient, fmt.Sprintf("%s/api_3/build/%d", c.BaseURL, id), nil, &b)
	return b, err
}

// BuildsURL is the web dashboard listing the project builds.
func BuildsURL(baseURL, owner, project string, ownerIsGroup bool) string {
	segs := []string{"coprs"}
	if ownerIsGroup {
		segs = append(segs, "g")
	}
	segs = append(segs, strings.TrimPrefix(owner, "@"), project, "builds")
	return strings.TrimRight(baseURL, "/") + "/" + path.Join(segs...) + "/"
}

// BuildURL is the web page of a single build.
func BuildURL(baseURL, owner, project string, ownerIsGroup bool, id int64) string {
	return strings.TrimSuffix(BuildsURL(baseURL, owner, project, ownerIsGroup), "builds/") + fmt.Sprintf("build/%d", id)
}
