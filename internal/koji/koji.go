// Package koji is a read-mostly client for a Koji (Brew) hub.
package koji

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kolo/xmlrpc"
)

type Koji struct {
	sessionID  int64
	sessionKey string
	callnum    int
	xmlrpc     *xmlrpc.Client
	server     string
	transport  http.RoundTripper
}

// Build is the subset of a listBuilds entry used for artifact resolution.
type Build struct {
	BuildID     int    `xmlrpc:"build_id"`
	PackageName string `xmlrpc:"package_name"`
	NVR         string `xmlrpc:"nvr"`
	TaskID      int    `xmlrpc:"task_id"`
	VolumeName  string `xmlrpc:"volume_name"`
	State       int    `xmlrpc:"state"`
}

// RoundTrip implements the RoundTripper interface, using the configured
// transport. When a session has been established, also pass along the
// session credentials; the XML-RPC helpers don't allow us to adjust the
// URL per-call.
func (k *Koji) RoundTrip(req *http.Request) (*http.Response, error) {
	if k.sessionKey == "" {
		return k.transport.RoundTrip(req)
	}

	rClone := req.Clone(req.Context())
	values := rClone.URL.Query()
	values.Add("session-id", fmt.Sprintf("%v", k.sessionID))
	values.Add("session-key", k.sessionKey)
	values.Add("callnum", fmt.Sprintf("%v", k.callnum))
	rClone.URL.RawQuery = values.Encode()

	// Each call is given a unique callnum.
	k.callnum++

	return k.transport.RoundTrip(rClone)
}

// New returns a client for the hub at server. A nil transport uses
// http.DefaultTransport.
func New(server string, transport http.RoundTripper) (*Koji, error) {
	if transport == nil {
		transport = http.DefaultTransport
	}
	k := &Koji{server: server, transport: transport}
	client, err := xmlrpc.NewClient(server, k)
	if err != nil {
		return nil, err
	}
	k.xmlrpc = client
	return k, nil
}

// ListBuilds calls listBuilds(prefix=prefix).
func (k *Koji) ListBuilds(ctx context.Context, prefix string) ([]Build, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Koji takes keyword arguments as a trailing struct flagged with __starstar.
	args := []interface{}{map[string]interface{}{
		"prefix":     prefix,
		"__starstar": true,
	}}
	var builds []Build
	if err := k.xmlrpc.Call("listBuilds", args, &builds); err != nil {
		return nil, fmt.Errorf("listBuilds %s: %w", prefix, err)
	}
	return builds, nil
}

// GSSAPILogin establishes a session through the hub's ssllogin endpoint
// using the caller's Kerberos credentials.
func (k *Koji) GSSAPILogin() error {
	u, err := url.Parse(k.server)
	if err != nil {
		return err
	}
	token, err := negotiateToken("HTTP@" + u.Hostname())
	if err != nil {
		return fmt.Errorf("gssapi: %w", err)
	}
	login, err := xmlrpc.NewClient(strings.TrimRight(k.server, "/")+"/ssllogin", negotiateTransport{token: token, next: k.transport})
	if err != nil {
		return err
	}
	defer login.Close()
	var reply struct {
		SessionID  int64  `xmlrpc:"session-id"`
		SessionKey string `xmlrpc:"session-key"`
	}
	if err := login.Call("sslLogin", nil, &reply); err != nil {
		return fmt.Errorf("sslLogin: %w", err)
	}
	k.sessionID = reply.SessionID
	k.sessionKey = reply.SessionKey
	k.callnum = 0
	return nil
}

// Logout ends the session
func (k *Koji) Logout() error {
	if k.sessionKey == "" {
		return nil
	}
	if err := k.xmlrpc.Call("logout", nil, nil); err != nil {
		return err
	}
	k.sessionKey = ""
	return nil
}

type negotiateTransport struct {
	token string
	next  http.RoundTripper
}

func (t negotiateTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Negotiate "+t.token)
	return t.next.RoundTrip(r)
}
