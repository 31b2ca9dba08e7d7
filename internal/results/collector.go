// Package results fetches submitted Testing Farm requests and folds their
// XUnit documents into a normalized result tree.
package results

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/sirupsen/logrus"

	"enge/internal/poll"
	"enge/internal/testingfarm"
)

// DefaultPollInterval is how often a pending request is refetched when
// waiting for it.
const DefaultPollInterval = 30 * time.Second

// TaskResult is one reported request. Degraded is set when no XUnit detail
// could be read and only the coarse request result is known.
type TaskResult struct {
	UUID          string            `json:"uuid"`
	URL           string            `json:"url"`
	TargetName    string            `json:"target_name"`
	Arch          string            `json:"arch"`
	Plan          string            `json:"plan"`
	State         string            `json:"state"`
	Overall       string            `json:"overall"`
	Summary       string            `json:"summary"`
	Degraded      bool              `json:"degraded"`
	PipelineError bool              `json:"pipeline_error"`
	Testsuites    []TestsuiteResult `json:"testsuites"`
}

type TestsuiteResult struct {
	Name      string           `json:"name"`
	Arch      string           `json:"arch"`
	Result    string           `json:"result"`
	Testcases []TestcaseResult `json:"testcases"`
}

type TestcaseResult struct {
	Name   string `json:"name"`
	Result string `json:"result"`
	LogURL string `json:"log_url,omitempty"`
}

// ResultSet keeps task results in the order they were collected.
type ResultSet struct {
	Tasks []*TaskResult
	index map[string]*TaskResult
}

func NewResultSet() *ResultSet {
	return &ResultSet{index: map[string]*TaskResult{}}
}

func (rs *ResultSet) Add(tr *TaskResult) {
	if _, ok := rs.index[tr.UUID]; ok {
		return
	}
	rs.index[tr.UUID] = tr
	rs.Tasks = append(rs.Tasks, tr)
}

func (rs *ResultSet) Get(uuid string) (*TaskResult, bool) {
	tr, ok := rs.index[uuid]
	return tr, ok
}

func (rs *ResultSet) Len() int { return len(rs.Tasks) }

// Fetcher is the part of the Testing Farm client the collector needs.
type Fetcher interface {
	GetRequest(ctx context.Context, requestURL string) (testingfarm.Request, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Options struct {
	SkipPassed   bool
	Wait         bool
	PollInterval time.Duration
	DownloadLogs bool
	LogsDir      string
	Color        bool
	// TargetWidth pads the target column of the state banner.
	TargetWidth int
}

type Collector struct {
	Client       Fetcher
	Endpoint     string
	ArtifactsURL string
	Opts         Options
	Log          logrus.FieldLogger
}

// FetchAll collects every reference in order. Malformed references are
// skipped. The returned code is the most severe status seen.
func (c *Collector) FetchAll(ctx context.Context, refs []string) (*ResultSet, ExitCode, error) {
	rs := NewResultSet()
	code := Passed
	c.Log.Info("Reporting for the requested tasks:")
	for _, raw := range refs {
		url, err := NormalizeReference(raw, c.Endpoint, c.ArtifactsURL)
		if err != nil {
			c.Log.Warn(err.Error())
			code = code.Raise(NoResult)
			continue
		}
		if _, seen := rs.Get(TaskID(url)); seen {
			c.Log.Debugf("Skipping '%s', already reported", url)
			continue
		}
		tr, taskCode, err := c.Collect(ctx, url)
		if err != nil {
			return rs, code, err
		}
		code = code.Raise(taskCode)
		if tr != nil {
			rs.Add(tr)
		}
	}
	return rs, code, nil
}

// Collect fetches one request. A nil result means the request has nothing
// to report: it is still pending, unreachable or skipped as passed. The
// error is only set when ctx ends.
func (c *Collector) Collect(ctx context.Context, url string) (*TaskResult, ExitCode, error) {
	c.Log.Debugf("Getting results of '%s'", url)
	req, err := c.Client.GetRequest(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Passed, ctx.Err()
		}
		c.Log.Errorf("Unable to get %s: %v", url, err)
		return nil, Errored, nil
	}
	code := Passed
	c.banner(url, req)
	if req.State == testingfarm.StateError {
		code = code.Raise(Errored)
	}

	switch {
	case c.Opts.Wait && !testingfarm.Finished(req.State):
		req, err = c.waitFinished(ctx, url)
		if err != nil {
			return nil, code, err
		}
		c.Log.Info("Job finished!")
		if req.State == testingfarm.StateError {
			code = code.Raise(Errored)
		}
	case !c.Opts.Wait && req.State != testingfarm.StateComplete && req.State != testingfarm.StateError:
		c.Log.Warnf("Request %s is still running, wait for it to finish or use --wait.", url)
		c.Log.Info("Skipping to the next request.")
		return nil, code.Raise(NoResult), nil
	}

	tr := &TaskResult{
		UUID:       req.ID,
		URL:        url,
		TargetName: req.Compose(),
		Arch:       requestArch(req),
		Plan:       req.Plan(),
		State:      req.State,
	}
	if tr.UUID == "" {
		tr.UUID = TaskID(url)
	}
	if req.Result != nil {
		tr.Overall = req.Result.Overall
		tr.Summary = req.Result.Summary
	}

	if req.State == testingfarm.StateError {
		c.Log.Errorf("Request ended up in %s state, because %s.", c.colorize("ERROR", text.BgRed), tr.Summary)
		c.Log.Errorf("See more details on the result page %s", c.artifactsLink(tr.UUID))
		return tr, code.Raise(Errored), nil
	}

	xunitURL := ""
	if req.Result != nil {
		xunitURL = req.Result.XUnitURL
	}
	var doc *XUnit
	if xunitURL == "" {
		err = fmt.Errorf("no xunit url")
	} else {
		var data []byte
		if data, err = c.Client.Fetch(ctx, xunitURL); err == nil {
			doc, err = ParseXUnit(data)
		}
	}
	if err != nil {
		c.Log.Errorf("Unable to find the xml to parse: %v", err)
		c.Log.Error("Trying to fall back to the request results.")
		if tr.Overall != "" && tr.Summary != "" {
			c.Log.Infof("Result: %s", tr.Overall)
			c.Log.Infof("Summary: %s", tr.Summary)
		} else {
			c.Log.Info("Couldn't find any valuable information.")
			c.Log.Infof("Please consult with %s", url)
		}
		tr.Degraded = true
		return tr, code.Raise(Errored), nil
	}

	tr.Overall = doc.OverallResult
	code = code.Raise(OverallCode(doc.OverallResult))
	if doc.OverallResult == "error" && doc.PipelineOnly() {
		c.Log.Errorf("Potential pipeline ERROR, please verify the accuracy of the assessment at %s", url)
		c.Log.Errorf("Result summary: %s", tr.Summary)
		tr.PipelineError = true
		return tr, code, nil
	}
	if c.Opts.SkipPassed && strings.EqualFold(doc.OverallResult, "passed") {
		c.Log.Debugf("Skipping '%s' as the overall result is pass", url)
		return nil, code, nil
	}

	c.fold(ctx, tr, doc)
	return tr, code, nil
}

func (c *Collector) fold(ctx context.Context, tr *TaskResult, doc *XUnit) {
	logDir := filepath.Join(c.Opts.LogsDir, tr.UUID+"_logs")
	if c.Opts.DownloadLogs {
		c.Log.Info("  > Downloading the log files.")
	}
	for _, s := range doc.Testsuites {
		suite := TestsuiteResult{
			Name:   s.ShortName(),
			Arch:   s.Arch(),
			Result: strings.ToUpper(s.Result),
		}
		c.Log.Debugf("Processing results of testsuite '%s'", suite.Name)
		if c.Opts.SkipPassed && suite.Result == "PASSED" {
			c.Log.Debugf("Skipping testsuite '%s' as the result is pass", suite.Name)
			continue
		}
		for _, tc := range s.Testcases {
			res := TestcaseResult{Name: tc.Name, Result: strings.ToUpper(tc.Result), LogURL: tc.LogURL()}
			if c.Opts.SkipPassed && res.Result == "PASSED" {
				c.Log.Debugf("Skipping test '%s/%s' as the result is pass", suite.Name, tc.Name)
				continue
			}
			suite.Testcases = append(suite.Testcases, res)
			if c.Opts.DownloadLogs && res.LogURL != "" {
				path := filepath.Join(logDir, lastSegment(suite.Name), fmt.Sprintf("%s_%s.log", tr.TargetName, lastSegment(tc.Name)))
				if err := c.download(ctx, res.LogURL, path); err != nil {
					c.Log.Warnf("Unable to download %s: %v", res.LogURL, err)
				}
			}
		}
		tr.Testsuites = append(tr.Testsuites, suite)
	}
	if c.Opts.DownloadLogs {
		c.Log.Infof("    > Logfiles stored in %s", logDir)
	}
}

func (c *Collector) download(ctx context.Context, url, path string) error {
	data, err := c.Client.Fetch(ctx, url)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Collector) waitFinished(ctx context.Context, url string) (testingfarm.Request, error) {
	interval := c.Opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	var req testingfarm.Request
	err := poll.Until(ctx, interval, 0, func(ctx context.Context, attempt int) (bool, error) {
		if attempt > 1 {
			c.Log.Debugf("Waiting for the job to finish, attempt %d", attempt)
		}
		r, err := c.Client.GetRequest(ctx, url)
		if err != nil {
			c.Log.Warnf("Unable to get %s: %v", url, err)
			return false, nil
		}
		req = r
		return testingfarm.Finished(r.State), nil
	})
	return req, err
}

func (c *Collector) banner(url string, req testingfarm.Request) {
	state := strings.ToUpper(req.State)
	var bg text.Color
	switch req.State {
	case testingfarm.StateComplete:
		bg = text.BgGreen
	case testingfarm.StateQueued:
		bg = text.BgBlue
	case testingfarm.StateRunning:
		bg = text.BgCyan
	case testingfarm.StateError:
		bg = text.BgYellow
	}
	target := fmt.Sprintf("%-*s %-20s", c.Opts.TargetWidth, req.Compose(), req.Plan())
	if c.Opts.Color {
		target = text.Colors{text.FgBlue, text.Bold}.Sprint(target)
	}
	if bg != 0 {
		state = c.colorize(state, bg)
	}
	c.Log.Infof("%s %s %s", target, url, state)
}

func (c *Collector) colorize(s string, bg text.Color) string {
	if !c.Opts.Color {
		return s
	}
	return text.Colors{bg, text.FgBlack}.Sprint(s)
}

func (c *Collector) artifactsLink(id string) string {
	if c.ArtifactsURL == "" {
		return strings.TrimRight(c.Endpoint, "/") + "/" + id
	}
	return strings.TrimRight(c.ArtifactsURL, "/") + "/" + id
}

func requestArch(req testingfarm.Request) string {
	if len(req.EnvironmentsRequested) == 0 {
		return ""
	}
	a, _ := req.EnvironmentsRequested[0]["arch"].(string)
	return a
}

func lastSegment(name string) string {
	name = strings.TrimRight(name, "/")
	return name[strings.LastIndex(name, "/")+1:]
}
