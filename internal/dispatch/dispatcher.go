package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"enge/internal/history"
	"enge/internal/poll"
	"enge/internal/testingfarm"
)

// Submitter is the part of the Testing Farm client the dispatcher needs.
type Submitter interface {
	Submit(ctx context.Context, payload any, header http.Header) (testingfarm.SubmitResult, error)
	Status(ctx context.Context, url string) (int, string, error)
	ArtifactsLink(id string) string
}

// Recorder stores the ids of submitted requests.
type Recorder interface {
	Reset() error
	Append(line string) error
}

// Ledger keeps a queryable record of submissions.
type Ledger interface {
	Record(ctx context.Context, e history.Entry) error
}

// Submission describes what a payload was sent for.
type Submission struct {
	Plan         string
	Compose      string
	ArtifactID   string
	ArtifactType string
}

type Dispatcher struct {
	Client  Submitter
	APIKey  string
	Archive Recorder
	// Ledger is optional.
	Ledger Ledger
	Tag    string
	// Wait is how many seconds to wait for the artifacts page after each
	// submission; 0 prints the summary right away.
	Wait         int
	PollInterval time.Duration
	// SummaryHeader prints a banner before the first summary.
	SummaryHeader bool
	Out           io.Writer
	Log           logrus.FieldLogger

	headerDone bool
}

// Begin truncates the latest task file. Call it once before submitting.
func (d *Dispatcher) Begin() error {
	return d.Archive.Reset()
}

// Submit sends payload and records the returned id. A response without an id
// is logged and yields "" with no error so a batch can continue.
func (d *Dispatcher) Submit(ctx context.Context, payload any, s Submission) (string, error) {
	res, err := d.Client.Submit(ctx, payload, testingfarm.AuthHeader(d.APIKey))
	if err != nil {
		return "", fmt.Errorf("submit request: %w", err)
	}
	if res.ID == "" {
		d.Log.Errorf("Request was not accepted (status %d):\n%s", res.StatusCode, strings.TrimSpace(string(res.Body)))
		return "", nil
	}
	link := d.Client.ArtifactsLink(res.ID)
	summary := d.summary(s, link)
	if d.Wait > 0 {
		d.AwaitCompletion(ctx, link, summary)
	} else {
		fmt.Fprintln(d.Out, summary)
	}
	if err := d.Record(ctx, res.ID, s); err != nil {
		return res.ID, err
	}
	return res.ID, nil
}

// Record appends id to the task files and the ledger.
func (d *Dispatcher) Record(ctx context.Context, id string, s Submission) error {
	if err := d.Archive.Append(id); err != nil {
		return fmt.Errorf("record %s: %w", id, err)
	}
	if d.Ledger == nil {
		return nil
	}
	err := d.Ledger.Record(ctx, history.Entry{
		TaskID:       id,
		Plan:         s.Plan,
		Compose:      s.Compose,
		ArtifactID:   s.ArtifactID,
		ArtifactType: s.ArtifactType,
		Tag:          d.Tag,
	})
	if err != nil {
		d.Log.Warnf("Unable to add %s to the submission history: %v", id, err)
	}
	return nil
}

// AwaitCompletion polls link about once per interval for up to Wait
// attempts until it answers 200. It never fails: on timeout the summary is
// printed with a note that the request is still being processed.
func (d *Dispatcher) AwaitCompletion(ctx context.Context, link, summary string) {
	interval := d.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	var (
		code   int
		reason string
	)
	err := poll.Until(ctx, interval, d.Wait, func(ctx context.Context, attempt int) (bool, error) {
		c, r, err := d.Client.Status(ctx, link)
		if err != nil {
			c, r = 0, err.Error()
		}
		code, reason = c, r
		fmt.Fprintf(d.Out, "\x1b[2KWaiting for a successful response for %d seconds. Current response is: %d %s\r", d.Wait-attempt+1, code, reason)
		return code == http.StatusOK, nil
	})
	fmt.Fprint(d.Out, "\x1b[2K")
	if err == nil {
		fmt.Fprintf(d.Out, "\nResponse successful!\n\n%s\n", summary)
		return
	}
	if !errors.Is(err, poll.ErrExhausted) {
		d.Log.Debugf("Stopped waiting for %s: %v", link, err)
	}
	fmt.Fprintf(d.Out, "Processing the request takes longer this time.\n"+
		"The request response is still %d %s\n"+
		"Here is the link for the requested job, try refreshing the website after a couple of minutes.\n\n%s\n",
		code, reason, summary)
}

func (d *Dispatcher) summary(s Submission, link string) string {
	var b strings.Builder
	if d.SummaryHeader && !d.headerDone {
		b.WriteString("\n~ SUMMARY ~~~~~~~~\n")
		d.headerDone = true
	}
	fmt.Fprintf(&b, "   Targeted system:  %s\n", s.Compose)
	fmt.Fprintf(&b, "   Plan:             %s\n", s.Plan)
	fmt.Fprintf(&b, "   Test results:     %s\n", link)
	b.WriteString(strings.Repeat("~", 50))
	return b.String()
}
