package results

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformedReference is returned for a task reference without a UUID.
var ErrMalformedReference = errors.New("unrecognized task")

// NormalizeReference turns a request URL, an artifacts page URL or a bare
// UUID into the request URL under endpoint.
func NormalizeReference(raw, endpoint, artifactsURL string) (string, error) {
	endpoint = strings.TrimRight(endpoint, "/")
	artifactsURL = strings.TrimRight(artifactsURL, "/")
	task := strings.TrimRight(strings.TrimSpace(raw), "/")

	switch {
	case task == "":
		return "", fmt.Errorf("%w: empty reference", ErrMalformedReference)
	case strings.HasPrefix(task, endpoint):
	case artifactsURL != "" && strings.HasPrefix(task, artifactsURL):
		task = endpoint + strings.TrimPrefix(task, artifactsURL)
	default:
		var last string
		for _, part := range strings.Split(task, "/") {
			if part != "" {
				last = part
			}
		}
		id, err := uuid.Parse(last)
		if err != nil {
			return "", fmt.Errorf("%w %s", ErrMalformedReference, raw)
		}
		task = endpoint + "/" + id.String()
	}
	if _, err := uuid.Parse(TaskID(task)); err != nil {
		return "", fmt.Errorf("%w %s", ErrMalformedReference, raw)
	}
	return task, nil
}

// TaskID returns the last path segment of a request URL.
func TaskID(requestURL string) string {
	return requestURL[strings.LastIndex(requestURL, "/")+1:]
}
