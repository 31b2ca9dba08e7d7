// Package archive keeps the plain-text lists of submitted tasks: the
// "latest" file rewritten by every test or rerun invocation and the
// timestamped archive files that are only ever appended to.
package archive

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrSourceMissing is returned when a requested task file does not exist.
	ErrSourceMissing = errors.New("task source does not exist")
	// ErrNoTasks is returned when a task source holds no task.
	ErrNoTasks = errors.New("there are no tasks to report for")
)

// FilePrefix starts the name of every archive file.
const FilePrefix = "enge_jobs_archive_"

// FileName is the archive file name for a run started at t, suffixed with
// the dot-joined tags.
func FileName(t time.Time, tags []string) string {
	return strings.Join(append([]string{FilePrefix + t.Format("20060102150405")}, tags...), ".")
}

// Writer records task references. It is single-writer; concurrent
// invocations against the same paths interleave lines.
type Writer struct {
	LatestPath  string
	ArchivePath string
}

func NewWriter(latestPath, archiveDir string, started time.Time, tags []string) *Writer {
	return &Writer{
		LatestPath:  latestPath,
		ArchivePath: filepath.Join(archiveDir, FileName(started, tags)),
	}
}

// Reset truncates the latest file. Call it once per invocation before the
// first Append.
func (w *Writer) Reset() error {
	if err := os.MkdirAll(filepath.Dir(w.LatestPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(w.LatestPath)
	if err != nil {
		return fmt.Errorf("reset %s: %w", w.LatestPath, err)
	}
	return f.Close()
}

// Append adds line to both files. Each call reopens the files in append
// mode so an interrupted run leaves complete lines behind.
func (w *Writer) Append(line string) error {
	for _, p := range []string{w.LatestPath, w.ArchivePath} {
		if err := appendLine(p, line); err != nil {
			return err
		}
	}
	return nil
}

func appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Close()
}

// Source says where to read task references from. The first non-empty of
// IDs, Files and Tag wins; otherwise the latest file is read.
type Source struct {
	IDs        []string
	Files      []string
	Tag        string
	LatestPath string
	ArchiveDir string
}

// Describe names the source for messages.
func (s Source) Describe() string {
	switch {
	case len(s.IDs) > 0:
		return "command line"
	case len(s.Files) > 0:
		return strings.Join(s.Files, ", ")
	case s.Tag != "":
		return fmt.Sprintf("archive files tagged %q in %s", s.Tag, s.ArchiveDir)
	}
	return s.LatestPath
}

// Tasks returns the non-empty lines of the source in order.
func (s Source) Tasks() ([]string, error) {
	var (
		lines []string
		err   error
	)
	switch {
	case len(s.IDs) > 0:
		lines = s.IDs
	case len(s.Files) > 0:
		for _, f := range s.Files {
			l, rerr := readLines(f)
			if rerr != nil {
				return nil, rerr
			}
			lines = append(lines, l...)
		}
	case s.Tag != "":
		lines, err = s.tagged()
	default:
		lines, err = readLines(s.LatestPath)
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: verify %s has at least one task in it", ErrNoTasks, s.Describe())
	}
	return out, nil
}

// tagged reads every archive file whose last dot-separated tag contains
// the tag, oldest first. Other files in the directory are ignored.
func (s Source) tagged() ([]string, error) {
	entries, err := os.ReadDir(s.ArchiveDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, s.ArchiveDir)
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), FilePrefix) {
			continue
		}
		parts := strings.Split(e.Name(), ".")
		if len(parts) > 1 && strings.Contains(parts[len(parts)-1], s.Tag) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	var lines []string
	for _, n := range names {
		l, err := readLines(filepath.Join(s.ArchiveDir, n))
		if err != nil {
			return nil, err
		}
		lines = append(lines, l...)
	}
	return lines, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
