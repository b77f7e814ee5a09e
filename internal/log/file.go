package log

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// DefaultStream is the file stream of one-shot commands. A serving instance
// writes to its own stream so that replicas sharing a directory never
// interleave.
const DefaultStream = "cli"

const dateLayout = "2006-01-02"

var (
	streamPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	// filePattern matches <stream>-YYYY-MM-DD.jsonl.
	filePattern = regexp.MustCompile(`^(.+)-(\d{4}-\d{2}-\d{2})\.jsonl$`)
)

// StreamFile returns the file name of stream on day.
func StreamFile(stream string, day time.Time) string {
	return stream + "-" + day.UTC().Format(dateLayout) + ".jsonl"
}

// FileWriter appends to one daily JSONL file per stream. On each rotation
// it points <stream>-latest at the new file and prunes the stream's files
// older than the retention window.
type FileWriter struct {
	dir           string
	stream        string
	retentionDays int
	now           func() time.Time

	mu   sync.Mutex
	file *os.File
	day  string
}

// NewFileWriter opens today's file of stream in dir. A retentionDays of
// zero keeps every file.
func NewFileWriter(dir, stream string, retentionDays int) (*FileWriter, error) {
	return newFileWriter(dir, stream, retentionDays, time.Now)
}

func newFileWriter(dir, stream string, retentionDays int, now func() time.Time) (*FileWriter, error) {
	if stream == "" {
		stream = DefaultStream
	}
	if !streamPattern.MatchString(stream) {
		return nil, fmt.Errorf("invalid log stream name %q", stream)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	fw := &FileWriter{dir: dir, stream: stream, retentionDays: retentionDays, now: now}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.rotateLocked(); err != nil {
		return nil, err
	}
	return fw, nil
}

// Write implements io.Writer, switching files at UTC midnight.
func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.now().UTC().Format(dateLayout) != fw.day {
		if err := fw.rotateLocked(); err != nil {
			return 0, err
		}
	}
	return fw.file.Write(p)
}

// Path returns the file currently written to.
func (fw *FileWriter) Path() string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.file.Name()
}

// Close closes the underlying file.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.file == nil {
		return nil
	}
	err := fw.file.Close()
	fw.file = nil
	return err
}

func (fw *FileWriter) rotateLocked() error {
	now := fw.now()
	name := StreamFile(fw.stream, now)
	f, err := os.OpenFile(filepath.Join(fw.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	if fw.file != nil {
		fw.file.Close()
	}
	fw.file = f
	fw.day = now.UTC().Format(dateLayout)

	fw.link(name)
	if fw.retentionDays > 0 {
		prune(fw.dir, fw.stream, now.AddDate(0, 0, -fw.retentionDays))
	}
	return nil
}

// link swaps <stream>-latest to target. Failures only cost the convenience
// link.
func (fw *FileWriter) link(target string) {
	linkPath := filepath.Join(fw.dir, fw.stream+"-latest")
	tmpPath := linkPath + ".tmp"
	os.Remove(tmpPath)
	if err := os.Symlink(target, tmpPath); err != nil {
		return
	}
	_ = os.Rename(tmpPath, linkPath)
}

// Cleanup removes the files of every stream in dir older than
// retentionDays.
func Cleanup(dir string, retentionDays int) {
	prune(dir, "", time.Now().AddDate(0, 0, -retentionDays))
}

// prune removes stream files dated before cutoff. An empty stream matches
// every stream.
func prune(dir, stream string, cutoff time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoffDay := cutoff.UTC().Format(dateLayout)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := filePattern.FindStringSubmatch(entry.Name())
		if m == nil || (stream != "" && m[1] != stream) {
			continue
		}
		// Fixed-width dates compare lexically.
		if m[2] < cutoffDay {
			os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}
