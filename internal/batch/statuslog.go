// Package batch discovers videos under a root, runs pose-tracking inference
// on each, and records per-item outcomes in an append-only status log.
package batch

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
)

// Status is a recorded batch outcome.
type Status string

const (
	StatusOK      Status = "OK"
	StatusFail    Status = "FAIL"
	StatusUnknown Status = ""
)

// StatusLog is a tab-separated append-only log of per-item outcomes. Later
// entries for the same key override earlier ones. Safe for one writer.
type StatusLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewStatusLog(path string) *StatusLog {
	return &StatusLog{path: path, now: time.Now}
}

// Append records an outcome for key. The file is opened per write and not
// held open across a run.
func (l *StatusLog) Append(key string, status Status, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening status log: %w", err)
	}
	defer f.Close()

	message = strings.ReplaceAll(message, "\t", " ")
	message = strings.ReplaceAll(message, "\n", " ")
	line := fmt.Sprintf("%s\t%s\t%s\t%s\n", key, status, l.now().Format(time.RFC3339), message)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("appending status log: %w", err)
	}
	return nil
}

// LastStatus returns the most recent status recorded for key, or
// StatusUnknown when the key has never been logged.
func (l *StatusLog) LastStatus(key string) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, fmt.Errorf("opening status log: %w", err)
	}
	defer f.Close()

	last := StatusUnknown
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "\t", 4)
		if len(fields) < 2 || fields[0] != key {
			continue
		}
		switch Status(fields[1]) {
		case StatusOK:
			last = StatusOK
		case StatusFail:
			last = StatusFail
		}
	}
	if err := scanner.Err(); err != nil {
		return StatusUnknown, fmt.Errorf("reading status log: %w", err)
	}
	return last, nil
}

// Entries returns the latest entry per key, for reporting.
func (l *StatusLog) Entries() (map[string]Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Status{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening status log: %w", err)
	}
	defer f.Close()

	out := map[string]Status{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "\t", 4)
		if len(fields) < 2 {
			continue
		}
		out[fields[0]] = Status(fields[1])
	}
	return out, scanner.Err()
}
