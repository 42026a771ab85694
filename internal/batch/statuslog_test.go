package batch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStatusLogAppendAndLastStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.tsv")
	log := NewStatusLog(path)

	if err := log.Append("videos/a.mp4", StatusFail, "exit code 1"); err != nil {
		t.Fatal(err)
	}
	if err := log.Append("videos/a.mp4", StatusOK, ""); err != nil {
		t.Fatal(err)
	}
	if err := log.Append("videos/b.mp4", StatusFail, "boom"); err != nil {
		t.Fatal(err)
	}

	st, err := log.LastStatus("videos/a.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if st != StatusOK {
		t.Fatalf("latest entry must win: got %s", st)
	}

	st, _ = log.LastStatus("videos/b.mp4")
	if st != StatusFail {
		t.Fatalf("b.mp4 = %s, want FAIL", st)
	}

	st, _ = log.LastStatus("videos/unseen.mp4")
	if st != StatusUnknown {
		t.Fatalf("never-logged key must be Unknown, got %q", st)
	}
}

func TestStatusLogMissingFile(t *testing.T) {
	log := NewStatusLog(filepath.Join(t.TempDir(), "absent.tsv"))
	st, err := log.LastStatus("anything")
	if err != nil || st != StatusUnknown {
		t.Fatalf("missing log must read as Unknown: %v %q", err, st)
	}
}

func TestStatusLogLineFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.tsv")
	log := NewStatusLog(path)
	log.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	if err := log.Append("videos/a.mp4", StatusOK, "all good"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	fields := strings.Split(strings.TrimSuffix(string(data), "\n"), "\t")
	if len(fields) != 4 {
		t.Fatalf("expected 4 tab-separated fields, got %v", fields)
	}
	if fields[0] != "videos/a.mp4" || fields[1] != "OK" || fields[3] != "all good" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if _, err := time.Parse(time.RFC3339, fields[2]); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", fields[2])
	}
}

func TestStatusLogSanitizesMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.tsv")
	log := NewStatusLog(path)

	if err := log.Append("k", StatusFail, "line1\nline2\twith tab"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if strings.Count(string(data), "\n") != 1 || strings.Count(string(data), "\t") != 3 {
		t.Fatalf("message must stay on one line with 3 separators: %q", data)
	}
}

func TestStatusLogEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.tsv")
	log := NewStatusLog(path)

	log.Append("a", StatusFail, "")
	log.Append("a", StatusOK, "")
	log.Append("b", StatusFail, "")

	entries, err := log.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if entries["a"] != StatusOK || entries["b"] != StatusFail {
		t.Fatalf("unexpected entries: %v", entries)
	}
}
