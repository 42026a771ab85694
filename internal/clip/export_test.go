package clip

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/NIEHS/MOUSE-TRAP/internal/annotation"
	"github.com/NIEHS/MOUSE-TRAP/internal/proc"
)

// fakeRunner records invocations and returns scripted results per program
// call, in order.
type fakeRunner struct {
	calls   []proc.Spec
	results []proc.ExitResult
	errs    []error
}

func (f *fakeRunner) Run(ctx context.Context, spec proc.Spec, onLine func(string)) (proc.ExitResult, error) {
	i := len(f.calls)
	f.calls = append(f.calls, spec)
	var res proc.ExitResult
	var err error
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

func TestOutputPath(t *testing.T) {
	got := OutputPath(filepath.Join("videos", "trial01.mp4"), "Alice", ".mp4")
	want := filepath.Join("videos", "trial01_Aliceintruder.mp4")
	if got != want {
		t.Fatalf("OutputPath = %q, want %q", got, want)
	}

	got = OutputPath("trial01.avi", "B6", "avi")
	if got != "trial01_B6intruder.avi" {
		t.Fatalf("OutputPath without dot ext = %q", got)
	}
}

func TestExportRefusesInvalidTable(t *testing.T) {
	tbl := annotation.NewTable()
	tbl.SetEnter("Alice", 10)
	tbl.SetExit("Alice", 50)
	tbl.SetEnter("Bob", 40)
	tbl.SetExit("Bob", 60)

	fake := &fakeRunner{}
	e := NewExporter(fake, "ffmpeg", nil)
	_, err := e.Export(context.Background(), "trial01.mp4", tbl, ".mp4", nil)

	var ve *annotation.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatal("no subprocess may run for an invalid table")
	}
}

func TestExportTrimArguments(t *testing.T) {
	tbl := annotation.NewTable()
	tbl.SetEnter("Alice", 120)
	tbl.SetExit("Alice", 420)

	fake := &fakeRunner{results: []proc.ExitResult{{ExitCode: 0}}}
	e := NewExporter(fake, "ffmpeg", nil)
	results, err := e.Export(context.Background(), "trial01.mp4", tbl, ".mp4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Err != "" {
		t.Fatalf("unexpected results: %+v", results)
	}
	args := strings.Join(fake.calls[0].Args, " ")
	if !strings.Contains(args, "trim=start_frame=120:end_frame=421") {
		t.Fatalf("trim filter must include the exit frame: %s", args)
	}
	if !strings.Contains(args, "trial01_Aliceintruder.mp4") {
		t.Fatalf("output path missing: %s", args)
	}
}

func TestExportPartialFailure(t *testing.T) {
	tbl := annotation.NewTable()
	tbl.SetEnter("Alice", 10)
	tbl.SetExit("Alice", 50)
	tbl.SetEnter("Bob", 60)
	tbl.SetExit("Bob", 90)

	fake := &fakeRunner{results: []proc.ExitResult{{ExitCode: 1}, {ExitCode: 0}}}
	e := NewExporter(fake, "ffmpeg", nil)
	results, err := e.Export(context.Background(), "trial01.mp4", tbl, ".mp4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("one interval's failure must not block the other: %+v", results)
	}
	if results[0].Err == "" {
		t.Fatal("failed interval must carry an error")
	}
	if results[1].Err != "" {
		t.Fatalf("second interval should succeed: %+v", results[1])
	}
}

func TestExportSkipsIncompleteIntervals(t *testing.T) {
	tbl := annotation.NewTable()
	tbl.SetEnter("Alice", 10)
	tbl.SetExit("Alice", 50)
	tbl.SetEnter("Bob", 60) // no exit

	fake := &fakeRunner{results: []proc.ExitResult{{ExitCode: 0}}}
	e := NewExporter(fake, "ffmpeg", nil)
	results, err := e.Export(context.Background(), "trial01.mp4", tbl, ".mp4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("incomplete intervals must be skipped: %+v", results)
	}
}
