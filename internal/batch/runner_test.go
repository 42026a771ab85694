package batch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NIEHS/MOUSE-TRAP/internal/proc"
)

type fakeProcRunner struct {
	mu       sync.Mutex
	calls    []proc.Spec
	exitCode func(spec proc.Spec) int
	cancelAt int
	cancel   context.CancelFunc
}

func (f *fakeProcRunner) Run(ctx context.Context, spec proc.Spec, onLine func(string)) (proc.ExitResult, error) {
	f.mu.Lock()
	i := len(f.calls)
	f.calls = append(f.calls, spec)
	f.mu.Unlock()

	if onLine != nil {
		onLine("processing " + spec.Program)
	}
	if f.cancel != nil && i == f.cancelAt {
		f.cancel()
		return proc.ExitResult{Cancelled: true, ExitCode: -1}, nil
	}
	code := 0
	if f.exitCode != nil {
		code = f.exitCode(spec)
	}
	return proc.ExitResult{ExitCode: code}, nil
}

func newTestRunner(t *testing.T, fake *fakeProcRunner, logPath string, path map[string]string) *Runner {
	t.Helper()
	r := NewRunner(fake, NewStatusLog(logPath), "sleap", nil)
	r.getenv = fakeEnv(nil)
	r.lookPath = fakePath(path)
	return r
}

func setupVideos(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mp4"))
	touch(t, filepath.Join(root, "sub", "b.mp4"))
	return root
}

func TestRunAllOK(t *testing.T) {
	root := setupVideos(t)
	pred := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "status.tsv")
	fake := &fakeProcRunner{cancelAt: -1}
	r := newTestRunner(t, fake, logPath, map[string]string{"sleap-nn": "/usr/bin/sleap-nn"})

	outcomes, err := r.Run(context.Background(), root, pred, Options{Recurse: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes", len(outcomes))
	}
	for _, out := range outcomes {
		if out.Status != ItemOK {
			t.Fatalf("unexpected outcome: %+v", out)
		}
	}

	log := NewStatusLog(logPath)
	st, _ := log.LastStatus("a.mp4")
	if st != StatusOK {
		t.Fatalf("status log must record OK, got %q", st)
	}

	args := strings.Join(fake.calls[0].Args, " ")
	if !strings.Contains(args, "track") || !strings.Contains(args, "--data_path") {
		t.Fatalf("tracker argv malformed: %s", args)
	}
	if !strings.Contains(args, ".predictions.slp") {
		t.Fatalf("output path missing: %s", args)
	}
}

func TestRunUsesStandaloneTracker(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mp4"))
	fake := &fakeProcRunner{cancelAt: -1}
	r := newTestRunner(t, fake, filepath.Join(t.TempDir(), "s.tsv"), map[string]string{
		"sleap-nn-track": "/usr/bin/sleap-nn-track",
		"conda":          "/usr/bin/conda",
	})

	if _, err := r.Run(context.Background(), root, t.TempDir(), Options{}, nil); err != nil {
		t.Fatal(err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("calls = %d", len(fake.calls))
	}
	spec := fake.calls[0]
	if spec.Program != "/usr/bin/sleap-nn-track" {
		t.Fatalf("standalone binary must win over the conda fallback: %+v", spec)
	}
	if len(spec.Args) == 0 || spec.Args[0] != "--data_path" {
		t.Fatalf("standalone binary takes no subcommand: %v", spec.Args)
	}
}

func TestRunRecordsFailuresAndContinues(t *testing.T) {
	root := setupVideos(t)
	logPath := filepath.Join(t.TempDir(), "status.tsv")
	fake := &fakeProcRunner{
		cancelAt: -1,
		exitCode: func(spec proc.Spec) int {
			if strings.Contains(strings.Join(spec.Args, " "), "a.mp4") {
				return 1
			}
			return 0
		},
	}
	r := newTestRunner(t, fake, logPath, map[string]string{"sleap-nn": "/usr/bin/sleap-nn"})

	outcomes, err := r.Run(context.Background(), root, t.TempDir(), Options{Recurse: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	var failed, ok int
	for _, out := range outcomes {
		switch out.Status {
		case ItemFail:
			failed++
		case ItemOK:
			ok++
		}
	}
	if failed != 1 || ok != 1 {
		t.Fatalf("one failure must not stop the batch: %+v", outcomes)
	}

	log := NewStatusLog(logPath)
	st, _ := log.LastStatus("a.mp4")
	if st != StatusFail {
		t.Fatalf("failure must be logged: %q", st)
	}
}

func TestRunSkipIfLastOK(t *testing.T) {
	root := setupVideos(t)
	logPath := filepath.Join(t.TempDir(), "status.tsv")

	seed := NewStatusLog(logPath)
	seed.Append("a.mp4", StatusOK, "")
	seed.Append("sub/b.mp4", StatusFail, "")

	fake := &fakeProcRunner{cancelAt: -1}
	r := newTestRunner(t, fake, logPath, map[string]string{"sleap-nn": "/usr/bin/sleap-nn"})

	outcomes, err := r.Run(context.Background(), root, t.TempDir(), Options{Recurse: true, SkipIfLastOK: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	byRel := map[string]ItemStatus{}
	for _, out := range outcomes {
		byRel[out.Item.RelPath] = out.Status
	}
	if byRel["a.mp4"] != ItemSkipped {
		t.Fatalf("previously-OK item must be Skipped: %v", byRel)
	}
	if byRel["sub/b.mp4"] != ItemOK {
		t.Fatalf("previously-FAIL item must be re-run: %v", byRel)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("skipped item must not invoke the tool, calls=%d", len(fake.calls))
	}
}

func TestRunCancellation(t *testing.T) {
	root := setupVideos(t)
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeProcRunner{cancelAt: 0, cancel: cancel}
	r := newTestRunner(t, fake, filepath.Join(t.TempDir(), "s.tsv"), map[string]string{"sleap-nn": "/usr/bin/sleap-nn"})

	outcomes, err := r.Run(ctx, root, t.TempDir(), Options{Recurse: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("cancellation must stop dequeuing: %+v", outcomes)
	}
	if outcomes[0].Status != ItemCancelled {
		t.Fatalf("in-flight item must be Cancelled, not Failed: %+v", outcomes[0])
	}
}

func TestRunToolUnresolvable(t *testing.T) {
	root := setupVideos(t)
	logPath := filepath.Join(t.TempDir(), "status.tsv")
	fake := &fakeProcRunner{cancelAt: -1}
	r := newTestRunner(t, fake, logPath, nil) // nothing on PATH, no conda

	outcomes, err := r.Run(context.Background(), root, t.TempDir(), Options{Recurse: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, out := range outcomes {
		if out.Status != ItemFail {
			t.Fatalf("unresolvable tool must fail every item: %+v", out)
		}
	}
	if len(fake.calls) != 0 {
		t.Fatal("no subprocess may run when resolution fails")
	}
}

func TestRunEmitsProgress(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mp4"))
	fake := &fakeProcRunner{cancelAt: -1}
	r := newTestRunner(t, fake, filepath.Join(t.TempDir(), "s.tsv"), map[string]string{"sleap-nn": "/usr/bin/sleap-nn"})

	var events []Event
	_, err := r.Run(context.Background(), root, t.TempDir(), Options{Recurse: true}, func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected one line event and one done event: %+v", events)
	}
	if events[0].Line == "" || events[1].Outcome == nil || !events[1].Done {
		t.Fatalf("done must follow the output lines: %+v", events)
	}
}

func TestLaunchLabelerStreamsOutput(t *testing.T) {
	echo, err := exec.LookPath("echo")
	if err != nil {
		t.Skip("echo not available")
	}

	lines := make(chan string, 1)
	err = LaunchLabeler("", "hello", fakeEnv(map[string]string{"SLEAP_LABEL": echo}), fakePath(nil), nil, func(l string) {
		select {
		case lines <- l:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case l := <-lines:
		if l != "hello" {
			t.Fatalf("line = %q", l)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("labeler output never streamed")
	}
}

func TestLaunchLabelerUnresolvable(t *testing.T) {
	err := LaunchLabeler("sleap", "", fakeEnv(nil), fakePath(nil), nil, nil)
	if err == nil {
		t.Fatal("expected resolution error")
	}
	if !strings.Contains(err.Error(), "sleap-label") {
		t.Fatalf("error must name the tool: %v", err)
	}
}

func TestTrackOptionsArgs(t *testing.T) {
	n := 2
	thresh := 0.3
	opts := TrackOptions{
		ModelPaths:    []string{"/models/centroid", "/models/instance"},
		Device:        "cuda:0",
		BatchSize:     8,
		MaxInstances:  &n,
		Tracking:      true,
		PeakThreshold: &thresh,
		Extra:         map[string]string{"frames": "0-100"},
	}
	args := opts.Args("/v/a.mp4", "/p/a.predictions.slp")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--data_path /v/a.mp4",
		"--output_path /p/a.predictions.slp",
		"--model_paths /models/centroid,/models/instance",
		"--device cuda:0",
		"--batch_size 8",
		"--max_instances 2",
		"--tracking",
		"--peak_threshold 0.3",
		"--frames 0-100",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("argv missing %q: %s", want, joined)
		}
	}
	if args[0] != "--data_path" {
		t.Fatalf("the subcommand belongs to resolution, not the options: %v", args)
	}
}

func TestTrackOptionsArgsOmitsZeroValues(t *testing.T) {
	args := TrackOptions{}.Args("/v/a.mp4", "/p/out.slp")
	joined := strings.Join(args, " ")
	for _, banned := range []string{"--device", "--batch_size", "--tracking", "--max_instances"} {
		if strings.Contains(joined, banned) {
			t.Fatalf("zero-value option must be omitted: %s", joined)
		}
	}
}

func TestRunCreatesPredictionsRoot(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mp4"))
	pred := filepath.Join(t.TempDir(), "nested", "pred")
	fake := &fakeProcRunner{cancelAt: -1}
	r := newTestRunner(t, fake, filepath.Join(t.TempDir(), "s.tsv"), map[string]string{"sleap-nn": "/usr/bin/sleap-nn"})

	if _, err := r.Run(context.Background(), root, pred, Options{}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(pred); errors.Is(err, os.ErrNotExist) {
		t.Fatal("predictions root must be created")
	}
}
