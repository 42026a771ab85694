package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/NIEHS/MOUSE-TRAP/internal/annotation"
	"github.com/NIEHS/MOUSE-TRAP/internal/clip"
	"github.com/NIEHS/MOUSE-TRAP/internal/format"
	"github.com/NIEHS/MOUSE-TRAP/internal/proc"
)

// Status classifies a finished task.
type Status string

const (
	StatusOK        Status = "ok"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Outcome is the per-task result.
type Outcome struct {
	Task    Task          `json:"task"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Clips   []clip.Result `json:"clips,omitempty"`
}

// Event is one progress update. Line events stream tool output; Done events
// carry the task's final outcome and always follow its last Line event.
type Event struct {
	Index   int      `json:"index"`
	Total   int      `json:"total"`
	File    string   `json:"file"`
	Line    string   `json:"line,omitempty"`
	Done    bool     `json:"done"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

// Decision answers a per-file prompt.
type Decision int

const (
	Approve Decision = iota
	Skip
	Abort
)

// DecideFunc is consulted before each task when prompting is enabled. It may
// block until an external answer arrives.
type DecideFunc func(ctx context.Context, task Task) (Decision, error)

// Options controls how a queue is run.
type Options struct {
	Clip           bool
	PromptPerFile  bool
	OutputDir      string
	AbortOnFailure bool
	ClipExt        string // extension for exported clips; defaults to the task target
	// Annotations maps a source file stem to its interval table, used by
	// the stage-then-trim strategy.
	Annotations map[string]*annotation.Table
}

// Tools names the external executables the orchestrator invokes.
type Tools struct {
	FFmpeg   string
	Pandoc   string
	Pdftoppm string
	Magick   string
}

// Orchestrator runs conversion queues one task at a time.
type Orchestrator struct {
	runner proc.Runner
	tools  Tools
	logger *slog.Logger
}

func NewOrchestrator(runner proc.Runner, tools Tools, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{runner: runner, tools: tools, logger: logger}
}

// Run executes tasks in order. Per-task failures are recorded and the queue
// continues unless AbortOnFailure is set. Cancellation terminates the
// in-flight tool, marks that task Cancelled, and stops dequeuing; completed
// outcomes are preserved. emit must be non-nil safe for the caller's use;
// nil emit discards events. decide may be nil when PromptPerFile is off.
func (o *Orchestrator) Run(ctx context.Context, tasks []Task, opts Options, emit func(Event), decide DecideFunc) []Outcome {
	if emit == nil {
		emit = func(Event) {}
	}
	total := len(tasks)
	outcomes := make([]Outcome, 0, total)

	for i, task := range tasks {
		if ctx.Err() != nil {
			out := Outcome{Task: task, Status: StatusCancelled}
			outcomes = append(outcomes, out)
			emit(Event{Index: i, Total: total, File: task.Source, Done: true, Outcome: &out})
			break
		}

		if opts.PromptPerFile && decide != nil {
			d, err := decide(ctx, task)
			if err != nil || d == Abort {
				out := Outcome{Task: task, Status: StatusCancelled, Message: "aborted at prompt"}
				outcomes = append(outcomes, out)
				emit(Event{Index: i, Total: total, File: task.Source, Done: true, Outcome: &out})
				break
			}
			if d == Skip {
				out := Outcome{Task: task, Status: StatusSkipped, Message: "skipped at prompt"}
				outcomes = append(outcomes, out)
				emit(Event{Index: i, Total: total, File: task.Source, Done: true, Outcome: &out})
				continue
			}
		}

		out := o.runTask(ctx, i, total, task, opts, emit)
		outcomes = append(outcomes, out)
		emit(Event{Index: i, Total: total, File: task.Source, Done: true, Outcome: &out})

		if o.logger != nil {
			o.logger.Info("task finished",
				"source", task.Source,
				"strategy", string(task.Strategy),
				"status", string(out.Status),
			)
		}

		if out.Status == StatusCancelled {
			break
		}
		if out.Status == StatusFailed && opts.AbortOnFailure {
			break
		}
	}
	return outcomes
}

func (o *Orchestrator) runTask(ctx context.Context, index, total int, task Task, opts Options, emit func(Event)) Outcome {
	onLine := func(line string) {
		emit(Event{Index: index, Total: total, File: task.Source, Line: line})
	}

	switch task.Strategy {
	case format.StrategyDirectFFmpeg:
		return o.runSimple(ctx, task, proc.Spec{
			Program: o.tools.FFmpeg,
			Args:    []string{"-i", task.Source, "-y", task.Target},
		}, onLine)

	case format.StrategyStageTrim:
		return o.runStageTrim(ctx, task, opts, onLine)

	case format.StrategyImageConvert:
		return o.runSimple(ctx, task, proc.Spec{
			Program: o.tools.FFmpeg,
			Args:    []string{"-i", task.Source, "-y", task.Target},
		}, onLine)

	case format.StrategyImageToPDF:
		return o.runSimple(ctx, task, proc.Spec{
			Program: o.tools.Magick,
			Args:    []string{task.Source, task.Target},
		}, onLine)

	case format.StrategyPDFToImage:
		return o.runPDFToImage(ctx, task, onLine)

	case format.StrategyPandocDoc:
		return o.runSimple(ctx, task, proc.Spec{
			Program: o.tools.Pandoc,
			Args:    []string{task.Source, "-o", task.Target},
		}, onLine)

	case format.StrategyDocxToPDF:
		return Outcome{
			Task:    task,
			Status:  StatusFailed,
			Message: "converting .docx to .pdf requires Microsoft Word, which is not available here",
		}

	default:
		return Outcome{Task: task, Status: StatusFailed, Message: fmt.Sprintf("unknown strategy %q", task.Strategy)}
	}
}

func (o *Orchestrator) runSimple(ctx context.Context, task Task, spec proc.Spec, onLine func(string)) Outcome {
	res, err := o.runner.Run(ctx, spec, onLine)
	return classify(task, res, err)
}

// runStageTrim prepares a frame-accurate intermediate and cuts the annotated
// intervals out of it. Sources already in an intra-frame container (.avi)
// skip the staging step.
func (o *Orchestrator) runStageTrim(ctx context.Context, task Task, opts Options, onLine func(string)) Outcome {
	table := opts.Annotations[task.Stem()]
	if table == nil {
		return Outcome{Task: task, Status: StatusFailed, Message: "no annotation intervals supplied for " + task.Stem()}
	}
	if err := table.Validate(); err != nil {
		return Outcome{Task: task, Status: StatusFailed, Message: err.Error()}
	}

	trimSource := task.Source
	if task.SourceExt != ".avi" {
		staged := strings.TrimSuffix(task.Target, filepath.Ext(task.Target)) + ".staged.avi"
		res, err := o.runner.Run(ctx, proc.Spec{
			Program: o.tools.FFmpeg,
			Args: []string{
				"-i", task.Source,
				"-c:v", "mjpeg",
				"-qscale:v", "2",
				"-pix_fmt", "yuvj420p",
				"-vtag", "MJPG",
				"-r", "25",
				"-y", staged,
			},
		}, onLine)
		if out := classify(task, res, err); out.Status != StatusOK {
			os.Remove(staged)
			return out
		}
		trimSource = staged
		defer os.Remove(staged)
	}

	ext := opts.ClipExt
	if ext == "" {
		ext = task.TargetExt
	}
	exporter := clip.NewExporter(o.runner, o.tools.FFmpeg, o.logger)
	clips, err := exporter.Export(ctx, trimSource, table, ext, onLine)
	if err != nil {
		return Outcome{Task: task, Status: StatusFailed, Message: err.Error()}
	}

	// Clips are named after the staged file; fix paths back to the source
	// stem so callers see <sourceStem>_<name>intruder.<ext>.
	out := Outcome{Task: task, Status: StatusOK, Clips: renameClips(clips, trimSource, task, ext, opts.OutputDir)}
	for _, c := range out.Clips {
		if c.Exit.Cancelled {
			out.Status = StatusCancelled
			break
		}
		if c.Err != "" {
			out.Status = StatusFailed
			out.Message = c.IntervalName + ": " + c.Err
		}
	}
	return out
}

func renameClips(clips []clip.Result, trimSource string, task Task, ext, outputDir string) []clip.Result {
	if trimSource == task.Source {
		return clips
	}
	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(task.Source)
	}
	for i := range clips {
		want := filepath.Join(dir, fmt.Sprintf("%s_%sintruder%s", task.Stem(), clips[i].IntervalName, ext))
		if clips[i].OutputPath != want {
			if err := os.Rename(clips[i].OutputPath, want); err == nil {
				clips[i].OutputPath = want
			}
		}
	}
	return clips
}

// runPDFToImage renders each page through pdftoppm and renames the output
// files to <stem>_page<N>.<ext> with N starting at 0.
func (o *Orchestrator) runPDFToImage(ctx context.Context, task Task, onLine func(string)) Outcome {
	dir := filepath.Dir(task.Target)
	prefix := filepath.Join(dir, task.Stem()+"_pp")

	fmtFlag := "-png"
	if task.TargetExt == ".jpg" || task.TargetExt == ".jpeg" {
		fmtFlag = "-jpeg"
	}
	res, err := o.runner.Run(ctx, proc.Spec{
		Program: o.tools.Pdftoppm,
		Args:    []string{fmtFlag, task.Source, prefix},
	}, onLine)
	if out := classify(task, res, err); out.Status != StatusOK {
		return out
	}

	pages, err := filepath.Glob(prefix + "-*" + task.TargetExt)
	if err != nil || len(pages) == 0 {
		return Outcome{Task: task, Status: StatusFailed, Message: "no pages produced"}
	}
	sort.Strings(pages)
	for n, p := range pages {
		dst := filepath.Join(dir, fmt.Sprintf("%s_page%d%s", task.Stem(), n, task.TargetExt))
		if err := os.Rename(p, dst); err != nil {
			return Outcome{Task: task, Status: StatusFailed, Message: fmt.Sprintf("renaming page %d: %v", n, err)}
		}
	}
	return Outcome{Task: task, Status: StatusOK, Message: fmt.Sprintf("%d pages", len(pages))}
}

func classify(task Task, res proc.ExitResult, err error) Outcome {
	switch {
	case err != nil:
		return Outcome{Task: task, Status: StatusFailed, Message: err.Error()}
	case res.Cancelled:
		return Outcome{Task: task, Status: StatusCancelled}
	case res.ExitCode != 0:
		return Outcome{
			Task:    task,
			Status:  StatusFailed,
			Message: fmt.Sprintf("tool exited with code %d", res.ExitCode),
		}
	default:
		return Outcome{Task: task, Status: StatusOK}
	}
}
