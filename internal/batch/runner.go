package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/NIEHS/MOUSE-TRAP/internal/proc"
)

// ItemStatus classifies one batch item's result.
type ItemStatus string

const (
	ItemOK        ItemStatus = "ok"
	ItemFail      ItemStatus = "fail"
	ItemSkipped   ItemStatus = "skipped"
	ItemCancelled ItemStatus = "cancelled"
)

// ItemOutcome is the per-item result of a batch run.
type ItemOutcome struct {
	Item    Item       `json:"item"`
	Status  ItemStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// Event is one batch progress update.
type Event struct {
	Index   int          `json:"index"`
	Total   int          `json:"total"`
	RelPath string       `json:"rel_path"`
	Line    string       `json:"line,omitempty"`
	Done    bool         `json:"done"`
	Outcome *ItemOutcome `json:"outcome,omitempty"`
}

// Options controls a batch run.
type Options struct {
	Recurse      bool         `json:"recurse"`
	SkipIfLastOK bool         `json:"skip_if_last_ok"`
	Track        TrackOptions `json:"track"`
}

// Runner executes inference over every discovered video and records each
// outcome in the status log.
type Runner struct {
	runner   proc.Runner
	log      *StatusLog
	logger   *slog.Logger
	condaEnv string

	getenv   func(string) string
	lookPath func(string) (string, error)
}

// trackerOverrideVar and labelerOverrideVar name the environment variables
// that short-circuit tool resolution.
const (
	trackerOverrideVar = "SLEAP_NN"
	labelerOverrideVar = "SLEAP_LABEL"

	trackerTool       = "sleap-nn"
	trackerStandalone = "sleap-nn-track"
	trackerSubcommand = "track"
	labelerTool       = "sleap-label"
)

func NewRunner(runner proc.Runner, log *StatusLog, condaEnv string, logger *slog.Logger) *Runner {
	return &Runner{
		runner:   runner,
		log:      log,
		logger:   logger,
		condaEnv: condaEnv,
		getenv:   os.Getenv,
		lookPath: exec.LookPath,
	}
}

// Run discovers videos under videosRoot and tracks each one, writing
// predictions under predictionsRoot. Per-item failures never abort the run;
// cancellation stops after the in-flight item. Each finished item is
// appended to the status log keyed by its relative path.
func (r *Runner) Run(ctx context.Context, videosRoot, predictionsRoot string, opts Options, emit func(Event)) ([]ItemOutcome, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	items, err := Discover(ctx, videosRoot, predictionsRoot, opts.Recurse)
	if err != nil {
		return nil, fmt.Errorf("discovering videos: %w", err)
	}
	if err := os.MkdirAll(predictionsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating predictions root: %w", err)
	}

	cmd, resolveErr := Resolve(ResolveSpec{
		Tool:        trackerTool,
		Standalone:  trackerStandalone,
		Subcommand:  trackerSubcommand,
		OverrideVar: trackerOverrideVar,
		CondaEnv:    r.condaEnv,
	}, r.getenv, r.lookPath)

	total := len(items)
	outcomes := make([]ItemOutcome, 0, total)
	for i, item := range items {
		if ctx.Err() != nil {
			out := ItemOutcome{Item: item, Status: ItemCancelled}
			outcomes = append(outcomes, out)
			emit(Event{Index: i, Total: total, RelPath: item.RelPath, Done: true, Outcome: &out})
			break
		}

		if opts.SkipIfLastOK {
			last, err := r.log.LastStatus(item.RelPath)
			if err == nil && last == StatusOK {
				out := ItemOutcome{Item: item, Status: ItemSkipped, Message: "previous run succeeded"}
				outcomes = append(outcomes, out)
				emit(Event{Index: i, Total: total, RelPath: item.RelPath, Done: true, Outcome: &out})
				continue
			}
		}

		out := r.runItem(ctx, i, total, item, cmd, resolveErr, opts, emit)
		outcomes = append(outcomes, out)
		emit(Event{Index: i, Total: total, RelPath: item.RelPath, Done: true, Outcome: &out})

		if r.logger != nil {
			r.logger.Info("batch item finished", "rel_path", item.RelPath, "status", string(out.Status))
		}
		if out.Status == ItemCancelled {
			break
		}
	}
	return outcomes, nil
}

func (r *Runner) runItem(ctx context.Context, index, total int, item Item, cmd ResolvedCommand, resolveErr error, opts Options, emit func(Event)) ItemOutcome {
	if resolveErr != nil {
		r.appendLog(item.RelPath, StatusFail, resolveErr.Error())
		return ItemOutcome{Item: item, Status: ItemFail, Message: resolveErr.Error()}
	}

	program, args := cmd.Command(opts.Track.Args(item.Path, item.Output)...)
	res, err := r.runner.Run(ctx, proc.Spec{
		Program: program,
		Args:    args,
		Dir:     filepath.Dir(item.Path),
	}, func(line string) {
		emit(Event{Index: index, Total: total, RelPath: item.RelPath, Line: line})
	})

	switch {
	case err != nil:
		r.appendLog(item.RelPath, StatusFail, err.Error())
		return ItemOutcome{Item: item, Status: ItemFail, Message: err.Error()}
	case res.Cancelled:
		return ItemOutcome{Item: item, Status: ItemCancelled}
	case res.ExitCode != 0:
		msg := fmt.Sprintf("exit code %d", res.ExitCode)
		r.appendLog(item.RelPath, StatusFail, msg)
		return ItemOutcome{Item: item, Status: ItemFail, Message: msg}
	default:
		r.appendLog(item.RelPath, StatusOK, "")
		return ItemOutcome{Item: item, Status: ItemOK}
	}
}

func (r *Runner) appendLog(key string, status Status, message string) {
	if err := r.log.Append(key, status, message); err != nil && r.logger != nil {
		r.logger.Error("cannot append status log", "key", key, "error", err)
	}
}

// LaunchLabeler starts the interactive labeling tool detached, optionally
// opening file. Console output is streamed line by line to onLine for as
// long as the tool runs; nil onLine discards it. Resolution failures surface
// as a single error. The tool outlives the caller, so no context is taken.
func LaunchLabeler(condaEnv, file string, getenv func(string) string, lookPath func(string) (string, error), logger *slog.Logger, onLine func(string)) error {
	cmd, err := Resolve(ResolveSpec{
		Tool:        labelerTool,
		OverrideVar: labelerOverrideVar,
		CondaEnv:    condaEnv,
	}, getenv, lookPath)
	if err != nil {
		return err
	}

	var args []string
	if file != "" {
		args = []string{file}
	}
	program, argv := cmd.Command(args...)
	c := exec.Command(program, argv...)

	pr, pw := io.Pipe()
	c.Stdout = pw
	c.Stderr = pw
	if err := c.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("starting %s: %w", labelerTool, err)
	}
	go func() {
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			if onLine != nil {
				onLine(sc.Text())
			}
		}
	}()
	go func() {
		c.Wait() // reap without blocking
		pw.Close()
	}()

	if logger != nil {
		logger.Info("labeler launched", "program", program, "pid", c.Process.Pid)
	}
	return nil
}
