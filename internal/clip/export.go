// Package clip cuts annotated frame intervals out of a video into separate
// files using frame-accurate ffmpeg trims.
package clip

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/NIEHS/MOUSE-TRAP/internal/annotation"
	"github.com/NIEHS/MOUSE-TRAP/internal/proc"
)

// Result is the outcome of exporting one interval.
type Result struct {
	IntervalName string          `json:"interval_name"`
	OutputPath   string          `json:"output_path"`
	Exit         proc.ExitResult `json:"exit"`
	Err          string          `json:"error,omitempty"`
}

// Exporter writes one clip per complete interval in a table.
type Exporter struct {
	runner proc.Runner
	ffmpeg string
	logger *slog.Logger
}

// NewExporter builds an Exporter. ffmpeg is the executable name or path.
func NewExporter(runner proc.Runner, ffmpeg string, logger *slog.Logger) *Exporter {
	return &Exporter{runner: runner, ffmpeg: ffmpeg, logger: logger}
}

// OutputPath returns the clip path for an interval of sourceVideo in the
// given output extension: <stem>_<name>intruder.<ext> next to the source.
func OutputPath(sourceVideo, intervalName, outputExt string) string {
	dir := filepath.Dir(sourceVideo)
	base := filepath.Base(sourceVideo)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if !strings.HasPrefix(outputExt, ".") {
		outputExt = "." + outputExt
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%sintruder%s", stem, intervalName, outputExt))
}

// Export cuts one clip per complete interval. It refuses to run if the table
// fails validation. Intervals are exported independently; a failed interval
// is reported in its Result and does not stop the rest. onLine receives tool
// output as it streams.
func (e *Exporter) Export(ctx context.Context, sourceVideo string, table *annotation.Table, outputExt string, onLine func(string)) ([]Result, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}

	var results []Result
	for _, iv := range table.Exportable() {
		if ctx.Err() != nil {
			break
		}
		out := OutputPath(sourceVideo, iv.Name, outputExt)
		res := Result{IntervalName: iv.Name, OutputPath: out}

		exit, err := e.runner.Run(ctx, proc.Spec{
			Program: e.ffmpeg,
			Args:    trimArgs(sourceVideo, *iv.Enter, *iv.Exit, out),
		}, onLine)
		res.Exit = exit
		if err != nil {
			res.Err = err.Error()
		} else if !exit.Success() && !exit.Cancelled {
			res.Err = fmt.Sprintf("ffmpeg exited with code %d", exit.ExitCode)
		}

		if e.logger != nil {
			e.logger.Info("clip exported",
				"interval", iv.Name,
				"output", out,
				"ok", res.Err == "" && !exit.Cancelled,
			)
		}
		results = append(results, res)
	}
	return results, nil
}

// trimArgs builds a frame-bounded trim. end_frame is exclusive in ffmpeg's
// trim filter, so the exit frame is included by adding one.
func trimArgs(source string, enter, exit int, output string) []string {
	filter := fmt.Sprintf("trim=start_frame=%d:end_frame=%d,setpts=PTS-STARTPTS", enter, exit+1)
	return []string{
		"-i", source,
		"-vf", filter,
		"-an",
		"-y",
		output,
	}
}
