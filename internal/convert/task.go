// Package convert executes queues of file-conversion tasks by dispatching
// each one to the external tool its strategy requires.
package convert

import (
	"path/filepath"
	"strings"

	"github.com/NIEHS/MOUSE-TRAP/internal/format"
)

// Task is one source-to-target conversion. It is immutable once built and
// consumed exactly once by the orchestrator.
type Task struct {
	Source    string          `json:"source"`
	Target    string          `json:"target"`
	SourceExt string          `json:"source_ext"`
	TargetExt string          `json:"target_ext"`
	Strategy  format.Strategy `json:"strategy"`
}

// NewTask resolves the strategy for converting source to targetExt and
// builds the task. The target lands in outputDir, or next to the source
// when outputDir is empty.
func NewTask(resolver *format.Resolver, source, targetExt, outputDir string, clip bool) (Task, error) {
	srcExt := strings.ToLower(filepath.Ext(source))
	if !strings.HasPrefix(targetExt, ".") {
		targetExt = "." + targetExt
	}
	targetExt = strings.ToLower(targetExt)

	strat, err := resolver.StrategyFor(srcExt, targetExt, clip)
	if err != nil {
		return Task{}, err
	}

	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(source)
	}
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	return Task{
		Source:    source,
		Target:    filepath.Join(dir, stem+targetExt),
		SourceExt: srcExt,
		TargetExt: targetExt,
		Strategy:  strat,
	}, nil
}

// Stem returns the source file name without its extension.
func (t Task) Stem() string {
	base := filepath.Base(t.Source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
