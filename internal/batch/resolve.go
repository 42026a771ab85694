package batch

import (
	"fmt"
	"path/filepath"
)

// ResolvedCommand is an executable plus any prefix arguments that must come
// before the tool's own arguments (the subcommand, or the environment
// fallback's runner invocation).
type ResolvedCommand struct {
	Program    string
	PrefixArgs []string
}

// Command returns the full argv for invoking the tool with args.
func (c ResolvedCommand) Command(args ...string) (string, []string) {
	return c.Program, append(append([]string{}, c.PrefixArgs...), args...)
}

// ResolveSpec describes how to locate one external tool. Resolution order is
// fixed: the override variable, then the standalone binary on the search
// path, then the base tool on the search path, then the named environment
// fallback. The subcommand is carried by every tier except the standalone
// binary, which has it built in.
type ResolveSpec struct {
	Tool        string // base executable searched on PATH
	Standalone  string // single-purpose binary searched before Tool, if any
	Subcommand  string // subcommand appended when invoking Tool
	OverrideVar string // environment variable holding an explicit path
	CondaEnv    string // environment name for the conda-run fallback
}

// Resolve locates a tool using injected lookups so it can be tested without
// touching the real environment. getenv mirrors os.Getenv; lookPath mirrors
// exec.LookPath and must also be used to confirm the fallback runner exists.
func Resolve(spec ResolveSpec, getenv func(string) string, lookPath func(string) (string, error)) (ResolvedCommand, error) {
	if override := getenv(spec.OverrideVar); override != "" {
		return ResolvedCommand{Program: override, PrefixArgs: spec.subcommand()}, nil
	}
	if spec.Standalone != "" {
		if path, err := lookPath(spec.Standalone); err == nil {
			return ResolvedCommand{Program: path}, nil
		}
	}
	if path, err := lookPath(spec.Tool); err == nil {
		return ResolvedCommand{Program: path, PrefixArgs: spec.subcommand()}, nil
	}
	if spec.CondaEnv != "" {
		if conda, ok := findConda(getenv, lookPath); ok {
			prefix := []string{"run", "-n", spec.CondaEnv, "--no-capture-output", spec.Tool}
			return ResolvedCommand{Program: conda, PrefixArgs: append(prefix, spec.subcommand()...)}, nil
		}
	}
	return ResolvedCommand{}, fmt.Errorf("cannot locate %s: set %s, add it to PATH, or install it in the %q environment",
		spec.Tool, spec.OverrideVar, spec.CondaEnv)
}

func (s ResolveSpec) subcommand() []string {
	if s.Subcommand == "" {
		return nil
	}
	return []string{s.Subcommand}
}

// findConda searches the path first, then the default anaconda and miniconda
// install locations under the user's home directory. Absolute candidates go
// through lookPath too, which checks them directly the way exec.LookPath
// does.
func findConda(getenv func(string) string, lookPath func(string) (string, error)) (string, bool) {
	if p, err := lookPath("conda"); err == nil {
		return p, true
	}
	home := getenv("HOME")
	if home == "" {
		return "", false
	}
	for _, dist := range []string{"anaconda3", "miniconda3"} {
		if p, err := lookPath(filepath.Join(home, dist, "condabin", "conda")); err == nil {
			return p, true
		}
	}
	return "", false
}
