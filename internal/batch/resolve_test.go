package batch

import (
	"errors"
	"strings"
	"testing"
)

func fakeEnv(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func fakePath(found map[string]string) func(string) (string, error) {
	return func(name string) (string, error) {
		if p, ok := found[name]; ok {
			return p, nil
		}
		return "", errors.New("not found")
	}
}

var trackerSpec = ResolveSpec{
	Tool:        "sleap-nn",
	Standalone:  "sleap-nn-track",
	Subcommand:  "track",
	OverrideVar: "SLEAP_NN",
	CondaEnv:    "sleap",
}

func TestResolveOverrideWins(t *testing.T) {
	cmd, err := Resolve(trackerSpec,
		fakeEnv(map[string]string{"SLEAP_NN": "/opt/custom/sleap-nn"}),
		fakePath(map[string]string{"sleap-nn": "/usr/bin/sleap-nn", "conda": "/usr/bin/conda"}))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Program != "/opt/custom/sleap-nn" {
		t.Fatalf("override must take precedence: %+v", cmd)
	}
	if len(cmd.PrefixArgs) != 1 || cmd.PrefixArgs[0] != "track" {
		t.Fatalf("override still needs the subcommand: %+v", cmd)
	}
}

func TestResolveStandaloneBeforeTool(t *testing.T) {
	cmd, err := Resolve(trackerSpec,
		fakeEnv(nil),
		fakePath(map[string]string{
			"sleap-nn-track": "/usr/bin/sleap-nn-track",
			"conda":          "/usr/bin/conda",
		}))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Program != "/usr/bin/sleap-nn-track" {
		t.Fatalf("standalone binary must come before the environment fallback: %+v", cmd)
	}
	if len(cmd.PrefixArgs) != 0 {
		t.Fatalf("standalone binary has the subcommand built in: %+v", cmd)
	}
}

func TestResolveSearchPath(t *testing.T) {
	cmd, err := Resolve(trackerSpec,
		fakeEnv(nil),
		fakePath(map[string]string{"sleap-nn": "/usr/bin/sleap-nn", "conda": "/usr/bin/conda"}))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Program != "/usr/bin/sleap-nn" {
		t.Fatalf("PATH must come before the environment fallback: %+v", cmd)
	}
	if len(cmd.PrefixArgs) != 1 || cmd.PrefixArgs[0] != "track" {
		t.Fatalf("base tool needs the subcommand: %+v", cmd)
	}
}

func TestResolveCondaFallback(t *testing.T) {
	cmd, err := Resolve(trackerSpec,
		fakeEnv(nil),
		fakePath(map[string]string{"conda": "/usr/bin/conda"}))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Program != "/usr/bin/conda" {
		t.Fatalf("fallback must wrap with conda: %+v", cmd)
	}
	prog, args := cmd.Command("-i", "x.mp4")
	if prog != "/usr/bin/conda" {
		t.Fatalf("program = %q", prog)
	}
	joined := strings.Join(args, " ")
	if !strings.HasPrefix(joined, "run -n sleap") || !strings.Contains(joined, "sleap-nn track -i x.mp4") {
		t.Fatalf("unexpected argv: %v", args)
	}
}

func TestResolveCondaHomeCandidate(t *testing.T) {
	cmd, err := Resolve(trackerSpec,
		fakeEnv(map[string]string{"HOME": "/home/rw"}),
		fakePath(map[string]string{
			"/home/rw/miniconda3/condabin/conda": "/home/rw/miniconda3/condabin/conda",
		}))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Program != "/home/rw/miniconda3/condabin/conda" {
		t.Fatalf("home-dir conda install must be probed: %+v", cmd)
	}
	if !strings.Contains(strings.Join(cmd.PrefixArgs, " "), "sleap-nn track") {
		t.Fatalf("fallback must carry tool and subcommand: %+v", cmd)
	}
}

func TestResolveNothingFound(t *testing.T) {
	_, err := Resolve(trackerSpec, fakeEnv(nil), fakePath(nil))
	if err == nil {
		t.Fatal("expected an error when every tier fails")
	}
	for _, want := range []string{"sleap-nn", "SLEAP_NN", "sleap"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error must be actionable, missing %q: %v", want, err)
		}
	}
}
