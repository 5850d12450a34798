package tools

import (
	"bufio"
	"bytes"
	"context"
	"path"
	"strings"

	"ppaflow/internal/core"
)

// BazelBuilder builds benchmark executables with Bazel.
//
// The command line is: bazel build [variant] [--key=value ...] target.
// The artifact path is the last "bazel-bin..." line Bazel reports; when
// none is printed for an ":executable" target it is inferred as
// bazel-bin/<package>/executable.
type BazelBuilder struct {
	Exec   *core.ProcessExecutor
	Binary string
}

func (b *BazelBuilder) Requires() []string { return []string{b.binary()} }

func (b *BazelBuilder) binary() string {
	if b.Binary == "" {
		return BazelBinary
	}
	return b.Binary
}

func (b *BazelBuilder) Build(ctx context.Context, req BuildRequest) (BuildResult, error) {
	exec := b.Exec
	if exec == nil {
		exec = core.NewProcessExecutor()
	}

	argv := []string{b.binary(), "build"}
	if req.ConfigVariant != "" {
		argv = append(argv, req.ConfigVariant)
	}
	for _, kv := range optionPairs(req.Options) {
		argv = append(argv, "--"+kv)
	}
	argv = append(argv, req.Target)

	res, err := exec.Run(ctx, req.Env, argv)
	if err != nil {
		return BuildResult{}, err
	}
	if res.ExitCode != 0 {
		return BuildResult{Success: false, Error: tail(res.Stderr, 1024)}, nil
	}

	out := findBazelBinPath(res.Stdout)
	if out == "" {
		out = findBazelBinPath(res.Stderr)
	}
	if out == "" {
		out = inferExecutablePath(req.Target)
	}
	if out == "" {
		return BuildResult{Success: false, Error: "could not determine output path for " + req.Target}, nil
	}
	return BuildResult{Path: out, Success: true}, nil
}

func findBazelBinPath(b []byte) string {
	var found string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "bazel-bin") {
			found = line
		}
	}
	return found
}

func inferExecutablePath(target string) string {
	pkg, name, ok := strings.Cut(target, ":")
	if !ok || name != "executable" {
		return ""
	}
	return path.Join("bazel-bin", strings.TrimLeft(pkg, "/"), "executable")
}
