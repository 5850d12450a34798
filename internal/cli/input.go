package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"ppaflow/internal/core"
)

const (
	ExitSuccess           = 0
	ExitStudyFailure      = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
	ExitCacheConflict     = 5
)

// Command names a CLI subcommand. Every stage command runs the study up to
// and including that stage; run is the full study.
type Command string

const (
	CommandVerify     Command = "verify"
	CommandCompile    Command = "compile"
	CommandSimulate   Command = "simulate"
	CommandSynthesize Command = "synthesize"
	CommandAnalyze    Command = "analyze"
	CommandRun        Command = "run"
)

// Until is the last stage the command executes.
func (c Command) Until() core.Stage {
	if c == CommandRun {
		return core.StageAnalyze
	}
	return core.Stage(c)
}

// Invocation is the fully canonicalized description of one CLI call.
//
// All paths are absolute. Relative flags are resolved against WorkDir, never
// against the process working directory.
type Invocation struct {
	Command     Command
	WorkDir     string
	ConfigPath  string
	OutputDir   string
	EnvFile     string
	TracePath   string
	Cores       []string
	Benchmarks  []string
	PDKs        []string
	Clean       bool
	Concurrency int
	Timeout     time.Duration
	LogLevel    slog.Level

	// Vars seeds the tool environment. The env file, when given, is layered
	// on top. ParseInvocation leaves it empty; the process entrypoint decides
	// what to inherit.
	Vars map[string]string
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

const usage = "usage: ppastudy <verify|compile|simulate|synthesize|analyze|run> --workdir DIR [flags]"

// ParseInvocation parses a subcommand and its flags into an Invocation.
// It does not read environment variables or the process working directory.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{}, invalidInvocationf("%s", usage)
	}
	cmd, err := parseCommand(args[0])
	if err != nil {
		return Invocation{}, err
	}

	fs := flag.NewFlagSet("ppastudy "+string(cmd), flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		workDir, configPath, outputDir, envFile, tracePath string
		cores, benchmarks, pdks, logLevel                  string
		clean                                              bool
		concurrency                                        int
		timeout                                            time.Duration
	)
	fs.StringVar(&workDir, "workdir", "", "Absolute working directory. Required.")
	fs.StringVar(&configPath, "config", "", "Study file (.yaml, .yml or .json). Defaults to the built-in study.")
	fs.StringVar(&outputDir, "output-dir", "", "Output root. Defaults to the study's output_dir.")
	fs.StringVar(&envFile, "env-file", "", "dotenv file with the tool environment.")
	fs.StringVar(&tracePath, "trace", "", "Write the canonical study trace here.")
	fs.StringVar(&cores, "cores", "", "Comma-separated core subset.")
	fs.StringVar(&benchmarks, "benchmarks", "", "Comma-separated benchmark subset.")
	fs.StringVar(&pdks, "pdks", "", "Comma-separated PDK subset.")
	fs.BoolVar(&clean, "clean", false, "Remove cached artifacts and reports before running.")
	fs.IntVar(&concurrency, "concurrency", 1, "Coordinates executed in parallel per stage.")
	fs.DurationVar(&timeout, "timeout", 0, "Per-invocation tool timeout. Overrides tool_timeout_s.")
	fs.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")

	if err := fs.Parse(args[1:]); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}

	if workDir == "" {
		return Invocation{}, invalidInvocationf("--workdir is required")
	}
	workDir = filepath.Clean(workDir)
	if !filepath.IsAbs(workDir) {
		return Invocation{}, invalidInvocationf("--workdir must be an absolute path (got %q)", workDir)
	}
	if concurrency < 1 {
		return Invocation{}, invalidInvocationf("--concurrency must be at least 1 (got %d)", concurrency)
	}
	if timeout < 0 {
		return Invocation{}, invalidInvocationf("--timeout must not be negative")
	}
	level, err := parseLogLevel(logLevel)
	if err != nil {
		return Invocation{}, err
	}

	inv := Invocation{
		Command:     cmd,
		WorkDir:     workDir,
		Cores:       splitList(cores),
		Benchmarks:  splitList(benchmarks),
		PDKs:        splitList(pdks),
		Clean:       clean,
		Concurrency: concurrency,
		Timeout:     timeout,
		LogLevel:    level,
	}
	for _, p := range []struct {
		raw string
		dst *string
	}{
		{configPath, &inv.ConfigPath},
		{outputDir, &inv.OutputDir},
		{envFile, &inv.EnvFile},
		{tracePath, &inv.TracePath},
	} {
		if strings.TrimSpace(p.raw) == "" {
			continue
		}
		if *p.dst, err = resolveUnderWorkDir(workDir, p.raw); err != nil {
			return Invocation{}, err
		}
	}
	return inv, nil
}

// parseCommand accepts run and every stage name.
func parseCommand(raw string) (Command, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if Command(name) == CommandRun {
		return CommandRun, nil
	}
	st, err := core.ParseStage(name)
	if err != nil {
		return "", invalidInvocationf("unknown command %q\n%s", raw, usage)
	}
	return Command(st), nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return 0, invalidInvocationf("invalid --log-level %q (expected debug|info|warn|error)", raw)
	}
	return l, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Join(workDir, clean), nil
}

// ExitCode extracts a semantic exit code from a ParseInvocation error.
// If the error is not a known invocation error, it returns ExitInternalError.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
