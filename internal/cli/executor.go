package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"ppaflow/internal/analysis"
	"ppaflow/internal/config"
	"ppaflow/internal/core"
	"ppaflow/internal/pipeline"
	"ppaflow/internal/runlog"
	"ppaflow/internal/tools"
	"ppaflow/internal/trace"
)

// unresolvedStudy stands in for the study hash when configuration failed.
const unresolvedStudy = "unresolved"

// Toolchain is what Execute runs the study with. Zero fields select the
// command-backed defaults.
type Toolchain struct {
	Registry *tools.Registry
	Verifier tools.Verifier
}

func (t Toolchain) withDefaults() Toolchain {
	if t.Registry == nil {
		t.Registry = tools.DefaultRegistry(core.NewProcessExecutor())
	}
	if t.Verifier == nil {
		t.Verifier = &tools.ToolchainVerifier{Registry: t.Registry}
	}
	return t
}

type CLIResult struct {
	ExitCode int
	RunID    string
	Tree     *pipeline.ResultTree
}

// Execute runs inv with the default toolchain, logging to stderr.
func Execute(ctx context.Context, inv Invocation) (CLIResult, error) {
	return ExecuteWith(ctx, inv, Toolchain{}, os.Stderr)
}

// ExecuteWith maps a canonical Invocation to a study run.
//
// Responsibilities:
//   - Load and narrow the study, and build the explicit tool environment.
//   - Clear the cache and reports when --clean is given.
//   - Record run.json, summary.json and failure.json under <output>/runs.
//   - Write the per-stage summary to stderr and the trace when requested.
//   - Translate the outcome to a semantic exit code, including on panic.
func ExecuteWith(ctx context.Context, inv Invocation, tc Toolchain, stderr io.Writer) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	if stderr == nil {
		stderr = io.Discard
	}
	tc = tc.withDefaults()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: inv.LogLevel}))

	var (
		rec = &runlog.Recorder{}
		run runlog.Run
	)
	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			execErr = fmt.Errorf("internal error: %v", r)
		}
		if run.RunID == "" {
			return
		}
		if execErr != nil && res.ExitCode != ExitSuccess {
			if err := rec.RecordFailure(run.RunID, execErr); err != nil {
				logger.Warn("recording failure", "run_id", run.RunID, "error", err)
			}
		}
		status := runlog.StatusSucceeded
		if res.ExitCode != ExitSuccess {
			status = runlog.StatusFailed
		}
		if _, err := rec.FinishRun(run, status); err != nil {
			logger.Warn("finishing run record", "run_id", run.RunID, "error", err)
		}
	}()

	cfg, err := loadStudy(inv)
	if err != nil {
		// Record the rejected invocation where the default study would write.
		outputDir := inv.OutputDir
		if outputDir == "" {
			outputDir = resolvePath(inv.WorkDir, config.DefaultOutputDir)
		}
		runs, serr := runlog.NewStore(outputDir)
		if serr == nil {
			rec.Store = runs
			run, serr = rec.StartRun(string(inv.Command), unresolvedStudy, runlog.ModeIncremental)
		}
		if serr != nil {
			logger.Warn("starting run record", "output_dir", outputDir, "error", serr)
		}
		res.RunID = run.RunID
		res.ExitCode = ExitConfigError
		return res, err
	}
	outputDir := inv.OutputDir
	if outputDir == "" {
		outputDir = resolvePath(inv.WorkDir, cfg.OutputDir)
	}

	mode := runlog.ModeIncremental
	if inv.Clean {
		mode = runlog.ModeClean
	}
	runs, err := runlog.NewStore(outputDir)
	if err != nil {
		return res, err
	}
	rec.Store = runs
	if run, err = rec.StartRun(string(inv.Command), cfg.Fingerprint(), mode); err != nil {
		return res, fmt.Errorf("starting run record: %w", err)
	}
	res.RunID = run.RunID
	logger.Info("run started", "run_id", run.RunID, "command", inv.Command, "output_dir", outputDir)

	env, err := buildEnvironment(inv)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	store := core.NewFileStore(filepath.Join(outputDir, "cache"))
	reporter := &analysis.FileReporter{Root: outputDir}
	if inv.Clean {
		if err := errors.Join(store.Clear(), reporter.Clean()); err != nil {
			res.ExitCode = ExitInternalError
			return res, fmt.Errorf("cleaning %s: %w", outputDir, err)
		}
		logger.Info("cleaned output", "dir", outputDir)
	}

	var tracer *trace.Recorder
	sink := trace.LogSink(logger)
	if inv.TracePath != "" {
		tracer = trace.NewRecorder()
		sink = trace.Tee(tracer, sink)
	}

	orch := pipeline.New(tc.Registry, store, tc.Verifier, analysis.New(reporter, logger), pipeline.Options{
		Concurrency: inv.Concurrency,
		Logger:      logger,
		Trace:       sink,
	})
	tree, runErr := orch.Run(ctx, cfg, env, inv.Command.Until())
	if tree == nil {
		return res, runErr
	}
	res.Tree = tree

	if err := rec.RecordSummary(run.RunID, tree); err != nil {
		logger.Warn("recording summary", "run_id", run.RunID, "error", err)
	}
	WriteSummary(stderr, tree)

	if tracer != nil {
		if err := writeTrace(inv.TracePath, tracer.Trace(cfg.Fingerprint())); err != nil {
			logger.Warn("writing trace", "path", inv.TracePath, "error", err)
		} else {
			counts := tracer.Counts()
			logger.Info("trace written", "path", inv.TracePath,
				"executed", counts[trace.EventExecuted], "cached", counts[trace.EventCached],
				"failed", counts[trace.EventFailed], "skipped", counts[trace.EventSkipped])
		}
	}

	switch {
	case runErr != nil:
		res.ExitCode = ExitCacheConflict
		return res, runErr
	case !tree.OK():
		res.ExitCode = ExitStudyFailure
		return res, runlog.FailureFromTree(tree)
	}
	res.ExitCode = ExitSuccess
	return res, nil
}

func loadStudy(inv Invocation) (*config.StudyConfig, error) {
	cfg, err := config.Load(inv.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg, err = cfg.Subset(inv.Cores, inv.Benchmarks, inv.PDKs); err != nil {
		return nil, err
	}
	if inv.Timeout > 0 {
		cfg.ToolTimeout = inv.Timeout
	}
	return cfg, nil
}

// buildEnvironment layers the env file over the inherited variables. The
// values are handed to tools only; the process environment is not touched.
func buildEnvironment(inv Invocation) (core.Environment, error) {
	vars := maps.Clone(inv.Vars)
	if vars == nil {
		vars = map[string]string{}
	}
	if inv.EnvFile != "" {
		fileVars, err := godotenv.Read(inv.EnvFile)
		if err != nil {
			return core.Environment{}, &config.ConfigError{Field: "env-file", Msg: err.Error()}
		}
		maps.Copy(vars, fileVars)
	}
	return core.Environment{WorkDir: inv.WorkDir, Vars: vars}, nil
}

func writeTrace(path string, tr trace.StudyTrace) error {
	b, err := tr.CanonicalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return core.WriteFileAtomic(path, b, 0o644)
}

func resolvePath(workDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(workDir, p)
}
