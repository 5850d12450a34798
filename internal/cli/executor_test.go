package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
	"ppaflow/internal/runlog"
	"ppaflow/internal/tools"
	"ppaflow/internal/tools/toolstest"
)

const studyYAML = `cores: [rocket]
benchmarks: [fft]
pdks: [sky130]
output_dir: out
`

func writeStudy(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "study.yaml")
	if err := os.WriteFile(p, []byte(studyYAML), 0o644); err != nil {
		t.Fatalf("write study: %v", err)
	}
	return p
}

func invocation(t *testing.T, cmd Command) Invocation {
	t.Helper()
	wd := t.TempDir()
	return Invocation{
		Command:     cmd,
		WorkDir:     wd,
		ConfigPath:  writeStudy(t, wd),
		Concurrency: 1,
		Vars:        map[string]string{"PATH": "/usr/bin:/bin"},
	}
}

func loadOnlyRun(t *testing.T, outputDir string) (*runlog.Store, runlog.Run) {
	t.Helper()
	st, err := runlog.NewStore(outputDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ids, err := st.ListRunIDs()
	if err != nil {
		t.Fatalf("ListRunIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected exactly one run record, got %v", ids)
	}
	run, err := st.LoadRun(ids[0])
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	return st, run
}

func TestExecute_FullStudySucceeds(t *testing.T) {
	inv := invocation(t, CommandRun)
	tc := toolstest.NewToolchain()
	var stderr bytes.Buffer

	res, err := ExecuteWith(context.Background(), inv, Toolchain{Registry: tc.Registry, Verifier: tc.Verifier}, &stderr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != ExitSuccess {
		t.Fatalf("expected exit %d got %d", ExitSuccess, res.ExitCode)
	}

	out := filepath.Join(inv.WorkDir, "out")
	st, run := loadOnlyRun(t, out)
	if run.RunID != res.RunID || run.Status != runlog.StatusSucceeded || run.Command != "run" || run.EndTime == nil {
		t.Fatalf("unexpected run record: %+v", run)
	}
	summary, err := st.LoadSummary(run.RunID)
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	if summary.Stages["analyze"].Succeeded != 1 || len(summary.Failures) != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if _, err := st.LoadFailure(run.RunID); err == nil {
		t.Fatal("successful run must not record a failure")
	}

	an, ok := res.Tree.Result(core.StageAnalyze, core.Study)
	if !ok || !an.OK() {
		t.Fatalf("analyze result missing or failed: %+v", an)
	}
	html := an.Payload.(core.AnalyzePayload).Reports["html"]
	if !strings.HasPrefix(html, filepath.Join(out, "reports")) {
		t.Fatalf("report %q not under output dir", html)
	}
	if _, err := os.Stat(filepath.Join(out, "cache")); err != nil {
		t.Fatalf("expected cache dir: %v", err)
	}
	if !strings.Contains(stderr.String(), "succeeded=1") {
		t.Fatalf("summary not written to stderr:\n%s", stderr.String())
	}
}

func TestExecute_CoordinateFailureExitsNonZero(t *testing.T) {
	inv := invocation(t, CommandSimulate)
	tc := toolstest.NewToolchain()
	tc.Simulator.Fn = func(context.Context, tools.SimulateRequest) (tools.SimulateResult, error) {
		return tools.SimulateResult{}, errors.New("assertion failed in testbench")
	}
	var stderr bytes.Buffer

	res, err := ExecuteWith(context.Background(), inv, Toolchain{Registry: tc.Registry, Verifier: tc.Verifier}, &stderr)
	var sf *runlog.StudyFailureError
	if !errors.As(err, &sf) || sf.Stage != core.StageSimulate {
		t.Fatalf("expected study failure in simulate, got %v", err)
	}
	if res.ExitCode != ExitStudyFailure {
		t.Fatalf("expected exit %d got %d", ExitStudyFailure, res.ExitCode)
	}
	if tc.Synthesizer.Calls() != 0 {
		t.Fatal("simulate command must not run synthesis")
	}

	st, run := loadOnlyRun(t, filepath.Join(inv.WorkDir, "out"))
	if run.Status != runlog.StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	f, err := st.LoadFailure(run.RunID)
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if f.FailureClass != runlog.FailureClassExecution || f.ErrorCode != "ToolError" || f.Stage == nil || *f.Stage != "simulate" {
		t.Fatalf("unexpected failure record: %+v", f)
	}
	if !strings.Contains(stderr.String(), "simulate rocket/fft") {
		t.Fatalf("failed coordinate missing from summary:\n%s", stderr.String())
	}
}

func TestExecute_ConfigErrorIsRecorded(t *testing.T) {
	inv := invocation(t, CommandRun)
	inv.Cores = []string{"boom"}
	tc := toolstest.NewToolchain()

	res, err := ExecuteWith(context.Background(), inv, Toolchain{Registry: tc.Registry, Verifier: tc.Verifier}, nil)
	if !errors.Is(err, config.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if res.ExitCode != ExitConfigError {
		t.Fatalf("expected exit %d got %d", ExitConfigError, res.ExitCode)
	}
	if tc.Verifier.Calls() != 0 {
		t.Fatal("no stage may run with an invalid configuration")
	}

	st, run := loadOnlyRun(t, filepath.Join(inv.WorkDir, config.DefaultOutputDir))
	f, err := st.LoadFailure(run.RunID)
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if f.FailureClass != runlog.FailureClassConfig {
		t.Fatalf("failure class = %s", f.FailureClass)
	}
}

func TestExecute_ConfigErrorSurvivesUnwritableRunLog(t *testing.T) {
	inv := invocation(t, CommandRun)
	inv.Cores = []string{"boom"}
	inv.OutputDir = filepath.Join(inv.WorkDir, "not-a-dir")
	if err := os.WriteFile(inv.OutputDir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tc := toolstest.NewToolchain()
	var stderr bytes.Buffer

	res, err := ExecuteWith(context.Background(), inv, Toolchain{Registry: tc.Registry, Verifier: tc.Verifier}, &stderr)
	if !errors.Is(err, config.ErrConfig) || res.ExitCode != ExitConfigError {
		t.Fatalf("expected the config error to win, got exit %d err %v", res.ExitCode, err)
	}
	if res.RunID != "" {
		t.Fatalf("no run could be recorded, got id %q", res.RunID)
	}
	if !strings.Contains(stderr.String(), "starting run record") {
		t.Fatalf("run log failure not reported:\n%s", stderr.String())
	}
}

type envCapture struct{ env core.Environment }

func (v *envCapture) Verify(_ context.Context, _ *config.StudyConfig, env core.Environment) (core.VerifyPayload, error) {
	v.env = env
	return core.VerifyPayload{Checked: []string{"workdir"}}, nil
}

func TestExecute_EnvFileLayersOverInheritedVars(t *testing.T) {
	inv := invocation(t, CommandVerify)
	inv.EnvFile = filepath.Join(inv.WorkDir, "tools.env")
	if err := os.WriteFile(inv.EnvFile, []byte("VERILATOR_ROOT=/opt/verilator\nPATH=/opt/eda/bin:/usr/bin\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	inv.Vars["HOME"] = "/home/ci"
	v := &envCapture{}
	tc := toolstest.NewToolchain()

	res, err := ExecuteWith(context.Background(), inv, Toolchain{Registry: tc.Registry, Verifier: v}, nil)
	if err != nil || res.ExitCode != ExitSuccess {
		t.Fatalf("exit %d: %v", res.ExitCode, err)
	}
	want := map[string]string{"VERILATOR_ROOT": "/opt/verilator", "PATH": "/opt/eda/bin:/usr/bin", "HOME": "/home/ci"}
	for k, val := range want {
		if v.env.Vars[k] != val {
			t.Fatalf("%s = %q, want %q", k, v.env.Vars[k], val)
		}
	}
	if v.env.WorkDir != inv.WorkDir {
		t.Fatalf("workdir = %q", v.env.WorkDir)
	}
	if _, ok := os.LookupEnv("VERILATOR_ROOT"); ok {
		t.Fatal("env file must not leak into the process environment")
	}
	if tc.Builder.Calls() != 0 {
		t.Fatal("verify command must not compile")
	}
}

func TestExecute_MissingEnvFileIsConfigError(t *testing.T) {
	inv := invocation(t, CommandVerify)
	inv.EnvFile = filepath.Join(inv.WorkDir, "absent.env")
	tc := toolstest.NewToolchain()

	res, err := ExecuteWith(context.Background(), inv, Toolchain{Registry: tc.Registry, Verifier: tc.Verifier}, nil)
	if !errors.Is(err, config.ErrConfig) || res.ExitCode != ExitConfigError {
		t.Fatalf("exit %d: %v", res.ExitCode, err)
	}
}

func TestExecute_CleanRemovesCacheAndReports(t *testing.T) {
	inv := invocation(t, CommandCompile)
	inv.Clean = true
	out := filepath.Join(inv.WorkDir, "out")
	stale := []string{filepath.Join(out, "reports", "old.html"), filepath.Join(out, "plots", "old.csv"), filepath.Join(out, "cache", "junk")}
	for _, p := range stale {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("stale"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tc := toolstest.NewToolchain()
	toolchain := Toolchain{Registry: tc.Registry, Verifier: tc.Verifier}

	if res, err := ExecuteWith(context.Background(), inv, toolchain, nil); err != nil || res.ExitCode != ExitSuccess {
		t.Fatalf("exit %d: %v", res.ExitCode, err)
	}
	for _, p := range stale {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, stat err=%v", p, err)
		}
	}

	// Without --clean the second run is served from the cache.
	inv.Clean = false
	if res, err := ExecuteWith(context.Background(), inv, toolchain, nil); err != nil || res.ExitCode != ExitSuccess {
		t.Fatalf("exit %d: %v", res.ExitCode, err)
	}
	if tc.Builder.Calls() != 1 {
		t.Fatalf("builder calls = %d, want 1", tc.Builder.Calls())
	}

	inv.Clean = true
	res, err := ExecuteWith(context.Background(), inv, toolchain, nil)
	if err != nil || res.ExitCode != ExitSuccess {
		t.Fatalf("exit %d: %v", res.ExitCode, err)
	}
	if tc.Builder.Calls() != 2 {
		t.Fatalf("clean run must rebuild, builder calls = %d", tc.Builder.Calls())
	}
	st, _ := runlog.NewStore(out)
	run, err := st.LoadRun(res.RunID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if run.Mode != runlog.ModeClean || run.PreviousRunID == nil {
		t.Fatalf("unexpected run record: %+v", run)
	}
}

func TestExecute_WritesCanonicalTrace(t *testing.T) {
	inv := invocation(t, CommandCompile)
	inv.TracePath = filepath.Join(inv.WorkDir, "traces", "study.json")
	tc := toolstest.NewToolchain()

	if res, err := ExecuteWith(context.Background(), inv, Toolchain{Registry: tc.Registry, Verifier: tc.Verifier}, nil); err != nil || res.ExitCode != ExitSuccess {
		t.Fatalf("exit %d: %v", res.ExitCode, err)
	}
	b, err := os.ReadFile(inv.TracePath)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	var doc struct {
		StudyHash string           `json:"studyHash"`
		Events    []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("trace is not JSON: %v", err)
	}
	if doc.StudyHash == "" || len(doc.Events) == 0 {
		t.Fatalf("unexpected trace: %s", b)
	}
}

type panicVerifier struct{}

func (panicVerifier) Verify(context.Context, *config.StudyConfig, core.Environment) (core.VerifyPayload, error) {
	panic("boom")
}

func TestExecute_PanicMapsToInternalError(t *testing.T) {
	inv := invocation(t, CommandVerify)
	tc := toolstest.NewToolchain()

	res, err := ExecuteWith(context.Background(), inv, Toolchain{Registry: tc.Registry, Verifier: panicVerifier{}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.ExitCode != ExitInternalError {
		t.Fatalf("expected exit %d got %d", ExitInternalError, res.ExitCode)
	}
	st, run := loadOnlyRun(t, filepath.Join(inv.WorkDir, "out"))
	f, err := st.LoadFailure(run.RunID)
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if f.FailureClass != runlog.FailureClassSystem || run.Status != runlog.StatusFailed {
		t.Fatalf("unexpected records: %+v %+v", run, f)
	}
}

func TestRun_InvalidInvocation(t *testing.T) {
	res, err := Run(context.Background(), []string{"run"})
	if err == nil || res.ExitCode != ExitInvalidInvocation {
		t.Fatalf("exit %d: %v", res.ExitCode, err)
	}
}
