package runlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
	"ppaflow/internal/pipeline"
	"ppaflow/internal/tools"
	"ppaflow/internal/tools/toolstest"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	base := t.TempDir()
	s, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, base
}

func TestStore_SaveAndLoadRun_PreviousRunIDIsNullable(t *testing.T) {
	store, base := newStore(t)
	run := Run{
		RunID:     "run-123",
		StudyHash: "sh-abc",
		Command:   "run",
		Mode:      ModeIncremental,
		StartTime: time.Unix(1, 0).UTC(),
		Status:    StatusRunning,
	}
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, "runs", "run-123", "run.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"previous_run_id": null`) {
		t.Fatalf("expected previous_run_id to be null; got: %s", data)
	}

	loaded, err := store.LoadRun("run-123")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if loaded.RunID != run.RunID || loaded.StudyHash != run.StudyHash || loaded.PreviousRunID != nil {
		t.Fatalf("loaded run mismatch: %+v", loaded)
	}
}

func TestStore_RejectsInvalidRecords(t *testing.T) {
	store, _ := newStore(t)
	if err := store.SaveRun(Run{RunID: "x"}); err == nil {
		t.Fatal("expected validation error")
	}
	if err := store.SaveFailure("x", Failure{FailureClass: "bogus", ErrorCode: "c", ErrorMessage: "m"}); err == nil {
		t.Fatal("expected validation error for unknown class")
	}
	if _, err := NewStore(" "); err == nil {
		t.Fatal("expected error for empty base dir")
	}
}

func TestStore_LoadRejectsUnknownFields(t *testing.T) {
	store, base := newStore(t)
	dir := filepath.Join(base, "runs", "r1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "failure.json"),
		[]byte(`{"failure_class":"system","error_code":"c","error_message":"m","extra":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadFailure("r1"); err == nil {
		t.Fatal("expected strict decoding to reject unknown field")
	}
}

func TestRecorder_LinksRunsAndFinishes(t *testing.T) {
	store, _ := newStore(t)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &Recorder{Store: store, Now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}}

	first, err := rec.StartRun("compile", "sh", ModeIncremental)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if first.PreviousRunID != nil {
		t.Fatal("first run must not have a predecessor")
	}
	if _, err := rec.FinishRun(first, StatusSucceeded); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	second, err := rec.StartRun("run", "sh", ModeClean)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if second.PreviousRunID == nil || *second.PreviousRunID != first.RunID {
		t.Fatalf("previous run = %v, want %s", second.PreviousRunID, first.RunID)
	}
	if second.RunID == first.RunID || len(second.RunID) != 36 {
		t.Fatalf("unexpected run id %q", second.RunID)
	}

	loaded, err := store.LoadRun(first.RunID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if loaded.Status != StatusSucceeded || loaded.EndTime == nil {
		t.Fatalf("run not finished: %+v", loaded)
	}
}

func TestClassify(t *testing.T) {
	conflict := &core.StageError{
		Kind: core.ErrCacheConflict, Stage: core.StageCompile, Coordinate: core.Pair("rocket", "fft"),
		Cause: &core.ConflictError{Stage: core.StageCompile, Coordinate: core.Pair("rocket", "fft"), Existing: "a", Incoming: "b"},
	}
	tests := []struct {
		name  string
		err   error
		class FailureClass
		code  string
		stage string
	}{
		{"config", fmt.Errorf("loading: %w", &config.ConfigError{Field: "cores", Msg: "bad"}), FailureClassConfig, "ConfigError", ""},
		{"conflict", errors.Join(conflict), FailureClassCacheConflict, "CacheConflict", "compile"},
		{"verify", &StudyFailureError{Stage: core.StageVerify, Failed: 1, First: &core.StageError{Kind: core.ErrTool, Stage: core.StageVerify}}, FailureClassVerify, "ToolError", "verify"},
		{"timeout", &StudyFailureError{Stage: core.StageSimulate, Failed: 2, First: &core.StageError{Kind: core.ErrTimeout, Stage: core.StageSimulate}}, FailureClassExecution, "Timeout", "simulate"},
		{"unknown", errors.New("disk on fire"), FailureClassSystem, "UnknownError", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := classify(tt.err)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.FailureClass != tt.class || f.ErrorCode != tt.code {
				t.Fatalf("got %s/%s, want %s/%s", f.FailureClass, f.ErrorCode, tt.class, tt.code)
			}
			got := ""
			if f.Stage != nil {
				got = *f.Stage
			}
			if got != tt.stage {
				t.Fatalf("stage = %q, want %q", got, tt.stage)
			}
			if err := f.Validate(); err != nil {
				t.Fatalf("invalid failure: %v", err)
			}
		})
	}
}

func TestSummaryAndFailureFromTree(t *testing.T) {
	tc := toolstest.NewToolchain()
	tc.Simulator.Fn = func(context.Context, tools.SimulateRequest) (tools.SimulateResult, error) {
		return tools.SimulateResult{}, errors.New("segfault")
	}
	cfg, err := config.Resolve(map[string]any{
		"cores": []any{"rocket"}, "benchmarks": []any{"fft"}, "pdks": []any{"sky130"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	o := pipeline.New(tc.Registry, core.NewMemoryStore(), tc.Verifier, nil, pipeline.Options{})
	tree, err := o.Run(context.Background(), cfg, core.Environment{WorkDir: t.TempDir()}, core.StageSynthesize)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	store, _ := newStore(t)
	rec := &Recorder{Store: store}
	if err := rec.RecordSummary("r1", tree); err != nil {
		t.Fatalf("RecordSummary: %v", err)
	}
	s, err := store.LoadSummary("r1")
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	if s.Stages["compile"].Succeeded != 1 || s.Stages["simulate"].Failed != 1 {
		t.Fatalf("unexpected stage summary: %+v", s.Stages)
	}
	if s.Stages["synthesize"].State != "COMPLETED" || s.Stages["analyze"].State != "SKIPPED" {
		t.Fatalf("unexpected states: %+v", s.Stages)
	}
	if len(s.Failures) != 1 || s.Failures[0].Kind != "tool error" || s.Failures[0].Coordinate != "rocket/fft" {
		t.Fatalf("unexpected failures: %+v", s.Failures)
	}

	ferr := FailureFromTree(tree)
	if ferr == nil {
		t.Fatal("expected a study failure")
	}
	if err := rec.RecordFailure("r1", ferr); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	f, err := store.LoadFailure("r1")
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if f.FailureClass != FailureClassExecution || f.Stage == nil || *f.Stage != "simulate" {
		t.Fatalf("unexpected failure: %+v", f)
	}
}
