package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
	"ppaflow/internal/pipeline"
	"ppaflow/internal/tools"
	"ppaflow/internal/tools/toolstest"
)

func failingTree(t *testing.T) *pipeline.ResultTree {
	t.Helper()
	tc := toolstest.NewToolchain()
	tc.Synthesizer.Fn = func(context.Context, tools.SynthesizeRequest) (tools.SynthesizeResult, error) {
		return tools.SynthesizeResult{}, errors.New("timing not met")
	}
	cfg, err := config.Resolve(map[string]any{"cores": []any{"rocket"}, "benchmarks": []any{"fft"}, "pdks": []any{"sky130"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	o := pipeline.New(tc.Registry, core.NewMemoryStore(), tc.Verifier, nil, pipeline.Options{})
	tree, err := o.Run(context.Background(), cfg, core.Environment{WorkDir: t.TempDir()}, core.StageSynthesize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tree
}

func TestWriteSummary_PlainText(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, failingTree(t))
	out := buf.String()

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 7 {
		t.Fatalf("expected 5 stage lines plus failures, got:\n%s", out)
	}
	for i, stage := range core.Stages {
		if !strings.HasPrefix(lines[i], string(stage)) {
			t.Fatalf("line %d = %q, want stage %s", i, lines[i], stage)
		}
	}
	if !strings.Contains(lines[3], "FAILED") || !strings.Contains(lines[3], "failed=1") {
		t.Fatalf("synthesize line = %q", lines[3])
	}
	if !strings.Contains(lines[4], "SKIPPED") {
		t.Fatalf("analyze line = %q", lines[4])
	}
	if lines[5] != "1 failed coordinate(s):" || !strings.Contains(lines[6], "synthesize rocket/sky130/fft") {
		t.Fatalf("failure listing = %q", lines[5:])
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatal("a buffer is not a terminal; output must not be coloured")
	}
}

func TestWriteSummary_Colour(t *testing.T) {
	var buf bytes.Buffer
	writeSummary(&buf, failingTree(t), true)
	out := buf.String()
	if !strings.Contains(out, ansiRed+"FAILED") || !strings.Contains(out, ansiGreen+"COMPLETED") || !strings.Contains(out, ansiYellow+"SKIPPED") {
		t.Fatalf("expected coloured states:\n%q", out)
	}
}
