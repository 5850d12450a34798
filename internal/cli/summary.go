package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"ppaflow/internal/core"
	"ppaflow/internal/pipeline"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

// WriteSummary prints one line per stage followed by every failed
// coordinate. States are coloured when w is a terminal.
func WriteSummary(w io.Writer, tree *pipeline.ResultTree) {
	writeSummary(w, tree, isTerminal(w))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func writeSummary(w io.Writer, tree *pipeline.ResultTree, color bool) {
	if tree == nil {
		return
	}
	var b strings.Builder
	for _, stage := range core.Stages {
		state := tree.State(stage)
		c := tree.Counts(stage)
		fmt.Fprintf(&b, "%-10s %s  succeeded=%d failed=%d cached=%d\n",
			stage, paint(fmt.Sprintf("%-9s", state), stateColor(state), color), c.Succeeded, c.Failed, c.Cached)
	}
	if failures := tree.Failures(); len(failures) > 0 {
		fmt.Fprintf(&b, "%d failed coordinate(s):\n", len(failures))
		for _, f := range failures {
			fmt.Fprintf(&b, "  %s %s: %v\n", f.Stage, f.Coordinate, f.Err)
		}
	}
	io.WriteString(w, b.String())
}

func stateColor(s pipeline.StageState) string {
	switch s {
	case pipeline.StageCompleted:
		return ansiGreen
	case pipeline.StageFailed:
		return ansiRed
	case pipeline.StageSkipped:
		return ansiYellow
	default:
		return ""
	}
}

func paint(s, code string, color bool) string {
	if !color || code == "" {
		return s
	}
	return code + s + ansiReset
}
