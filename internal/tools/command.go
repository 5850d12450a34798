package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"ppaflow/internal/core"
)

// CommandTool invokes a tool wrapper executable.
//
// Wrapper protocol: positional inputs are passed as flags, every option as
// "--opt key=value" (sorted by key), and the wrapper prints its result as a
// single JSON object on the last non-empty stdout line. A non-zero exit
// status is a tool failure.
type CommandTool struct {
	Name string
	Argv []string
	Exec *core.ProcessExecutor
}

// CommandError reports a wrapper that exited unsuccessfully.
type CommandError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, e.Stderr)
}

func (t CommandTool) Requires() []string {
	if len(t.Argv) == 0 {
		return nil
	}
	return []string{t.Argv[0]}
}

func (t CommandTool) invoke(ctx context.Context, env core.Environment, args []string, options map[string]string, out any) error {
	if len(t.Argv) == 0 {
		return fmt.Errorf("%s: no command configured", t.Name)
	}
	exec := t.Exec
	if exec == nil {
		exec = core.NewProcessExecutor()
	}

	argv := make([]string, 0, len(t.Argv)+len(args)+2*len(options))
	argv = append(argv, t.Argv...)
	argv = append(argv, args...)
	argv = append(argv, optionFlags("--opt", options)...)

	res, err := exec.Run(ctx, env, argv)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &CommandError{Tool: t.Name, ExitCode: res.ExitCode, Stderr: tail(res.Stderr, 512)}
	}

	line := lastLine(res.Stdout)
	if len(line) == 0 {
		return fmt.Errorf("%s: no result on stdout", t.Name)
	}
	if err := json.Unmarshal(line, out); err != nil {
		return fmt.Errorf("%s: decoding result %q: %w", t.Name, line, err)
	}
	return nil
}

func optionFlags(flag string, options map[string]string) []string {
	out := make([]string, 0, 2*len(options))
	for _, kv := range optionPairs(options) {
		out = append(out, flag, kv)
	}
	return out
}

// optionPairs renders options as key=value, sorted by key.
func optionPairs(options map[string]string) []string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+options[k])
	}
	return out
}

func lastLine(b []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if l := bytes.TrimSpace(lines[i]); len(l) > 0 {
			return l
		}
	}
	return nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}

// CommandSimulator runs an RTL simulator wrapper.
type CommandSimulator struct {
	Tool CommandTool
}

func (s *CommandSimulator) Requires() []string { return s.Tool.Requires() }

func (s *CommandSimulator) Simulate(ctx context.Context, req SimulateRequest) (SimulateResult, error) {
	var out SimulateResult
	args := []string{
		"--rtl", req.CoreRTLPath,
		"--testbench", req.TestbenchPath,
		"--executable", req.ExecutablePath,
	}
	if err := s.Tool.invoke(ctx, req.Env, args, req.Options, &out); err != nil {
		return SimulateResult{}, err
	}
	return out, nil
}

// CommandSynthesizer runs a logic synthesis wrapper.
type CommandSynthesizer struct {
	Tool CommandTool
}

func (s *CommandSynthesizer) Requires() []string { return s.Tool.Requires() }

func (s *CommandSynthesizer) Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizeResult, error) {
	var out SynthesizeResult
	args := []string{"--rtl", req.CoreRTLPath, "--pdk", req.PDKPath}
	if err := s.Tool.invoke(ctx, req.Env, args, req.Options, &out); err != nil {
		return SynthesizeResult{}, err
	}
	return out, nil
}

// CommandPlaceRouter runs a place-and-route wrapper.
type CommandPlaceRouter struct {
	Tool CommandTool
}

func (p *CommandPlaceRouter) Requires() []string { return p.Tool.Requires() }

func (p *CommandPlaceRouter) PlaceAndRoute(ctx context.Context, req PlaceRouteRequest) (PlaceRouteResult, error) {
	var out PlaceRouteResult
	args := []string{"--netlist", req.NetlistPath, "--pdk", req.PDKPath}
	if req.SwitchingTracePath != "" {
		args = append(args, "--switching", req.SwitchingTracePath)
	}
	if err := p.Tool.invoke(ctx, req.Env, args, req.Options, &out); err != nil {
		return PlaceRouteResult{}, err
	}
	return out, nil
}
