// Package config resolves raw study configuration into an immutable
// StudyConfig and derives the per-stage views each pipeline stage consumes.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path"
	"sort"
	"strings"
	"time"
)

// SimulatorKind selects the RTL simulator adapter.
type SimulatorKind string

const (
	SimulatorVerilator SimulatorKind = "verilator"
	SimulatorVCS       SimulatorKind = "vcs"
)

// SynthesisKind selects the logic synthesis adapter.
type SynthesisKind string

const SynthesisYosys SynthesisKind = "yosys"

// PlaceRouteKind selects the place-and-route adapter.
type PlaceRouteKind string

const PlaceRouteOpenROAD PlaceRouteKind = "openroad"

// CoreConfig is the tool selection and option set of one processor core.
type CoreConfig struct {
	Name string `json:"name"`

	Simulator  SimulatorKind     `json:"simulator"`
	SimOptions map[string]string `json:"sim_options"`

	SynthTool    SynthesisKind     `json:"syn_tool"`
	SynthOptions map[string]string `json:"syn_options"`

	PlaceRouteTool    PlaceRouteKind    `json:"pr_tool"`
	PlaceRouteOptions map[string]string `json:"pr_options"`

	BuildOptions map[string]string `json:"build_options"`
}

// StudyConfig is the resolved, read-only configuration of one study.
//
// It is created once by Resolve and passed explicitly to every component;
// nothing reads it from global state. Callers must not mutate its maps or
// slices.
type StudyConfig struct {
	Cores      []string              `json:"cores"`
	Benchmarks []string              `json:"benchmarks"`
	PDKs       []string              `json:"pdks"`
	CoreTools  map[string]CoreConfig `json:"cores_config"`

	Compiler      string `json:"compiler"`
	CompilerFlags string `json:"compiler_flags"`
	BuildTarget   string `json:"build_target"`

	MaxCycles   int64 `json:"max_simulation_cycles"`
	EnableTrace bool  `json:"enable_trace"`

	ClockPeriodNS     float64 `json:"clock_period_ns"`
	UtilizationTarget float64 `json:"utilization_target"`

	OutputDir          string `json:"output_dir"`
	PlotFormat         string `json:"plot_format"`
	ReportFormat       string `json:"report_format"`
	ComparisonBaseline string `json:"comparison_baseline"`

	ToolTimeout time.Duration `json:"tool_timeout"`

	RTLRoot   string `json:"rtl_root"`
	Testbench string `json:"testbench"`
	PDKRoot   string `json:"pdk_root"`
}

// HasCore reports whether name is a configured core.
func (c *StudyConfig) HasCore(name string) bool { return contains(c.Cores, name) }

// HasBenchmark reports whether name is a configured benchmark.
func (c *StudyConfig) HasBenchmark(name string) bool { return contains(c.Benchmarks, name) }

// HasPDK reports whether name is a configured PDK.
func (c *StudyConfig) HasPDK(name string) bool { return contains(c.PDKs, name) }

// Core returns the tool configuration of a core.
func (c *StudyConfig) Core(name string) (CoreConfig, bool) {
	cc, ok := c.CoreTools[name]
	return cc, ok
}

// CoreRTLPath is the RTL source directory of core, relative to the work dir.
func (c *StudyConfig) CoreRTLPath(core string) string { return path.Join(c.RTLRoot, core) }

// PDKPath is the process design kit directory of pdk.
func (c *StudyConfig) PDKPath(pdk string) string { return path.Join(c.PDKRoot, pdk) }

// BuildTargetFor expands the build target template for benchmark.
func (c *StudyConfig) BuildTargetFor(benchmark string) string {
	return strings.ReplaceAll(c.BuildTarget, "{benchmark}", benchmark)
}

// BuildVariantFor is the build configuration variant selecting core.
func (c *StudyConfig) BuildVariantFor(core string) string { return "--config=" + core }

// Fingerprint is a stable hash of the whole study configuration.
func (c *StudyConfig) Fingerprint() string {
	b, err := json.Marshal(c)
	if err != nil {
		// StudyConfig only holds JSON-safe values.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SoftwareConfig is the compile stage's view of the study.
type SoftwareConfig struct {
	Benchmarks    []string
	TargetCores   []string
	Compiler      string
	CompilerFlags string
}

// SimulationConfig is the simulate stage's view of the study.
type SimulationConfig struct {
	Cores        map[string]CoreConfig
	MaxCycles    int64
	TraceEnabled bool
}

// SynthesisConfig is the synthesize stage's view of the study.
type SynthesisConfig struct {
	Cores             map[string]CoreConfig
	PDKs              []string
	ClockPeriodNS     float64
	UtilizationTarget float64
}

// AnalysisConfig is the analyze stage's view of the study.
type AnalysisConfig struct {
	OutputDir          string
	PlotFormat         string
	ReportFormat       string
	ComparisonBaseline string
}

func (c *StudyConfig) Software() SoftwareConfig {
	return SoftwareConfig{
		Benchmarks:    c.Benchmarks,
		TargetCores:   c.Cores,
		Compiler:      c.Compiler,
		CompilerFlags: c.CompilerFlags,
	}
}

func (c *StudyConfig) Simulation() SimulationConfig {
	return SimulationConfig{Cores: c.CoreTools, MaxCycles: c.MaxCycles, TraceEnabled: c.EnableTrace}
}

func (c *StudyConfig) Synthesis() SynthesisConfig {
	return SynthesisConfig{
		Cores:             c.CoreTools,
		PDKs:              c.PDKs,
		ClockPeriodNS:     c.ClockPeriodNS,
		UtilizationTarget: c.UtilizationTarget,
	}
}

func (c *StudyConfig) Analysis() AnalysisConfig {
	return AnalysisConfig{
		OutputDir:          c.OutputDir,
		PlotFormat:         c.PlotFormat,
		ReportFormat:       c.ReportFormat,
		ComparisonBaseline: c.ComparisonBaseline,
	}
}

// Subset narrows the study to the named cores, benchmarks and PDKs. Empty
// selections keep the full list. Unknown names are configuration errors.
func (c *StudyConfig) Subset(cores, benchmarks, pdks []string) (*StudyConfig, error) {
	out := *c
	var err error
	if out.Cores, err = selectNames("cores", c.Cores, cores); err != nil {
		return nil, err
	}
	if out.Benchmarks, err = selectNames("benchmarks", c.Benchmarks, benchmarks); err != nil {
		return nil, err
	}
	if out.PDKs, err = selectNames("pdks", c.PDKs, pdks); err != nil {
		return nil, err
	}
	out.CoreTools = make(map[string]CoreConfig, len(out.Cores))
	for _, name := range out.Cores {
		out.CoreTools[name] = c.CoreTools[name]
	}
	return &out, nil
}

func selectNames(field string, all, want []string) ([]string, error) {
	if len(want) == 0 {
		return all, nil
	}
	keep := make(map[string]bool, len(want))
	for _, w := range want {
		if !contains(all, w) {
			return nil, configErrorf(field, "%q is not part of the study", w)
		}
		keep[w] = true
	}
	out := make([]string, 0, len(keep))
	for _, a := range all {
		if keep[a] {
			out = append(out, a)
		}
	}
	return out, nil
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
