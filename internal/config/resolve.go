package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"ppaflow/internal/core"
)

// Documented defaults for every study field.
const (
	DefaultCompiler           = "gcc"
	DefaultCompilerFlags      = "-O2"
	DefaultMaxCycles          = 10_000_000
	DefaultClockPeriodNS      = 10.0
	DefaultUtilizationTarget  = 0.7
	DefaultOutputDir          = "analysis/targets"
	DefaultPlotFormat         = PlotCSV
	DefaultReportFormat       = ReportHTML
	DefaultComparisonBaseline = "rocket"
	DefaultToolTimeoutSeconds = 3600
	DefaultRTLRoot            = "design/hardware/rtl/cores"
	DefaultTestbench          = "design/hardware/rtl/testbench/universal_tb.sv"
	DefaultPDKRoot            = "design/hardware/physical"
	DefaultBuildTarget        = "//design/software/{benchmark}:executable"
)

// Resolve turns a parsed configuration mapping into a StudyConfig.
//
// Every field has a default. All problems found are reported together, and
// always before any stage runs:
//   - unknown top-level or per-core keys
//   - empty core, benchmark or PDK identifiers, or ones that are not a
//     single path element
//   - a core listed twice with conflicting tool options
//   - cores_config entries for cores that are not part of the study
//   - unsupported simulator / synthesis / place-and-route tools
//   - out-of-range numeric limits
//   - plot or report formats the reporter cannot produce
//
// Resolve is deterministic: the same raw input always yields equal values.
func Resolve(raw map[string]any) (*StudyConfig, error) {
	r := resolver{raw: raw}
	r.rejectUnknown("", raw, studyKeys)

	cfg := &StudyConfig{
		Benchmarks:         r.identifiers("benchmarks"),
		PDKs:               r.identifiers("pdks"),
		Compiler:           r.str("compiler", DefaultCompiler),
		CompilerFlags:      r.str("compiler_flags", DefaultCompilerFlags),
		BuildTarget:        r.str("build_target", DefaultBuildTarget),
		MaxCycles:          r.integer("max_simulation_cycles", DefaultMaxCycles),
		EnableTrace:        r.boolean("enable_trace", false),
		ClockPeriodNS:      r.number("clock_period_ns", DefaultClockPeriodNS),
		UtilizationTarget:  r.number("utilization_target", DefaultUtilizationTarget),
		OutputDir:          r.str("output_dir", DefaultOutputDir),
		PlotFormat:         r.str("plot_format", DefaultPlotFormat),
		ReportFormat:       r.str("report_format", DefaultReportFormat),
		ComparisonBaseline: r.str("comparison_baseline", DefaultComparisonBaseline),
		ToolTimeout:        time.Duration(r.integer("tool_timeout_s", DefaultToolTimeoutSeconds)) * time.Second,
		RTLRoot:            r.str("rtl_root", DefaultRTLRoot),
		Testbench:          r.str("testbench", DefaultTestbench),
		PDKRoot:            r.str("pdk_root", DefaultPDKRoot),
	}
	cfg.Cores, cfg.CoreTools = r.cores()

	if cfg.MaxCycles <= 0 {
		r.fail("max_simulation_cycles", "must be > 0 (got %d)", cfg.MaxCycles)
	}
	if cfg.ClockPeriodNS <= 0 {
		r.fail("clock_period_ns", "must be > 0 (got %g)", cfg.ClockPeriodNS)
	}
	if cfg.UtilizationTarget <= 0 || cfg.UtilizationTarget > 1 {
		r.fail("utilization_target", "must be in (0, 1] (got %g)", cfg.UtilizationTarget)
	}
	if cfg.ToolTimeout <= 0 {
		r.fail("tool_timeout_s", "must be > 0")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		r.fail("output_dir", "must not be empty")
	}
	if !PlotFormats[cfg.PlotFormat] {
		r.fail("plot_format", "unsupported plot format %q (expected csv|none)", cfg.PlotFormat)
	}
	if !ReportFormats[cfg.ReportFormat] {
		r.fail("report_format", "unsupported report format %q (expected html|json)", cfg.ReportFormat)
	}
	if !strings.Contains(cfg.BuildTarget, "{benchmark}") {
		r.fail("build_target", "must contain the {benchmark} placeholder (got %q)", cfg.BuildTarget)
	}

	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	return cfg, nil
}

// Plot and report formats the reporter can produce.
const (
	PlotCSV    = "csv"
	PlotNone   = "none"
	ReportHTML = "html"
	ReportJSON = "json"
)

var (
	PlotFormats   = map[string]bool{PlotCSV: true, PlotNone: true}
	ReportFormats = map[string]bool{ReportHTML: true, ReportJSON: true}
)

// studyKeys and coreKeys are every key Resolve understands. Anything else
// is a typo and fails resolution.
var (
	studyKeys = keySet("cores", "benchmarks", "pdks", "cores_config",
		"compiler", "compiler_flags", "build_target",
		"max_simulation_cycles", "enable_trace",
		"clock_period_ns", "utilization_target",
		"output_dir", "plot_format", "report_format", "comparison_baseline",
		"tool_timeout_s", "rtl_root", "testbench", "pdk_root")
	coreKeys = keySet("simulator", "options", "syn_tool", "syn_options",
		"pr_tool", "pr_options", "build_options")
)

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

type resolver struct {
	raw  map[string]any
	errs []error
}

func (r *resolver) fail(field, format string, args ...any) {
	r.errs = append(r.errs, configErrorf(field, format, args...))
}

// rejectUnknown fails every key of m outside known, in sorted order.
func (r *resolver) rejectUnknown(prefix string, m map[string]any, known map[string]bool) {
	for _, k := range sortedKeys(m) {
		if !known[k] {
			r.fail(prefix+k, "unknown key")
		}
	}
}

// identifier checks that s can name a core, benchmark or PDK. Names become
// path elements of cache entries and tool inputs, so they must be a single
// element.
func (r *resolver) identifier(field, s string) bool {
	if err := core.CheckIdentifier(s); err != nil {
		r.fail(field, "%v", err)
		return false
	}
	return true
}

func (r *resolver) str(key, def string) string {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		r.fail(key, "expected a string, got %T", v)
		return def
	}
	return s
}

func (r *resolver) boolean(key string, def bool) bool {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		r.fail(key, "expected a boolean, got %T", v)
		return def
	}
	return b
}

func (r *resolver) number(key string, def float64) float64 {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return def
	}
	f, ok := toFloat(v)
	if !ok {
		r.fail(key, "expected a number, got %T", v)
		return def
	}
	return f
}

func (r *resolver) integer(key string, def int64) int64 {
	f := r.number(key, float64(def))
	if f != math.Trunc(f) {
		r.fail(key, "expected an integer, got %g", f)
		return def
	}
	return int64(f)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func (r *resolver) list(key string) []any {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return nil
	}
	l, ok := v.([]any)
	if !ok {
		r.fail(key, "expected a list, got %T", v)
		return nil
	}
	return l
}

// identifiers resolves a list of plain names, dropping exact duplicates.
func (r *resolver) identifiers(key string) []string {
	out := []string{}
	seen := map[string]bool{}
	for i, v := range r.list(key) {
		s, ok := v.(string)
		if !ok {
			r.fail(fmt.Sprintf("%s[%d]", key, i), "expected a string, got %T", v)
			continue
		}
		if !r.identifier(fmt.Sprintf("%s[%d]", key, i), s) {
			continue
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// cores resolves the core list. Entries are either names or mappings with a
// "name" key and inline tool fields; cores_config supplies (or must agree
// with) the tool fields of each named core.
func (r *resolver) cores() ([]string, map[string]CoreConfig) {
	var shared map[string]any
	if v, ok := r.raw["cores_config"]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			r.fail("cores_config", "expected a mapping, got %T", v)
		}
		shared = m
	}

	names := []string{}
	tools := map[string]CoreConfig{}
	for i, v := range r.list("cores") {
		field := fmt.Sprintf("cores[%d]", i)

		var name string
		var inline map[string]any
		switch e := v.(type) {
		case string:
			name = e
		case map[string]any:
			n, _ := e["name"].(string)
			name = n
			inline = e
		default:
			r.fail(field, "expected a name or mapping, got %T", v)
			continue
		}
		if !r.identifier(field, name) {
			continue
		}

		fields := map[string]any{}
		var sharedFields map[string]any
		if raw, ok := shared[name]; ok && raw != nil {
			m, ok := raw.(map[string]any)
			if !ok {
				r.fail("cores_config."+name, "expected a mapping, got %T", raw)
			}
			sharedFields = m
		}
		for k, val := range sharedFields {
			fields[k] = val
		}
		for k, val := range inline {
			if k == "name" {
				continue
			}
			if prev, ok := fields[k]; ok && !reflect.DeepEqual(prev, val) {
				r.fail(field, "core %q: %s conflicts with cores_config", name, k)
				continue
			}
			fields[k] = val
		}

		cc := r.coreConfig(name, fields)
		if prev, ok := tools[name]; ok {
			if !reflect.DeepEqual(prev, cc) {
				r.fail(field, "core %q is listed twice with conflicting tool options", name)
			}
			continue
		}
		names = append(names, name)
		tools[name] = cc
	}

	for _, name := range sortedKeys(shared) {
		if _, ok := tools[name]; !ok {
			r.fail("cores_config."+name, "core %q is not listed in cores", name)
		}
	}
	return names, tools
}

func (r *resolver) coreConfig(name string, f map[string]any) CoreConfig {
	prefix := "cores_config." + name + "."
	r.rejectUnknown(prefix, f, coreKeys)
	field := func(key, def string) string {
		v, ok := f[key]
		if !ok || v == nil {
			return def
		}
		s, ok := v.(string)
		if !ok {
			r.fail(prefix+key, "expected a string, got %T", v)
			return def
		}
		return strings.ToLower(strings.TrimSpace(s))
	}

	cc := CoreConfig{
		Name:              name,
		Simulator:         SimulatorKind(field("simulator", string(SimulatorVerilator))),
		SimOptions:        r.options(prefix+"options", f["options"]),
		SynthTool:         SynthesisKind(field("syn_tool", string(SynthesisYosys))),
		SynthOptions:      r.options(prefix+"syn_options", f["syn_options"]),
		PlaceRouteTool:    PlaceRouteKind(field("pr_tool", string(PlaceRouteOpenROAD))),
		PlaceRouteOptions: r.options(prefix+"pr_options", f["pr_options"]),
		BuildOptions:      r.options(prefix+"build_options", f["build_options"]),
	}

	switch cc.Simulator {
	case SimulatorVerilator, SimulatorVCS:
	default:
		r.fail(prefix+"simulator", "unsupported simulator %q (expected verilator|vcs)", cc.Simulator)
	}
	if cc.SynthTool != SynthesisYosys {
		r.fail(prefix+"syn_tool", "unsupported synthesis tool %q (expected yosys)", cc.SynthTool)
	}
	if cc.PlaceRouteTool != PlaceRouteOpenROAD {
		r.fail(prefix+"pr_tool", "unsupported place-and-route tool %q (expected openroad)", cc.PlaceRouteTool)
	}
	return cc
}

// options normalizes an option mapping to strings so that YAML and JSON
// sources produce identical fingerprints.
func (r *resolver) options(field string, v any) map[string]string {
	out := map[string]string{}
	if v == nil {
		return out
	}
	m, ok := v.(map[string]any)
	if !ok {
		r.fail(field, "expected a mapping, got %T", v)
		return out
	}
	for k, val := range m {
		s, err := optionString(val)
		if err != nil {
			r.fail(field+"."+k, "%v", err)
			continue
		}
		out[k] = s
	}
	return out
}

func optionString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("unsupported option value %T", v)
	}
	return string(b), nil
}
