// Package tools defines the call contracts of the external tools a study
// drives (build, RTL simulation, synthesis, place-and-route) and a registry
// that selects an implementation by the tool enum configured per core.
//
// Every request carries an explicit core.Environment. Adapters never read
// the process environment or working directory.
package tools

import (
	"context"

	"ppaflow/internal/core"
)

// BuildRequest asks the build tool to produce a target.
type BuildRequest struct {
	Target        string
	ConfigVariant string // optional, e.g. "--config=simple_core"
	Options       map[string]string
	Env           core.Environment
}

// BuildResult is the build tool's report. Path is empty when Success is false.
type BuildResult struct {
	Path    string
	Success bool
	Error   string
}

// Builder turns a target identifier into a compiled artifact path.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (BuildResult, error)
}

// SimulateRequest runs one executable on one core's RTL.
type SimulateRequest struct {
	CoreRTLPath    string
	TestbenchPath  string
	ExecutablePath string
	Options        map[string]string
	Env            core.Environment
}

// SimulateResult carries performance counters and switching activity.
type SimulateResult struct {
	Cycles             int64  `json:"cycles"`
	Instructions       int64  `json:"instructions"`
	SwitchingTracePath string `json:"switching_trace_path"`
	Success            bool   `json:"success"`
}

// Simulator is an RTL simulator adapter.
type Simulator interface {
	Simulate(ctx context.Context, req SimulateRequest) (SimulateResult, error)
}

// SynthesizeRequest synthesizes one core against one PDK.
type SynthesizeRequest struct {
	CoreRTLPath string
	PDKPath     string
	Options     map[string]string
	Env         core.Environment
}

// SynthesizeResult is the synthesized netlist.
type SynthesizeResult struct {
	NetlistPath string `json:"netlist_path"`
	CellCount   int    `json:"cell_count"`
	Success     bool   `json:"success"`
}

// Synthesizer is a logic synthesis adapter.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizeResult, error)
}

// PlaceRouteRequest places and routes a netlist. SwitchingTracePath may be
// empty, in which case power is estimated without activity data.
type PlaceRouteRequest struct {
	NetlistPath        string
	PDKPath            string
	SwitchingTracePath string
	Options            map[string]string
	Env                core.Environment
}

// PlaceRouteResult carries area (mm^2), utilization and power (mW).
type PlaceRouteResult struct {
	AreaMM2        float64 `json:"area_mm2"`
	LogicArea      float64 `json:"logic_area"`
	MemoryArea     float64 `json:"memory_area"`
	Utilization    float64 `json:"utilization"`
	DynamicPowerMW float64 `json:"dynamic_power_mw"`
	LeakagePowerMW float64 `json:"leakage_power_mw"`
	TotalPowerMW   float64 `json:"total_power_mw"`
	Success        bool    `json:"success"`
}

// PlaceRouter is a place-and-route adapter.
type PlaceRouter interface {
	PlaceAndRoute(ctx context.Context, req PlaceRouteRequest) (PlaceRouteResult, error)
}

// Requirer is implemented by adapters that shell out, so the verifier can
// check their executables before any stage runs.
type Requirer interface {
	Requires() []string
}
