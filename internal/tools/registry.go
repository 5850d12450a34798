package tools

import (
	"fmt"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
)

// UnsupportedToolError is returned when no adapter is registered for a
// configured tool.
type UnsupportedToolError struct {
	Role string
	Tool string
}

func (e *UnsupportedToolError) Error() string {
	return fmt.Sprintf("no %s adapter registered for %q", e.Role, e.Tool)
}

func (e *UnsupportedToolError) Unwrap() error { return core.ErrUnsupportedTool }

// Registry maps tool enums to adapters. Register everything before a run
// starts; lookups are read-only afterwards and safe for concurrent use.
type Registry struct {
	builder      Builder
	simulators   map[config.SimulatorKind]Simulator
	synthesizers map[config.SynthesisKind]Synthesizer
	placeRouters map[config.PlaceRouteKind]PlaceRouter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		simulators:   make(map[config.SimulatorKind]Simulator),
		synthesizers: make(map[config.SynthesisKind]Synthesizer),
		placeRouters: make(map[config.PlaceRouteKind]PlaceRouter),
	}
}

func (r *Registry) SetBuilder(b Builder) { r.builder = b }

func (r *Registry) RegisterSimulator(kind config.SimulatorKind, s Simulator) {
	r.simulators[kind] = s
}

func (r *Registry) RegisterSynthesizer(kind config.SynthesisKind, s Synthesizer) {
	r.synthesizers[kind] = s
}

func (r *Registry) RegisterPlaceRouter(kind config.PlaceRouteKind, p PlaceRouter) {
	r.placeRouters[kind] = p
}

func (r *Registry) Builder() (Builder, error) {
	if r.builder == nil {
		return nil, &UnsupportedToolError{Role: "build", Tool: "default"}
	}
	return r.builder, nil
}

func (r *Registry) Simulator(kind config.SimulatorKind) (Simulator, error) {
	s, ok := r.simulators[kind]
	if !ok {
		return nil, &UnsupportedToolError{Role: "simulator", Tool: string(kind)}
	}
	return s, nil
}

func (r *Registry) Synthesizer(kind config.SynthesisKind) (Synthesizer, error) {
	s, ok := r.synthesizers[kind]
	if !ok {
		return nil, &UnsupportedToolError{Role: "synthesis", Tool: string(kind)}
	}
	return s, nil
}

func (r *Registry) PlaceRouter(kind config.PlaceRouteKind) (PlaceRouter, error) {
	p, ok := r.placeRouters[kind]
	if !ok {
		return nil, &UnsupportedToolError{Role: "place-and-route", Tool: string(kind)}
	}
	return p, nil
}

// Default wrapper executables the command adapters invoke.
const (
	BazelBinary      = "bazel"
	VerilatorWrapper = "ppaflow-verilator"
	VCSWrapper       = "ppaflow-vcs"
	YosysWrapper     = "ppaflow-yosys"
	OpenROADWrapper  = "ppaflow-openroad"
)

// DefaultRegistry wires the Bazel builder and the command-backed simulator,
// synthesis and place-and-route adapters.
func DefaultRegistry(exec *core.ProcessExecutor) *Registry {
	r := NewRegistry()
	r.SetBuilder(&BazelBuilder{Exec: exec, Binary: BazelBinary})
	r.RegisterSimulator(config.SimulatorVerilator, &CommandSimulator{Tool: CommandTool{Name: "verilator", Argv: []string{VerilatorWrapper}, Exec: exec}})
	r.RegisterSimulator(config.SimulatorVCS, &CommandSimulator{Tool: CommandTool{Name: "vcs", Argv: []string{VCSWrapper}, Exec: exec}})
	r.RegisterSynthesizer(config.SynthesisYosys, &CommandSynthesizer{Tool: CommandTool{Name: "yosys", Argv: []string{YosysWrapper}, Exec: exec}})
	r.RegisterPlaceRouter(config.PlaceRouteOpenROAD, &CommandPlaceRouter{Tool: CommandTool{Name: "openroad", Argv: []string{OpenROADWrapper}, Exec: exec}})
	return r
}
