// Package toolstest provides scriptable in-process tool adapters for tests.
//
// Each fake counts its invocations and returns a fixed, deterministic result
// unless Fn is set.
package toolstest

import (
	"context"
	"path"
	"strings"
	"sync/atomic"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
	"ppaflow/internal/tools"
)

type Builder struct {
	Fn    func(ctx context.Context, req tools.BuildRequest) (tools.BuildResult, error)
	calls atomic.Int64
}

func (b *Builder) Calls() int64 { return b.calls.Load() }

func (b *Builder) Build(ctx context.Context, req tools.BuildRequest) (tools.BuildResult, error) {
	b.calls.Add(1)
	if b.Fn != nil {
		return b.Fn(ctx, req)
	}
	pkg, _, _ := strings.Cut(strings.TrimPrefix(req.Target, "//"), ":")
	return tools.BuildResult{Path: path.Join("bazel-bin", pkg, "executable"), Success: true}, nil
}

type Simulator struct {
	Fn    func(ctx context.Context, req tools.SimulateRequest) (tools.SimulateResult, error)
	calls atomic.Int64
}

func (s *Simulator) Calls() int64 { return s.calls.Load() }

func (s *Simulator) Simulate(ctx context.Context, req tools.SimulateRequest) (tools.SimulateResult, error) {
	s.calls.Add(1)
	if s.Fn != nil {
		return s.Fn(ctx, req)
	}
	return tools.SimulateResult{
		Cycles:             100000,
		Instructions:       50000,
		SwitchingTracePath: req.ExecutablePath + ".saif",
		Success:            true,
	}, nil
}

type Synthesizer struct {
	Fn    func(ctx context.Context, req tools.SynthesizeRequest) (tools.SynthesizeResult, error)
	calls atomic.Int64
}

func (s *Synthesizer) Calls() int64 { return s.calls.Load() }

func (s *Synthesizer) Synthesize(ctx context.Context, req tools.SynthesizeRequest) (tools.SynthesizeResult, error) {
	s.calls.Add(1)
	if s.Fn != nil {
		return s.Fn(ctx, req)
	}
	return tools.SynthesizeResult{
		NetlistPath: path.Join("netlists", path.Base(req.CoreRTLPath), path.Base(req.PDKPath)+".v"),
		CellCount:   50000,
		Success:     true,
	}, nil
}

type PlaceRouter struct {
	Fn    func(ctx context.Context, req tools.PlaceRouteRequest) (tools.PlaceRouteResult, error)
	calls atomic.Int64
}

func (p *PlaceRouter) Calls() int64 { return p.calls.Load() }

func (p *PlaceRouter) PlaceAndRoute(ctx context.Context, req tools.PlaceRouteRequest) (tools.PlaceRouteResult, error) {
	p.calls.Add(1)
	if p.Fn != nil {
		return p.Fn(ctx, req)
	}
	return tools.PlaceRouteResult{
		AreaMM2:        1.2,
		LogicArea:      0.8,
		MemoryArea:     0.4,
		Utilization:    0.75,
		DynamicPowerMW: 10.5,
		LeakagePowerMW: 0.5,
		TotalPowerMW:   11.0,
		Success:        true,
	}, nil
}

type Verifier struct {
	Err   error
	calls atomic.Int64
}

func (v *Verifier) Calls() int64 { return v.calls.Load() }

func (v *Verifier) Verify(ctx context.Context, cfg *config.StudyConfig, env core.Environment) (core.VerifyPayload, error) {
	v.calls.Add(1)
	if v.Err != nil {
		return core.VerifyPayload{}, v.Err
	}
	return core.VerifyPayload{Checked: []string{"fake"}}, nil
}

// Toolchain bundles one fake per role, registered for every tool kind.
type Toolchain struct {
	Builder     *Builder
	Simulator   *Simulator
	Synthesizer *Synthesizer
	PlaceRouter *PlaceRouter
	Verifier    *Verifier
	Registry    *tools.Registry
}

func NewToolchain() *Toolchain {
	tc := &Toolchain{
		Builder:     &Builder{},
		Simulator:   &Simulator{},
		Synthesizer: &Synthesizer{},
		PlaceRouter: &PlaceRouter{},
		Verifier:    &Verifier{},
		Registry:    tools.NewRegistry(),
	}
	tc.Registry.SetBuilder(tc.Builder)
	tc.Registry.RegisterSimulator(config.SimulatorVerilator, tc.Simulator)
	tc.Registry.RegisterSimulator(config.SimulatorVCS, tc.Simulator)
	tc.Registry.RegisterSynthesizer(config.SynthesisYosys, tc.Synthesizer)
	tc.Registry.RegisterPlaceRouter(config.PlaceRouteOpenROAD, tc.PlaceRouter)
	return tc
}
