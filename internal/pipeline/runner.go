package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
	"ppaflow/internal/tools"
	"ppaflow/internal/trace"
)

// Runner executes one stage at one coordinate.
//
// It consults the Store first and invokes exactly one adapter chain per
// cache miss (none on a hit). Adapter errors, unsuccessful results, panics
// and timeouts are all returned as failed StageResults; Run itself never
// fails.
type Runner struct {
	Registry *tools.Registry
	Store    core.Store
	Logger   *slog.Logger
	Trace    trace.Sink
}

// NewRunner creates a Runner. A nil store disables caching.
func NewRunner(reg *tools.Registry, store core.Store, logger *slog.Logger) *Runner {
	if store == nil {
		store = core.NopStore{}
	}
	return &Runner{Registry: reg, Store: store, Logger: logger}
}

// invocation is a planned cache-miss call: the fingerprint inputs and the
// adapter chain that produces the payload. call passes timeout on to every
// adapter it invokes; each adapter gets the full budget.
type invocation struct {
	tool    string
	options map[string]string
	call    func(ctx context.Context, timeout time.Duration) (core.Payload, error)
}

// Run executes stage at c. upstream holds the successful payloads of the
// coordinates c depends on.
func (r *Runner) Run(ctx context.Context, cfg *config.StudyConfig, env core.Environment, stage core.Stage, c core.Coordinate, upstream []core.Payload) core.StageResult {
	res := r.run(ctx, cfg, env, stage, c, upstream)
	r.report(res)
	return res
}

func (r *Runner) run(ctx context.Context, cfg *config.StudyConfig, env core.Environment, stage core.Stage, c core.Coordinate, upstream []core.Payload) core.StageResult {
	inv, err := r.plan(cfg, env, stage, c, upstream)
	if err != nil {
		return core.Failed(stage, c, err)
	}

	identities := make([]string, 0, len(upstream))
	for _, p := range upstream {
		id, err := core.PayloadIdentity(p)
		if err != nil {
			return core.Failed(stage, c, fmt.Errorf("identifying upstream payload: %w", err))
		}
		identities = append(identities, id)
	}
	fp := core.ComputeFingerprint(core.FingerprintInput{
		Stage:    stage,
		Tool:     inv.tool,
		Options:  inv.options,
		Upstream: identities,
	})

	entry, ok, err := r.Store.Get(c, stage)
	if err != nil {
		r.logger().Warn("cache read failed, recomputing", "stage", stage, "coordinate", c.String(), "error", err)
	} else if ok && entry.Fingerprint == fp {
		res := core.Succeeded(stage, c, fp, entry.Payload)
		res.FromCache = true
		return res
	}

	payload, err := inv.call(ctx, cfg.ToolTimeout)
	if err != nil {
		return core.Failed(stage, c, classify(stage, c, err))
	}

	if err := r.Store.Put(c, stage, fp, payload); err != nil {
		if errors.Is(err, core.ErrCacheConflict) {
			return core.Failed(stage, c, &core.StageError{Kind: core.ErrCacheConflict, Stage: stage, Coordinate: c, Cause: err})
		}
		r.logger().Warn("cache write failed", "stage", stage, "coordinate", c.String(), "error", err)
	}
	return core.Succeeded(stage, c, fp, payload)
}

// plan resolves the adapter chain for stage at c from the core's configured
// tools. Unregistered tools fail here, before anything runs.
func (r *Runner) plan(cfg *config.StudyConfig, env core.Environment, stage core.Stage, c core.Coordinate, upstream []core.Payload) (invocation, error) {
	if !cfg.HasCore(c.Core) || !cfg.HasBenchmark(c.Benchmark) {
		return invocation{}, fmt.Errorf("coordinate %s is not part of the study", c)
	}
	cc, ok := cfg.Core(c.Core)
	if !ok {
		return invocation{}, fmt.Errorf("no tool configuration for core %s", c.Core)
	}

	switch stage {
	case core.StageCompile:
		return r.planCompile(cfg, env, c, cc)
	case core.StageSimulate:
		compiled, err := onlyUpstream[core.CompilePayload](stage, upstream)
		if err != nil {
			return invocation{}, err
		}
		return r.planSimulate(cfg, env, c, cc, compiled)
	case core.StageSynthesize:
		if !cfg.HasPDK(c.PDK) {
			return invocation{}, fmt.Errorf("coordinate %s is not part of the study", c)
		}
		simulated, err := onlyUpstream[core.SimulatePayload](stage, upstream)
		if err != nil {
			return invocation{}, err
		}
		return r.planSynthesize(cfg, env, c, cc, simulated)
	default:
		return invocation{}, fmt.Errorf("stage %s is not run per coordinate", stage)
	}
}

func (r *Runner) planCompile(cfg *config.StudyConfig, env core.Environment, c core.Coordinate, cc config.CoreConfig) (invocation, error) {
	builder, err := r.Registry.Builder()
	if err != nil {
		return invocation{}, err
	}
	sw := cfg.Software()
	req := tools.BuildRequest{
		Target:        cfg.BuildTargetFor(c.Benchmark),
		ConfigVariant: cfg.BuildVariantFor(c.Core),
		Options:       cc.BuildOptions,
		Env:           env,
	}
	opts := merge(cc.BuildOptions, map[string]string{
		"@target":         req.Target,
		"@variant":        req.ConfigVariant,
		"@compiler":       sw.Compiler,
		"@compiler_flags": sw.CompilerFlags,
	})
	return invocation{
		tool:    "build",
		options: opts,
		call: func(ctx context.Context, timeout time.Duration) (core.Payload, error) {
			res, err := invoke(ctx, timeout, func(ctx context.Context) (tools.BuildResult, error) {
				return builder.Build(ctx, req)
			})
			if err != nil {
				return nil, err
			}
			if !res.Success {
				return nil, toolFailure("build failed", res.Error)
			}
			return core.CompilePayload{Target: req.Target, Path: res.Path}, nil
		},
	}, nil
}

func (r *Runner) planSimulate(cfg *config.StudyConfig, env core.Environment, c core.Coordinate, cc config.CoreConfig, compiled core.CompilePayload) (invocation, error) {
	sim, err := r.Registry.Simulator(cc.Simulator)
	if err != nil {
		return invocation{}, err
	}
	simCfg := cfg.Simulation()
	options := merge(cc.SimOptions, map[string]string{
		"max_cycles": strconv.FormatInt(simCfg.MaxCycles, 10),
		"trace":      strconv.FormatBool(simCfg.TraceEnabled),
	})
	req := tools.SimulateRequest{
		CoreRTLPath:    cfg.CoreRTLPath(c.Core),
		TestbenchPath:  cfg.Testbench,
		ExecutablePath: compiled.Path,
		Options:        options,
		Env:            env,
	}
	return invocation{
		tool: string(cc.Simulator),
		options: merge(options, map[string]string{
			"@rtl":       req.CoreRTLPath,
			"@testbench": req.TestbenchPath,
		}),
		call: func(ctx context.Context, timeout time.Duration) (core.Payload, error) {
			res, err := invoke(ctx, timeout, func(ctx context.Context) (tools.SimulateResult, error) {
				return sim.Simulate(ctx, req)
			})
			if err != nil {
				return nil, err
			}
			if !res.Success {
				return nil, toolFailure("simulation reported failure", "")
			}
			return core.SimulatePayload{
				Cycles:             res.Cycles,
				Instructions:       res.Instructions,
				SwitchingTracePath: res.SwitchingTracePath,
			}, nil
		},
	}, nil
}

// planSynthesize chains synthesis and place-and-route; both run on every
// cache miss and their results merge into one payload.
func (r *Runner) planSynthesize(cfg *config.StudyConfig, env core.Environment, c core.Coordinate, cc config.CoreConfig, simulated core.SimulatePayload) (invocation, error) {
	syn, err := r.Registry.Synthesizer(cc.SynthTool)
	if err != nil {
		return invocation{}, err
	}
	pr, err := r.Registry.PlaceRouter(cc.PlaceRouteTool)
	if err != nil {
		return invocation{}, err
	}
	synCfg := cfg.Synthesis()
	synOptions := merge(cc.SynthOptions, map[string]string{
		"clock_period_ns": strconv.FormatFloat(synCfg.ClockPeriodNS, 'g', -1, 64),
	})
	prOptions := merge(cc.PlaceRouteOptions, map[string]string{
		"clock_period_ns":    strconv.FormatFloat(synCfg.ClockPeriodNS, 'g', -1, 64),
		"utilization_target": strconv.FormatFloat(synCfg.UtilizationTarget, 'g', -1, 64),
	})
	rtl := cfg.CoreRTLPath(c.Core)
	pdk := cfg.PDKPath(c.PDK)

	fpOptions := map[string]string{"@rtl": rtl, "@pdk": pdk}
	for k, v := range synOptions {
		fpOptions["syn."+k] = v
	}
	for k, v := range prOptions {
		fpOptions["pr."+k] = v
	}

	return invocation{
		tool:    string(cc.SynthTool) + "+" + string(cc.PlaceRouteTool),
		options: fpOptions,
		call: func(ctx context.Context, timeout time.Duration) (core.Payload, error) {
			netlist, err := invoke(ctx, timeout, func(ctx context.Context) (tools.SynthesizeResult, error) {
				return syn.Synthesize(ctx, tools.SynthesizeRequest{
					CoreRTLPath: rtl,
					PDKPath:     pdk,
					Options:     synOptions,
					Env:         env,
				})
			})
			if err != nil {
				return nil, err
			}
			if !netlist.Success {
				return nil, toolFailure("synthesis reported failure", "")
			}
			placed, err := invoke(ctx, timeout, func(ctx context.Context) (tools.PlaceRouteResult, error) {
				return pr.PlaceAndRoute(ctx, tools.PlaceRouteRequest{
					NetlistPath:        netlist.NetlistPath,
					PDKPath:            pdk,
					SwitchingTracePath: simulated.SwitchingTracePath,
					Options:            prOptions,
					Env:                env,
				})
			})
			if err != nil {
				return nil, err
			}
			if !placed.Success {
				return nil, toolFailure("place-and-route reported failure", "")
			}
			return core.SynthesizePayload{
				NetlistPath:    netlist.NetlistPath,
				CellCount:      netlist.CellCount,
				AreaMM2:        placed.AreaMM2,
				LogicArea:      placed.LogicArea,
				MemoryArea:     placed.MemoryArea,
				Utilization:    placed.Utilization,
				DynamicPowerMW: placed.DynamicPowerMW,
				LeakagePowerMW: placed.LeakagePowerMW,
				TotalPowerMW:   placed.TotalPowerMW,
			}, nil
		},
	}, nil
}

// errTimedOut marks an invocation abandoned at its deadline.
var errTimedOut = errors.New("tool invocation exceeded its time budget")

// invoke runs one adapter call with its own deadline. The call runs on its
// own goroutine so an adapter that ignores ctx cannot hold the caller past
// the deadline; such a goroutine is abandoned and its late result discarded.
// Panics are reported as errors.
func invoke[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		res T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("adapter panicked: %v", rec)}
			}
		}()
		res, err := call(ctx)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %v", errTimedOut, o.err)
		}
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, errTimedOut
		}
		return zero, ctx.Err()
	}
}

// classify attaches an error kind to an adapter error.
func classify(stage core.Stage, c core.Coordinate, err error) error {
	if errors.Is(err, errTimedOut) {
		return &core.StageError{Kind: core.ErrTimeout, Stage: stage, Coordinate: c, Cause: err}
	}
	if core.KindOf(err) != nil {
		return err
	}
	return &core.StageError{Kind: core.ErrTool, Stage: stage, Coordinate: c, Cause: err}
}

func toolFailure(msg, detail string) error {
	if detail == "" {
		return errors.New(msg)
	}
	return fmt.Errorf("%s: %s", msg, detail)
}

// onlyUpstream extracts the single upstream payload a stage consumes.
func onlyUpstream[P core.Payload](stage core.Stage, upstream []core.Payload) (P, error) {
	var zero P
	if len(upstream) != 1 {
		return zero, fmt.Errorf("%s expects one upstream payload, got %d", stage, len(upstream))
	}
	p, ok := upstream[0].(P)
	if !ok {
		return zero, fmt.Errorf("%s expects a %T upstream payload, got %T", stage, zero, upstream[0])
	}
	return p, nil
}

// merge returns a new map with extra layered over base.
func merge(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// report logs and traces a finished coordinate.
func (r *Runner) report(res core.StageResult) {
	attrs := []any{"stage", res.Stage, "coordinate", res.Coordinate.String(), "cached", res.FromCache, "status", res.Status}
	ev := trace.Event{Stage: string(res.Stage), Coordinate: res.Coordinate.String()}
	switch {
	case res.OK() && res.FromCache:
		ev.Kind = trace.EventCached
		r.logger().Debug("stage result", attrs...)
	case res.OK():
		ev.Kind = trace.EventExecuted
		r.logger().Info("stage result", attrs...)
	default:
		kind := res.ErrorKind()
		ev.Kind = trace.EventFailed
		ev.Reason = kindName(kind)
		r.logger().Warn("stage result", append(attrs, "error_kind", ev.Reason, "error", res.Err)...)
	}
	trace.Emit(r.Trace, ev)
}

func kindName(kind error) string {
	if kind == nil {
		return "unknown"
	}
	return kind.Error()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return discardLogger
	}
	return r.Logger
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
