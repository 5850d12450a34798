package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
	"ppaflow/internal/tools"
	"ppaflow/internal/trace"
)

// Analyzer computes study-wide metrics from the full Simulate and
// Synthesize result mappings. Either mapping may be empty or contain only
// failures.
type Analyzer interface {
	Analyze(ctx context.Context, cfg *config.StudyConfig, simulated, synthesized map[core.Coordinate]core.StageResult) (core.AnalyzePayload, error)
}

// Orchestrator sequences the stages of a study.
type Orchestrator struct {
	Verifier  tools.Verifier
	Scheduler *Scheduler
	Analyzer  Analyzer
	Logger    *slog.Logger
	Trace     trace.Sink
}

// Options tunes an Orchestrator built by New.
type Options struct {
	Concurrency int
	Logger      *slog.Logger
	Trace       trace.Sink
}

// New wires a Runner, Scheduler and Orchestrator that share one logger and
// trace sink. A nil store disables caching.
func New(reg *tools.Registry, store core.Store, verifier tools.Verifier, analyzer Analyzer, opts Options) *Orchestrator {
	runner := NewRunner(reg, store, opts.Logger)
	runner.Trace = opts.Trace
	return &Orchestrator{
		Verifier: verifier,
		Scheduler: &Scheduler{
			Runner:      runner,
			Concurrency: opts.Concurrency,
			Logger:      opts.Logger,
			Trace:       opts.Trace,
		},
		Analyzer: analyzer,
		Logger:   opts.Logger,
		Trace:    opts.Trace,
	}
}

// Run executes the study through stage until (StageAnalyze when empty).
//
// A Verify failure halts the run: the returned tree holds only the Verify
// result. Later stages consume whatever succeeded upstream; a stage with no
// successful upstream coordinate records an empty mapping. Tool failures
// live in the tree only. The returned error is non-nil only for an invalid
// until stage or when cache conflicts were detected, in which case it
// joins every *core.ConflictError and the tree is still complete.
func (o *Orchestrator) Run(ctx context.Context, cfg *config.StudyConfig, env core.Environment, until core.Stage) (*ResultTree, error) {
	if until == "" {
		until = core.StageAnalyze
	}
	if _, err := core.ParseStage(string(until)); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("nil study configuration")
	}

	tree := newResultTree()
	sm := newStageMachine()
	defer func() { tree.setStates(sm.snapshot()) }()

	log := o.logger()
	log.Info("study started", "cores", len(cfg.Cores), "benchmarks", len(cfg.Benchmarks), "pdks", len(cfg.PDKs), "until", until)

	verified := o.verify(ctx, cfg, env)
	if err := o.finish(tree, sm, core.StageVerify, map[core.Coordinate]core.StageResult{core.Study: verified}); err != nil {
		return nil, err
	}
	if !verified.OK() {
		log.Error("verification failed, halting study", "error", verified.Err)
		trace.Emit(o.Trace, trace.Event{Kind: trace.EventHalted, Stage: string(core.StageVerify)})
		sm.skipAfter(core.StageVerify)
		return tree, nil
	}

	var conflicts []error
	prev := tree.Stage(core.StageVerify)
	for _, stage := range core.Stages {
		if !stage.FannedOut() {
			continue
		}
		if stage.Order() > until.Order() {
			break
		}
		if err := sm.transition(stage, StagePending, StageRunning); err != nil {
			return nil, err
		}

		var results map[core.Coordinate]core.StageResult
		if anySucceeded(prev) {
			results = o.Scheduler.RunStage(ctx, stage, cfg, env, prev)
		} else {
			log.Warn("no successful upstream coordinates, stage is empty", "stage", stage)
			trace.Emit(o.Trace, trace.Event{Kind: trace.EventEmpty, Stage: string(stage)})
			results = map[core.Coordinate]core.StageResult{}
		}
		if err := o.record(tree, sm, stage, results); err != nil {
			return nil, err
		}
		conflicts = append(conflicts, conflictsIn(results)...)
		prev = results
	}

	if until == core.StageAnalyze {
		if err := sm.transition(core.StageAnalyze, StagePending, StageRunning); err != nil {
			return nil, err
		}
		analyzed := o.analyze(ctx, cfg, tree)
		if err := o.record(tree, sm, core.StageAnalyze, map[core.Coordinate]core.StageResult{core.Study: analyzed}); err != nil {
			return nil, err
		}
	}
	sm.skipAfter(until)

	log.Info("study finished", "ok", tree.OK(), "failures", len(tree.Failures()), "conflicts", len(conflicts))
	return tree, errors.Join(conflicts...)
}

func (o *Orchestrator) verify(ctx context.Context, cfg *config.StudyConfig, env core.Environment) core.StageResult {
	if o.Verifier == nil {
		return core.Failed(core.StageVerify, core.Study, errors.New("no verifier configured"))
	}
	payload, err := o.Verifier.Verify(ctx, cfg, env)
	var res core.StageResult
	if err != nil {
		res = core.Failed(core.StageVerify, core.Study, err)
	} else {
		res = core.Succeeded(core.StageVerify, core.Study, "", payload)
	}
	o.Scheduler.Runner.report(res)
	return res
}

func (o *Orchestrator) analyze(ctx context.Context, cfg *config.StudyConfig, tree *ResultTree) core.StageResult {
	var res core.StageResult
	if o.Analyzer == nil {
		res = core.Failed(core.StageAnalyze, core.Study, errors.New("no analyzer configured"))
	} else if payload, err := o.Analyzer.Analyze(ctx, cfg, tree.Stage(core.StageSimulate), tree.Stage(core.StageSynthesize)); err != nil {
		res = core.Failed(core.StageAnalyze, core.Study, err)
	} else {
		res = core.Succeeded(core.StageAnalyze, core.Study, "", payload)
	}
	o.Scheduler.Runner.report(res)
	return res
}

// finish moves a pending stage through running and records its results.
func (o *Orchestrator) finish(tree *ResultTree, sm stageMachine, stage core.Stage, results map[core.Coordinate]core.StageResult) error {
	if err := sm.transition(stage, StagePending, StageRunning); err != nil {
		return err
	}
	return o.record(tree, sm, stage, results)
}

// record files results and closes the stage: FAILED when it produced
// results and none succeeded, COMPLETED otherwise.
func (o *Orchestrator) record(tree *ResultTree, sm stageMachine, stage core.Stage, results map[core.Coordinate]core.StageResult) error {
	if err := tree.record(stage, results); err != nil {
		return err
	}
	next := StageCompleted
	if len(results) > 0 && !anySucceeded(results) {
		next = StageFailed
	}
	if err := sm.transition(stage, StageRunning, next); err != nil {
		return err
	}
	c := tree.Counts(stage)
	o.logger().Info("stage finished", "stage", stage, "state", next, "succeeded", c.Succeeded, "failed", c.Failed, "cached", c.Cached)
	return nil
}

func anySucceeded(results map[core.Coordinate]core.StageResult) bool {
	for _, r := range results {
		if r.OK() {
			return true
		}
	}
	return false
}

// conflictsIn collects the cache conflicts of a stage in coordinate order.
func conflictsIn(results map[core.Coordinate]core.StageResult) []error {
	var out []error
	for _, c := range sortedKeys(results) {
		r := results[c]
		if !r.OK() && errors.Is(r.Err, core.ErrCacheConflict) {
			out = append(out, r.Err)
		}
	}
	return out
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return discardLogger
	}
	return o.Logger
}
