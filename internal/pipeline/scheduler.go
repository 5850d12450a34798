package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
	"ppaflow/internal/trace"
)

// Scheduler expands a stage into coordinates and dispatches them to the
// Runner.
//
// Expansion:
//   - compile: every (core, benchmark) pair of the study.
//   - simulate: every (core, benchmark) coordinate present in the compile
//     results.
//   - synthesize: every (core, pdk, benchmark) whose (core, benchmark) is
//     present in the simulate results, for each PDK of the study.
//
// A coordinate whose upstream dependency failed is recorded as an upstream
// failure without invoking any adapter. Upstream coordinates outside the
// study are ignored.
type Scheduler struct {
	Runner *Runner

	// Concurrency bounds in-flight coordinates. Values below 1 mean 1.
	Concurrency int

	Logger *slog.Logger
	Trace  trace.Sink
}

// unit is one coordinate ready to run.
type unit struct {
	coord    core.Coordinate
	upstream []core.Payload
}

// RunStage runs every coordinate of stage and returns the results keyed by
// coordinate. The result is the same for any Concurrency.
func (s *Scheduler) RunStage(ctx context.Context, stage core.Stage, cfg *config.StudyConfig, env core.Environment, upstream map[core.Coordinate]core.StageResult) map[core.Coordinate]core.StageResult {
	results := make(map[core.Coordinate]core.StageResult)
	units := s.expand(stage, cfg, upstream, results)

	for c, r := range results {
		s.logger().Warn("stage result", "stage", stage, "coordinate", c.String(), "cached", false,
			"status", r.Status, "error_kind", kindName(r.ErrorKind()))
		dep := c
		if stage == core.StageSynthesize {
			dep = c.WithoutPDK()
		}
		trace.Emit(s.Trace, trace.Event{
			Kind:       trace.EventSkipped,
			Stage:      string(stage),
			Coordinate: c.String(),
			Reason:     kindName(core.ErrUpstream),
			Cause:      dep.String(),
		})
	}

	for _, r := range s.dispatch(ctx, stage, cfg, env, units) {
		results[r.Coordinate] = r
	}
	return results
}

// expand lists the runnable units of stage in coordinate order and files
// upstream failures directly into failed.
func (s *Scheduler) expand(stage core.Stage, cfg *config.StudyConfig, upstream map[core.Coordinate]core.StageResult, failed map[core.Coordinate]core.StageResult) []unit {
	var units []unit
	switch stage {
	case core.StageCompile:
		for _, coreName := range cfg.Cores {
			for _, bench := range cfg.Benchmarks {
				units = append(units, unit{coord: core.Pair(coreName, bench)})
			}
		}

	case core.StageSimulate:
		for _, dep := range sortedKeys(upstream) {
			if !inStudy(cfg, dep) {
				continue
			}
			c := core.Pair(dep.Core, dep.Benchmark)
			r := upstream[dep]
			if !r.OK() {
				failed[c] = core.UpstreamFailed(stage, c, core.StageCompile, dep)
				continue
			}
			units = append(units, unit{coord: c, upstream: []core.Payload{r.Payload}})
		}

	case core.StageSynthesize:
		for _, dep := range sortedKeys(upstream) {
			if !inStudy(cfg, dep) {
				continue
			}
			r := upstream[dep]
			for _, pdk := range cfg.PDKs {
				c := core.Triple(dep.Core, pdk, dep.Benchmark)
				if !r.OK() {
					failed[c] = core.UpstreamFailed(stage, c, core.StageSimulate, dep)
					continue
				}
				units = append(units, unit{coord: c, upstream: []core.Payload{r.Payload}})
			}
		}
	}
	return units
}

// dispatch runs units on a bounded worker pool. Workers never abort: the
// Runner turns every failure into a result.
func (s *Scheduler) dispatch(ctx context.Context, stage core.Stage, cfg *config.StudyConfig, env core.Environment, units []unit) []core.StageResult {
	if len(units) == 0 {
		return nil
	}
	concurrency := s.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(units) {
		concurrency = len(units)
	}

	workCh := make(chan unit)
	doneCh := make(chan core.StageResult, len(units))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range workCh {
				doneCh <- s.Runner.Run(ctx, cfg, env, stage, u.coord, u.upstream)
			}
		}()
	}
	for _, u := range units {
		workCh <- u
	}
	close(workCh)
	wg.Wait()
	close(doneCh)

	out := make([]core.StageResult, 0, len(units))
	for r := range doneCh {
		out = append(out, r)
	}
	return out
}

func inStudy(cfg *config.StudyConfig, c core.Coordinate) bool {
	return cfg.HasCore(c.Core) && cfg.HasBenchmark(c.Benchmark)
}

func sortedKeys(m map[core.Coordinate]core.StageResult) []core.Coordinate {
	out := make([]core.Coordinate, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	core.SortCoordinates(out)
	return out
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return discardLogger
	}
	return s.Logger
}
