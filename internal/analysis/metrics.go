// Package analysis turns the Simulate and Synthesize result mappings of a
// study into power, performance and area metrics and renders them through a
// Reporter.
package analysis

import (
	"ppaflow/internal/core"
)

// CPI is cycles per instruction. The instruction count is floored at 1, so
// a run that retired nothing reports its raw cycle count.
func CPI(cycles, instructions int64) float64 {
	return float64(cycles) / float64(max(1, instructions))
}

// ExtractPerformance keys the successful simulate results core → benchmark.
func ExtractPerformance(simulated map[core.Coordinate]core.StageResult) map[string]map[string]core.PerformanceMetrics {
	out := make(map[string]map[string]core.PerformanceMetrics)
	for c, r := range simulated {
		p, ok := r.Payload.(core.SimulatePayload)
		if !r.OK() || !ok {
			continue
		}
		if out[c.Core] == nil {
			out[c.Core] = make(map[string]core.PerformanceMetrics)
		}
		out[c.Core][c.Benchmark] = core.PerformanceMetrics{
			Cycles:       p.Cycles,
			Instructions: p.Instructions,
			CPI:          CPI(p.Cycles, p.Instructions),
		}
	}
	return out
}

// ExtractPower keys the successful synthesize results core → pdk → benchmark.
func ExtractPower(synthesized map[core.Coordinate]core.StageResult) map[string]map[string]map[string]core.PowerMetrics {
	out := make(map[string]map[string]map[string]core.PowerMetrics)
	for c, p := range synthesisPayloads(synthesized) {
		nest3(out, c)[c.Benchmark] = core.PowerMetrics{
			Dynamic: p.DynamicPowerMW,
			Leakage: p.LeakagePowerMW,
			Total:   p.TotalPowerMW,
		}
	}
	return out
}

// ExtractArea keys the successful synthesize results core → pdk → benchmark.
func ExtractArea(synthesized map[core.Coordinate]core.StageResult) map[string]map[string]map[string]core.AreaMetrics {
	out := make(map[string]map[string]map[string]core.AreaMetrics)
	for c, p := range synthesisPayloads(synthesized) {
		nest3(out, c)[c.Benchmark] = core.AreaMetrics{
			Logic:       p.LogicArea,
			Memory:      p.MemoryArea,
			Total:       p.AreaMM2,
			Utilization: p.Utilization,
		}
	}
	return out
}

func synthesisPayloads(synthesized map[core.Coordinate]core.StageResult) map[core.Coordinate]core.SynthesizePayload {
	out := make(map[core.Coordinate]core.SynthesizePayload)
	for c, r := range synthesized {
		if p, ok := r.Payload.(core.SynthesizePayload); ok && r.OK() {
			out[c] = p
		}
	}
	return out
}

func nest3[V any](m map[string]map[string]map[string]V, c core.Coordinate) map[string]V {
	if m[c.Core] == nil {
		m[c.Core] = make(map[string]map[string]V)
	}
	if m[c.Core][c.PDK] == nil {
		m[c.Core][c.PDK] = make(map[string]V)
	}
	return m[c.Core][c.PDK]
}
