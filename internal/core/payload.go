package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Payload is the stage-specific artifact produced by a successful StageResult.
type Payload interface {
	PayloadStage() Stage
}

// VerifyPayload records which toolchain checks passed.
type VerifyPayload struct {
	Checked []string `json:"checked"`
}

// CompilePayload is the compiled benchmark executable for one core.
type CompilePayload struct {
	Target string `json:"target"`
	Path   string `json:"path"`
}

// SimulatePayload holds the performance counters and switching activity of
// one RTL simulation.
type SimulatePayload struct {
	Cycles             int64  `json:"cycles"`
	Instructions       int64  `json:"instructions"`
	SwitchingTracePath string `json:"switching_trace_path"`
}

// SynthesizePayload merges the synthesis and place-and-route outcomes for one
// (core, pdk, benchmark) coordinate.
type SynthesizePayload struct {
	NetlistPath    string  `json:"netlist_path"`
	CellCount      int     `json:"cell_count"`
	AreaMM2        float64 `json:"area_mm2"`
	LogicArea      float64 `json:"logic_area"`
	MemoryArea     float64 `json:"memory_area"`
	Utilization    float64 `json:"utilization"`
	DynamicPowerMW float64 `json:"dynamic_power_mw"`
	LeakagePowerMW float64 `json:"leakage_power_mw"`
	TotalPowerMW   float64 `json:"total_power_mw"`
}

// PerformanceMetrics is derived from one simulate payload.
type PerformanceMetrics struct {
	Cycles       int64   `json:"cycles"`
	Instructions int64   `json:"instructions"`
	CPI          float64 `json:"cpi"`
}

// PowerMetrics is derived from one synthesize payload (milliwatts).
type PowerMetrics struct {
	Dynamic float64 `json:"dynamic"`
	Leakage float64 `json:"leakage"`
	Total   float64 `json:"total"`
}

// AreaMetrics is derived from one synthesize payload (square millimetres).
type AreaMetrics struct {
	Logic       float64 `json:"logic"`
	Memory      float64 `json:"memory"`
	Total       float64 `json:"total"`
	Utilization float64 `json:"utilization"`
}

// AnalyzePayload is the consolidated PPA analysis of a study.
//
// Performance is keyed core -> benchmark; Power and Area are keyed
// core -> pdk -> benchmark. Reports and Visualizations map a report kind
// (e.g. "html", "json", "cpi") to the path of the rendered artifact.
type AnalyzePayload struct {
	Performance    map[string]map[string]PerformanceMetrics      `json:"performance"`
	Power          map[string]map[string]map[string]PowerMetrics `json:"power"`
	Area           map[string]map[string]map[string]AreaMetrics  `json:"area"`
	Reports        map[string]string                             `json:"reports"`
	Visualizations map[string]string                             `json:"visualizations"`
}

func (VerifyPayload) PayloadStage() Stage { return StageVerify }
func (CompilePayload) PayloadStage() Stage { return StageCompile }
func (SimulatePayload) PayloadStage() Stage { return StageSimulate }
func (SynthesizePayload) PayloadStage() Stage { return StageSynthesize }
func (AnalyzePayload) PayloadStage() Stage { return StageAnalyze }

// EncodePayload serializes p for persistence.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("payload is nil")
	}
	return json.Marshal(p)
}

// DecodePayload restores a payload persisted by EncodePayload for stage.
func DecodePayload(stage Stage, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch stage {
	case StageVerify:
		var v VerifyPayload
		err = json.Unmarshal(data, &v)
		p = v
	case StageCompile:
		var v CompilePayload
		err = json.Unmarshal(data, &v)
		p = v
	case StageSimulate:
		var v SimulatePayload
		err = json.Unmarshal(data, &v)
		p = v
	case StageSynthesize:
		var v SynthesizePayload
		err = json.Unmarshal(data, &v)
		p = v
	case StageAnalyze:
		var v AnalyzePayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("no payload type for stage %q", stage)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", stage, err)
	}
	return p, nil
}

// PayloadIdentity returns a content hash of p, used to chain fingerprints
// across stages. encoding/json sorts map keys, so the identity is stable.
func PayloadIdentity(p Payload) (string, error) {
	b, err := EncodePayload(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
