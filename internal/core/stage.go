package core

import "fmt"

// Stage identifies one step of the study pipeline.
type Stage string

const (
	StageVerify     Stage = "verify"
	StageCompile    Stage = "compile"
	StageSimulate   Stage = "simulate"
	StageSynthesize Stage = "synthesize"
	StageAnalyze    Stage = "analyze"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageVerify, StageCompile, StageSimulate, StageSynthesize, StageAnalyze}

// Order returns the stage's position in the pipeline, or -1 if unknown.
func (s Stage) Order() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// FannedOut reports whether the stage is expanded over coordinates.
func (s Stage) FannedOut() bool {
	switch s {
	case StageCompile, StageSimulate, StageSynthesize:
		return true
	default:
		return false
	}
}

func (s Stage) String() string { return string(s) }

// ParseStage maps a stage name to a Stage.
func ParseStage(name string) (Stage, error) {
	st := Stage(name)
	if st.Order() < 0 {
		return "", fmt.Errorf("unknown stage %q", name)
	}
	return st, nil
}

// Status is the terminal outcome of a StageResult.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)
