package runlog

import (
	"errors"
	"fmt"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
	"ppaflow/internal/pipeline"
)

// StudyFailureError reports a run whose result tree holds failed
// coordinates. Stage is the earliest stage with a failure.
type StudyFailureError struct {
	Stage  core.Stage
	Failed int
	First  error
}

func (e *StudyFailureError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%d coordinate(s) failed, first in %s: %v", e.Failed, e.Stage, e.First)
}

func (e *StudyFailureError) Unwrap() error { return e.First }

// FailureFromTree returns a *StudyFailureError when tree holds failures,
// nil otherwise.
func FailureFromTree(tree *pipeline.ResultTree) error {
	failures := tree.Failures()
	if len(failures) == 0 {
		return nil
	}
	return &StudyFailureError{Stage: failures[0].Stage, Failed: len(failures), First: failures[0].Err}
}

// classify maps an error onto the failure taxonomy. Cache conflicts win
// over ordinary stage failures.
func classify(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	if errors.Is(err, config.ErrConfig) {
		return Failure{FailureClass: FailureClassConfig, ErrorCode: "ConfigError", ErrorMessage: err.Error()}, nil
	}

	if errors.Is(err, core.ErrCacheConflict) {
		f := Failure{FailureClass: FailureClassCacheConflict, ErrorCode: "CacheConflict", ErrorMessage: err.Error()}
		var ce *core.ConflictError
		if errors.As(err, &ce) {
			f.Stage = stagePtr(ce.Stage)
		}
		return f, nil
	}

	var sf *StudyFailureError
	if errors.As(err, &sf) && sf != nil {
		class := FailureClassExecution
		if sf.Stage == core.StageVerify {
			class = FailureClassVerify
		}
		code := "StageFailure"
		if kind := core.KindOf(sf.First); kind != nil {
			code = codeFor(kind)
		}
		return Failure{FailureClass: class, Stage: stagePtr(sf.Stage), ErrorCode: code, ErrorMessage: sf.Error()}, nil
	}

	return Failure{FailureClass: FailureClassSystem, ErrorCode: "UnknownError", ErrorMessage: err.Error()}, nil
}

func codeFor(kind error) string {
	switch kind {
	case core.ErrTool:
		return "ToolError"
	case core.ErrUpstream:
		return "UpstreamFailure"
	case core.ErrTimeout:
		return "Timeout"
	case core.ErrUnsupportedTool:
		return "UnsupportedTool"
	case core.ErrCacheConflict:
		return "CacheConflict"
	default:
		return "StageFailure"
	}
}

func stagePtr(s core.Stage) *string {
	v := string(s)
	return &v
}
