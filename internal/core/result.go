package core

import "fmt"

// StageResult is the outcome of one unit of stage work.
//
// Exactly one of Payload and Err is set. Construct values with Succeeded or
// Failed; the fields are exported for reading and serialization only.
type StageResult struct {
	Coordinate  Coordinate
	Stage       Stage
	Status      Status
	Payload     Payload
	Err         error
	Fingerprint Fingerprint

	// FromCache is true when the payload was served by the artifact store
	// without invoking a tool adapter.
	FromCache bool
}

// Succeeded builds a success result. A nil payload yields a tool failure, so
// a success can never be observed without a payload.
func Succeeded(stage Stage, c Coordinate, fp Fingerprint, p Payload) StageResult {
	if p == nil {
		return Failed(stage, c, &StageError{Kind: ErrTool, Stage: stage, Coordinate: c, Msg: "adapter returned no payload"})
	}
	return StageResult{Coordinate: c, Stage: stage, Status: StatusSuccess, Payload: p, Fingerprint: fp}
}

// Failed builds a failure result. Errors that do not already carry a kind
// are classified as tool errors.
func Failed(stage Stage, c Coordinate, err error) StageResult {
	if err == nil {
		err = fmt.Errorf("unspecified failure")
	}
	if KindOf(err) == nil {
		err = &StageError{Kind: ErrTool, Stage: stage, Coordinate: c, Cause: err}
	}
	return StageResult{Coordinate: c, Stage: stage, Status: StatusFailure, Err: err}
}

// UpstreamFailed records that c was not attempted because dep failed in
// the previous stage.
func UpstreamFailed(stage Stage, c Coordinate, depStage Stage, dep Coordinate) StageResult {
	return Failed(stage, c, &StageError{
		Kind:       ErrUpstream,
		Stage:      stage,
		Coordinate: c,
		Msg:        fmt.Sprintf("%s %s failed", depStage, dep),
	})
}

// OK reports whether the result is a success.
func (r StageResult) OK() bool { return r.Status == StatusSuccess }

// ErrorKind returns the classified kind of a failed result.
func (r StageResult) ErrorKind() error { return KindOf(r.Err) }
