package core

import (
	"errors"
	"fmt"
)

// Error kinds recorded on failed StageResults. Use errors.Is against these.
var (
	ErrTool            = errors.New("tool error")
	ErrUpstream        = errors.New("upstream failure")
	ErrTimeout         = errors.New("timeout")
	ErrCacheConflict   = errors.New("cache conflict")
	ErrUnsupportedTool = errors.New("unsupported tool")
)

// StageError is the error carried by a failed StageResult.
type StageError struct {
	Kind       error
	Stage      Stage
	Coordinate Coordinate
	Msg        string
	Cause      error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	prefix := fmt.Sprintf("%s %s: %s", e.Stage, e.Coordinate, e.Kind)
	switch {
	case e.Msg != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Cause)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Cause)
	default:
		return prefix
	}
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *StageError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// KindOf returns the error kind of err, or nil if err carries none.
func KindOf(err error) error {
	for _, k := range []error{ErrCacheConflict, ErrTimeout, ErrUnsupportedTool, ErrUpstream, ErrTool} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// ConflictError reports a (coordinate, stage) key written twice in one
// session with different fingerprints and different payloads.
type ConflictError struct {
	Stage      Stage
	Coordinate Coordinate
	Existing   string
	Incoming   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cache conflict for %s %s: fingerprint %s already written, got %s with a different payload",
		e.Stage, e.Coordinate, short(e.Existing), short(e.Incoming))
}

func (e *ConflictError) Unwrap() error { return ErrCacheConflict }

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
