// Package trace records what a study run decided for every coordinate, in a
// canonical form that does not depend on dispatch order or concurrency.
//
// The trace is observational only; it never affects execution.
package trace

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// EventKind is the stable discriminator of an Event. The string values are
// part of the canonical bytes; do not rename.
type EventKind string

const (
	EventCached   EventKind = "Cached"
	EventExecuted EventKind = "Executed"
	EventFailed   EventKind = "Failed"
	EventSkipped  EventKind = "Skipped"
	EventEmpty    EventKind = "StageEmpty"
	EventHalted   EventKind = "Halted"
)

// Event is one logical decision. It carries no timestamps, error strings
// or paths, so two runs that decide the same things produce equal traces.
type Event struct {
	Kind  EventKind
	Stage string

	// Coordinate is the canonical coordinate string; empty for stage-level
	// events.
	Coordinate string

	// Reason is a stable code such as an error kind ("timeout").
	Reason string

	// Cause names the upstream coordinate responsible for a skip.
	Cause string
}

// StudyTrace is the canonical record of one study run.
type StudyTrace struct {
	StudyHash string
	Events    []Event
}

// stageOrder keeps the trace in pipeline order without importing the
// pipeline's stage type.
var stageOrder = map[string]int{
	"verify":     0,
	"compile":    1,
	"simulate":   2,
	"synthesize": 3,
	"analyze":    4,
}

func (t *StudyTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.StudyHash == "" {
		return errors.New("studyHash is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Stage == "" {
			return fmt.Errorf("events[%d].stage is required", i)
		}
	}
	return nil
}

// Canonicalize sorts events by (stage, coordinate, kind, reason, cause).
func (t *StudyTrace) Canonicalize() {
	if t == nil {
		return
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if sa, sb := rank(a.Stage), rank(b.Stage); sa != sb {
			return sa < sb
		}
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.Coordinate != b.Coordinate {
			return a.Coordinate < b.Coordinate
		}
		if ka, kb := kindOrder(a.Kind), kindOrder(b.Kind); ka != kb {
			return ka < kb
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return a.Cause < b.Cause
	})
}

func rank(stage string) int {
	if r, ok := stageOrder[stage]; ok {
		return r
	}
	return len(stageOrder)
}

func kindOrder(k EventKind) int {
	switch k {
	case EventCached:
		return 10
	case EventExecuted:
		return 20
	case EventFailed:
		return 30
	case EventSkipped:
		return 40
	case EventEmpty:
		return 50
	case EventHalted:
		return 60
	default:
		return 1000
	}
}

// CanonicalJSON canonicalizes a copy of the trace and encodes it.
func (t StudyTrace) CanonicalJSON() ([]byte, error) {
	cp := StudyTrace{StudyHash: t.StudyHash, Events: make([]Event, len(t.Events))}
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash is the sha256 hex digest of the canonical JSON.
func (t StudyTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MarshalJSON fixes field order. It does not sort; use CanonicalJSON.
func (t StudyTrace) MarshalJSON() ([]byte, error) {
	if t.StudyHash == "" {
		return nil, errors.New("studyHash is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"studyHash":`)
	writeString(&buf, t.StudyHash)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	writeString(&buf, string(e.Kind))
	buf.WriteString(`,"stage":`)
	writeString(&buf, e.Stage)
	for _, f := range []struct{ name, value string }{
		{"coordinate", e.Coordinate},
		{"reason", e.Reason},
		{"cause", e.Cause},
	} {
		if f.value == "" {
			continue
		}
		buf.WriteString(`,"` + f.name + `":`)
		writeString(&buf, f.value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
