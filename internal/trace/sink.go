package trace

import (
	"context"
	"log/slog"
	"sync"
)

// Sink receives trace events from concurrently running coordinates.
// Implementations must not block.
type Sink interface {
	Record(event Event)
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Record(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Emit hands e to s. A nil sink is allowed, and a panicking sink never
// reaches the caller: tracing must not change the outcome of a study.
func Emit(s Sink, e Event) {
	if s == nil {
		return
	}
	defer func() { _ = recover() }()
	s.Record(e)
}

// Tee fans each event out to every non-nil sink, in order. A panic in one
// sink does not keep the event from the others.
func Tee(sinks ...Sink) Sink {
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return SinkFunc(func(e Event) {
		for _, s := range live {
			Emit(s, e)
		}
	})
}

// LogSink logs each event at debug level.
func LogSink(logger *slog.Logger) Sink {
	return SinkFunc(func(e Event) {
		if logger == nil || !logger.Enabled(context.Background(), slog.LevelDebug) {
			return
		}
		attrs := []any{"kind", e.Kind, "stage", e.Stage}
		if e.Coordinate != "" {
			attrs = append(attrs, "coordinate", e.Coordinate)
		}
		if e.Reason != "" {
			attrs = append(attrs, "reason", e.Reason)
		}
		if e.Cause != "" {
			attrs = append(attrs, "cause", e.Cause)
		}
		logger.Debug("trace", attrs...)
	})
}

// Recorder keeps every event of a run in memory and tallies them by kind.
// Arrival order is irrelevant; StudyTrace sorts on output.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	counts map[EventKind]int
}

func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[EventKind]int)}
}

func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	r.counts[e.Kind]++
}

// Counts returns how many events of each kind were recorded.
func (r *Recorder) Counts() map[EventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[EventKind]int, len(r.counts))
	for k, n := range r.counts {
		out[k] = n
	}
	return out
}

// Trace returns the canonical trace of everything recorded so far. The
// result shares no memory with the recorder.
func (r *Recorder) Trace(studyHash string) StudyTrace {
	r.mu.Lock()
	events := append([]Event(nil), r.events...)
	r.mu.Unlock()
	tr := StudyTrace{StudyHash: studyHash, Events: events}
	tr.Canonicalize()
	return tr
}
