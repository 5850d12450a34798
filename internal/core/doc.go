// Package core defines the data model of a PPA study run.
//
// A study is executed as five stages (Verify, Compile, Simulate, Synthesize,
// Analyze). Work inside a stage is addressed by a Coordinate; the outcome of
// one unit of work is a StageResult carrying either a typed Payload or an
// error, never both.
//
// # Core Types
//
// Coordinate: the (core, benchmark[, pdk]) tuple that keys fan-out work.
// StageResult: tagged success/failure outcome for one coordinate.
// Store: the artifact cache keyed by (coordinate, stage) and validated by a
// Fingerprint of the inputs that produced the payload.
//
// Nothing in this package reads process-wide state. Tool environments are
// passed explicitly as an Environment value.
package core
