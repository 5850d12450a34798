// Package pipeline runs a study: it expands each stage over the
// core × benchmark × PDK cross-product, runs every coordinate through the
// Stage Runner (cache lookup, tool adapter, write-through), and sequences
// Verify, Compile, Simulate, Synthesize and Analyze into one ResultTree.
//
// Tool failures never escape as Go errors. They are recorded on the
// coordinate's StageResult and siblings continue. Only cache conflicts are
// returned as an error from Orchestrator.Run, alongside the tree.
package pipeline
