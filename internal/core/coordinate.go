package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Coordinate identifies one unit of fan-out work.
//
// Compile and simulate coordinates leave PDK empty. Synthesize coordinates
// carry all three. The zero Coordinate addresses study-wide stages
// (Verify, Analyze).
//
// Coordinate is comparable and is used directly as a map key.
type Coordinate struct {
	Core      string `json:"core,omitempty"`
	PDK       string `json:"pdk,omitempty"`
	Benchmark string `json:"benchmark,omitempty"`
}

// Study is the coordinate of study-wide stages.
var Study = Coordinate{}

// Pair returns the (core, benchmark) coordinate for core and benchmark.
func Pair(core, benchmark string) Coordinate {
	return Coordinate{Core: core, Benchmark: benchmark}
}

// Triple returns the (core, pdk, benchmark) coordinate used by synthesis.
func Triple(core, pdk, benchmark string) Coordinate {
	return Coordinate{Core: core, PDK: pdk, Benchmark: benchmark}
}

// IsStudy reports whether c is the study-wide coordinate.
func (c Coordinate) IsStudy() bool { return c == Study }

// WithoutPDK drops the PDK component, yielding the simulate coordinate a
// synthesize coordinate depends on.
func (c Coordinate) WithoutPDK() Coordinate {
	return Coordinate{Core: c.Core, Benchmark: c.Benchmark}
}

func (c Coordinate) String() string {
	switch {
	case c.IsStudy():
		return "study"
	case c.PDK == "":
		return fmt.Sprintf("%s/%s", c.Core, c.Benchmark)
	default:
		return fmt.Sprintf("%s/%s/%s", c.Core, c.PDK, c.Benchmark)
	}
}

// CheckIdentifier reports why s cannot name a core, benchmark or PDK.
// Identifiers are used as single path elements, so separators and the
// dot directories are rejected.
func CheckIdentifier(s string) error {
	switch {
	case strings.TrimSpace(s) == "":
		return errors.New("identifier must not be empty")
	case s == "." || s == "..":
		return fmt.Errorf("identifier %q is not a valid name", s)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("identifier %q must not contain a path separator", s)
	}
	return nil
}

// Validate checks every populated component with CheckIdentifier. The
// study coordinate is always valid.
func (c Coordinate) Validate() error {
	if c.IsStudy() {
		return nil
	}
	for _, part := range []struct{ name, v string }{{"core", c.Core}, {"pdk", c.PDK}, {"benchmark", c.Benchmark}} {
		if part.name == "pdk" && part.v == "" {
			continue
		}
		if err := CheckIdentifier(part.v); err != nil {
			return fmt.Errorf("coordinate %s: %s: %w", c, part.name, err)
		}
	}
	return nil
}

// Path returns a relative filesystem path unique to the coordinate.
func (c Coordinate) Path() string {
	switch {
	case c.IsStudy():
		return "_study"
	case c.PDK == "":
		return filepath.Join(c.Core, c.Benchmark)
	default:
		return filepath.Join(c.Core, c.PDK, c.Benchmark)
	}
}

// Less orders coordinates by (core, pdk, benchmark).
func (c Coordinate) Less(o Coordinate) bool {
	if c.Core != o.Core {
		return c.Core < o.Core
	}
	if c.PDK != o.PDK {
		return c.PDK < o.PDK
	}
	return c.Benchmark < o.Benchmark
}

// SortCoordinates sorts cs in place by Less.
func SortCoordinates(cs []Coordinate) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Less(cs[j]) })
}
