package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
)

// Fingerprint is a deterministic hash of the inputs that affect a stage's
// output at one coordinate. A cached payload is valid only for the
// fingerprint it was stored under.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// FingerprintInput contains every component that contributes to a
// Fingerprint.
type FingerprintInput struct {
	Stage Stage

	// Tool names the adapter(s) that produce the payload, e.g. "verilator"
	// or "yosys+openroad".
	Tool string

	// Options are the effective tool options. Map order never matters.
	Options map[string]string

	// Upstream lists identities of the payloads this stage consumes
	// (see PayloadIdentity). Order does not matter.
	Upstream []string
}

// ComputeFingerprint hashes in a fixed order:
//  1. stage
//  2. tool name
//  3. options, sorted by key, as key/value pairs
//  4. upstream identities, sorted
//
// Every field is length-prefixed and every list is count-prefixed, so no two
// distinct inputs share an encoding.
func ComputeFingerprint(in FingerprintInput) Fingerprint {
	h := sha256.New()

	writeField(h, []byte(in.Stage))
	writeField(h, []byte(in.Tool))

	keys := make([]string, 0, len(in.Options))
	for k := range in.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeCount(h, len(keys))
	for _, k := range keys {
		writeField(h, []byte(k))
		writeField(h, []byte(in.Options[k]))
	}

	upstream := make([]string, len(in.Upstream))
	copy(upstream, in.Upstream)
	sort.Strings(upstream)
	writeCount(h, len(upstream))
	for _, u := range upstream {
		writeField(h, []byte(u))
	}

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func writeCount(h hash.Hash, n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	h.Write(b[:])
}

func writeField(h hash.Hash, data []byte) {
	writeCount(h, len(data))
	h.Write(data)
}
