package core

import "testing"

func baseFingerprintInput() FingerprintInput {
	return FingerprintInput{
		Stage:    StageSimulate,
		Tool:     "verilator",
		Options:  map[string]string{"max_cycles": "10000000", "trace": "false", "threads": "4"},
		Upstream: []string{"abc", "def"},
	}
}

func TestComputeFingerprint_IdenticalInputsProduceSameFingerprint(t *testing.T) {
	a := ComputeFingerprint(baseFingerprintInput())
	b := ComputeFingerprint(baseFingerprintInput())
	if a != b {
		t.Fatalf("identical inputs produced different fingerprints: %s != %s", a, b)
	}
}

func TestComputeFingerprint_OrderIndependent(t *testing.T) {
	in1 := baseFingerprintInput()
	in2 := FingerprintInput{
		Stage:    StageSimulate,
		Tool:     "verilator",
		Options:  map[string]string{"threads": "4", "trace": "false", "max_cycles": "10000000"},
		Upstream: []string{"def", "abc"},
	}
	if ComputeFingerprint(in1) != ComputeFingerprint(in2) {
		t.Fatal("fingerprint depends on option or upstream order")
	}
}

func TestComputeFingerprint_SensitiveToEveryComponent(t *testing.T) {
	base := ComputeFingerprint(baseFingerprintInput())

	cases := map[string]func(*FingerprintInput){
		"stage":          func(in *FingerprintInput) { in.Stage = StageSynthesize },
		"tool":           func(in *FingerprintInput) { in.Tool = "vcs" },
		"option value":   func(in *FingerprintInput) { in.Options["threads"] = "8" },
		"option added":   func(in *FingerprintInput) { in.Options["opt"] = "O3" },
		"option removed": func(in *FingerprintInput) { delete(in.Options, "trace") },
		"upstream":       func(in *FingerprintInput) { in.Upstream = []string{"abc", "xyz"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := baseFingerprintInput()
			mutate(&in)
			if got := ComputeFingerprint(in); got == base {
				t.Fatalf("changing %s did not change the fingerprint", name)
			}
		})
	}
}

func TestComputeFingerprint_FieldBoundariesAreUnambiguous(t *testing.T) {
	a := ComputeFingerprint(FingerprintInput{Stage: StageCompile, Options: map[string]string{"ab": "c"}})
	b := ComputeFingerprint(FingerprintInput{Stage: StageCompile, Options: map[string]string{"a": "bc"}})
	if a == b {
		t.Fatal("length prefixes failed to separate adjacent fields")
	}
}

func TestPayloadIdentity_StableAcrossMapOrder(t *testing.T) {
	p1 := AnalyzePayload{Reports: map[string]string{"html": "a.html", "json": "a.json"}}
	p2 := AnalyzePayload{Reports: map[string]string{"json": "a.json", "html": "a.html"}}
	id1, err := PayloadIdentity(p1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := PayloadIdentity(p2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("identity differs: %s vs %s", id1, id2)
	}
}
