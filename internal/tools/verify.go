package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
)

// Verifier checks that a study can run before any stage is dispatched.
type Verifier interface {
	Verify(ctx context.Context, cfg *config.StudyConfig, env core.Environment) (core.VerifyPayload, error)
}

// ToolchainVerifier checks that the work directory exists, that every tool
// a core selects has a registered adapter, and that every executable those
// adapters shell out to resolves on the environment's PATH.
type ToolchainVerifier struct {
	Registry *Registry
}

func (v *ToolchainVerifier) Verify(ctx context.Context, cfg *config.StudyConfig, env core.Environment) (core.VerifyPayload, error) {
	if err := ctx.Err(); err != nil {
		return core.VerifyPayload{}, err
	}

	var errs []error
	if info, err := os.Stat(env.WorkDir); err != nil || !info.IsDir() {
		errs = append(errs, fmt.Errorf("work directory %q does not exist", env.WorkDir))
	}

	adapters := make([]any, 0, 1+3*len(cfg.Cores))
	if b, err := v.Registry.Builder(); err != nil {
		errs = append(errs, err)
	} else {
		adapters = append(adapters, b)
	}
	for _, name := range cfg.Cores {
		cc, ok := cfg.Core(name)
		if !ok {
			errs = append(errs, fmt.Errorf("core %s: no tool configuration", name))
			continue
		}
		if s, err := v.Registry.Simulator(cc.Simulator); err != nil {
			errs = append(errs, fmt.Errorf("core %s: %w", name, err))
		} else {
			adapters = append(adapters, s)
		}
		if s, err := v.Registry.Synthesizer(cc.SynthTool); err != nil {
			errs = append(errs, fmt.Errorf("core %s: %w", name, err))
		} else {
			adapters = append(adapters, s)
		}
		if p, err := v.Registry.PlaceRouter(cc.PlaceRouteTool); err != nil {
			errs = append(errs, fmt.Errorf("core %s: %w", name, err))
		} else {
			adapters = append(adapters, p)
		}
	}

	seen := make(map[string]bool)
	for _, a := range adapters {
		r, ok := a.(Requirer)
		if !ok {
			continue
		}
		for _, exe := range r.Requires() {
			if seen[exe] {
				continue
			}
			seen[exe] = true
			if _, err := env.LookPath(exe); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return core.VerifyPayload{}, errors.Join(errs...)
	}

	checked := make([]string, 0, len(seen)+1)
	checked = append(checked, "workdir")
	for exe := range seen {
		checked = append(checked, exe)
	}
	sort.Strings(checked[1:])
	return core.VerifyPayload{Checked: checked}, nil
}
