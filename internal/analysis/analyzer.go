package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
)

// Analyzer is the Analyze stage body.
type Analyzer struct {
	Reporter Reporter
	Logger   *slog.Logger
}

func New(reporter Reporter, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Analyzer{Reporter: reporter, Logger: logger}
}

// Analyze extracts metrics from the successful coordinates and renders
// them. Empty or all-failed inputs yield empty metric maps, not an error.
func (a *Analyzer) Analyze(ctx context.Context, cfg *config.StudyConfig, simulated, synthesized map[core.Coordinate]core.StageResult) (core.AnalyzePayload, error) {
	out := core.AnalyzePayload{
		Performance:    ExtractPerformance(simulated),
		Power:          ExtractPower(synthesized),
		Area:           ExtractArea(synthesized),
		Reports:        map[string]string{},
		Visualizations: map[string]string{},
	}
	if a.Reporter == nil {
		return out, nil
	}

	arts, err := a.Reporter.Render(ctx, Report{
		Config:      cfg,
		Performance: out.Performance,
		Power:       out.Power,
		Area:        out.Area,
	})
	if err != nil {
		return core.AnalyzePayload{}, fmt.Errorf("rendering reports: %w", err)
	}
	for k, v := range arts.Reports {
		out.Reports[k] = v
	}
	for k, v := range arts.Visualizations {
		out.Visualizations[k] = v
	}
	a.Logger.Info("analysis rendered", "reports", len(out.Reports), "visualizations", len(out.Visualizations))
	return out, nil
}
