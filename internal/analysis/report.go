package analysis

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"ppaflow/internal/config"
	"ppaflow/internal/core"
)

// Report is everything a Reporter renders.
type Report struct {
	Config      *config.StudyConfig
	Performance map[string]map[string]core.PerformanceMetrics
	Power       map[string]map[string]map[string]core.PowerMetrics
	Area        map[string]map[string]map[string]core.AreaMetrics
}

// Artifacts maps a report kind to the path of the rendered file.
type Artifacts struct {
	Reports        map[string]string
	Visualizations map[string]string
}

// Reporter renders a Report into durable artifacts.
type Reporter interface {
	Render(ctx context.Context, r Report) (Artifacts, error)
}

// FileReporter writes reports under {Root}/reports and plot data under
// {Root}/plots:
//
//	reports/ppa_data_<ts>.json     metrics plus study parameters (always)
//	reports/ppa_report_<ts>.html   human-readable summary (report_format html)
//	plots/cpi_comparison.csv       core,benchmark,cycles,instructions,cpi
//	plots/power_comparison.csv     core,pdk,benchmark,dynamic,leakage,total
//	plots/area_comparison.csv      core,pdk,benchmark,logic,memory,total,utilization
//	plots/ppa_summary.csv          core,pdk,benchmark,cpi,total_power,total_area
//
// Plot data is skipped when plot_format is none. Every file is written
// atomically.
type FileReporter struct {
	Root string

	// Now stamps report filenames. Defaults to time.Now.
	Now func() time.Time
}

func (f *FileReporter) Render(ctx context.Context, r Report) (Artifacts, error) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	ts := now().UTC().Format("20060102_150405")
	reports := filepath.Join(f.Root, "reports")
	plots := filepath.Join(f.Root, "plots")

	arts := Artifacts{Reports: map[string]string{}, Visualizations: map[string]string{}}
	opts := r.options()
	html := opts.ReportFormat == config.ReportHTML
	csvPlots := opts.PlotFormat == config.PlotCSV

	type output struct {
		kind, path string
		viz, want  bool
		render     func() ([]byte, error)
	}
	outputs := []output{
		{"json", filepath.Join(reports, "ppa_data_"+ts+".json"), false, true, func() ([]byte, error) { return renderJSON(r) }},
		{"html", filepath.Join(reports, "ppa_report_"+ts+".html"), false, html, func() ([]byte, error) { return renderHTML(r, opts.ComparisonBaseline, now().UTC()) }},
		{"cpi", filepath.Join(plots, "cpi_comparison.csv"), true, csvPlots, func() ([]byte, error) { return renderCSV(cpiRows(r)) }},
		{"power", filepath.Join(plots, "power_comparison.csv"), true, csvPlots, func() ([]byte, error) { return renderCSV(powerRows(r)) }},
		{"area", filepath.Join(plots, "area_comparison.csv"), true, csvPlots, func() ([]byte, error) { return renderCSV(areaRows(r)) }},
		{"ppa", filepath.Join(plots, "ppa_summary.csv"), true, csvPlots, func() ([]byte, error) { return renderCSV(ppaRows(r)) }},
	}
	for _, o := range outputs {
		if !o.want {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Artifacts{}, err
		}
		data, err := o.render()
		if err != nil {
			return Artifacts{}, fmt.Errorf("%s: %w", o.kind, err)
		}
		if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
			return Artifacts{}, fmt.Errorf("%s: %w", o.kind, err)
		}
		if err := core.WriteFileAtomic(o.path, data, 0o644); err != nil {
			return Artifacts{}, fmt.Errorf("%s: %w", o.kind, err)
		}
		if o.viz {
			arts.Visualizations[o.kind] = o.path
		} else {
			arts.Reports[o.kind] = o.path
		}
	}
	return arts, nil
}

// options returns the analysis settings of the report's study, falling back
// to the documented defaults when the report carries no study.
func (r Report) options() config.AnalysisConfig {
	if r.Config == nil {
		return config.AnalysisConfig{
			PlotFormat:         config.DefaultPlotFormat,
			ReportFormat:       config.DefaultReportFormat,
			ComparisonBaseline: config.DefaultComparisonBaseline,
		}
	}
	return r.Config.Analysis()
}

func renderJSON(r Report) ([]byte, error) {
	doc := struct {
		Performance map[string]map[string]core.PerformanceMetrics      `json:"performance"`
		Power       map[string]map[string]map[string]core.PowerMetrics `json:"power"`
		Area        map[string]map[string]map[string]core.AreaMetrics  `json:"area"`
		Study       *config.StudyConfig                                `json:"study_params,omitempty"`
	}{r.Performance, r.Power, r.Area, r.Config}
	return json.MarshalIndent(doc, "", "  ")
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>PPA Analysis Report</title></head>
<body>
<h1>PPA Analysis Report</h1>
<p>Generated {{.Generated}}{{if .Baseline}}; baseline core {{.Baseline}}{{end}}.</p>
<h2>Performance</h2>
{{if .CPI}}<table>
<tr><th>Core</th><th>Benchmark</th><th>Cycles</th><th>Instructions</th><th>CPI</th><th>vs baseline</th></tr>
{{range .CPI}}<tr><td>{{index . 0}}</td><td>{{index . 1}}</td><td>{{index . 2}}</td><td>{{index . 3}}</td><td>{{index . 4}}</td><td>{{index . 5}}</td></tr>
{{end}}</table>{{else}}<p>No simulation results.</p>{{end}}
<h2>Power and Area</h2>
{{if .PPA}}<table>
<tr><th>Core</th><th>PDK</th><th>Benchmark</th><th>CPI</th><th>Total power (mW)</th><th>Total area (mm&sup2;)</th></tr>
{{range .PPA}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</table>{{else}}<p>No synthesis results.</p>{{end}}
</body></html>
`))

func renderHTML(r Report, baseline string, generated time.Time) ([]byte, error) {
	var cpi [][]string
	for _, row := range cpiRows(r)[1:] {
		rel := "-"
		if base, ok := r.Performance[baseline][row[1]]; ok && base.CPI > 0 {
			cur := r.Performance[row[0]][row[1]].CPI
			rel = strconv.FormatFloat(cur/base.CPI, 'f', 3, 64) + "x"
		}
		cpi = append(cpi, append(row, rel))
	}

	var buf bytes.Buffer
	err := reportTemplate.Execute(&buf, struct {
		Generated string
		Baseline  string
		CPI       [][]string
		PPA       [][]string
	}{generated.Format(time.RFC3339), baseline, cpi, ppaRows(r)[1:]})
	return buf.Bytes(), err
}

func renderCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func cpiRows(r Report) [][]string {
	rows := [][]string{{"core", "benchmark", "cycles", "instructions", "cpi"}}
	for _, c := range keys(r.Performance) {
		for _, b := range keys(r.Performance[c]) {
			m := r.Performance[c][b]
			rows = append(rows, []string{c, b, strconv.FormatInt(m.Cycles, 10), strconv.FormatInt(m.Instructions, 10), ftoa(m.CPI)})
		}
	}
	return rows
}

func powerRows(r Report) [][]string {
	rows := [][]string{{"core", "pdk", "benchmark", "dynamic", "leakage", "total"}}
	for _, c := range keys(r.Power) {
		for _, p := range keys(r.Power[c]) {
			for _, b := range keys(r.Power[c][p]) {
				m := r.Power[c][p][b]
				rows = append(rows, []string{c, p, b, ftoa(m.Dynamic), ftoa(m.Leakage), ftoa(m.Total)})
			}
		}
	}
	return rows
}

func areaRows(r Report) [][]string {
	rows := [][]string{{"core", "pdk", "benchmark", "logic", "memory", "total", "utilization"}}
	for _, c := range keys(r.Area) {
		for _, p := range keys(r.Area[c]) {
			for _, b := range keys(r.Area[c][p]) {
				m := r.Area[c][p][b]
				rows = append(rows, []string{c, p, b, ftoa(m.Logic), ftoa(m.Memory), ftoa(m.Total), ftoa(m.Utilization)})
			}
		}
	}
	return rows
}

// ppaRows joins performance, power and area for every synthesized
// coordinate. CPI is empty when the benchmark has no performance data.
func ppaRows(r Report) [][]string {
	rows := [][]string{{"core", "pdk", "benchmark", "cpi", "total_power", "total_area"}}
	for _, c := range keys(r.Area) {
		for _, p := range keys(r.Area[c]) {
			for _, b := range keys(r.Area[c][p]) {
				cpi := ""
				if m, ok := r.Performance[c][b]; ok {
					cpi = ftoa(m.CPI)
				}
				rows = append(rows, []string{c, p, b, cpi, ftoa(r.Power[c][p][b].Total), ftoa(r.Area[c][p][b].Total)})
			}
		}
	}
	return rows
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clean removes everything the reporter writes.
func (f *FileReporter) Clean() error {
	for _, dir := range []string{"reports", "plots"} {
		if err := os.RemoveAll(filepath.Join(f.Root, dir)); err != nil {
			return err
		}
	}
	return nil
}
