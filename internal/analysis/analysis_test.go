package analysis_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ppaflow/internal/analysis"
	"ppaflow/internal/config"
	"ppaflow/internal/core"
)

func simulated(c core.Coordinate, cycles, instructions int64) core.StageResult {
	return core.Succeeded(core.StageSimulate, c, "fp", core.SimulatePayload{Cycles: cycles, Instructions: instructions})
}

func synthesized(c core.Coordinate) core.StageResult {
	return core.Succeeded(core.StageSynthesize, c, "fp", core.SynthesizePayload{
		AreaMM2: 1.2, LogicArea: 0.8, MemoryArea: 0.4, Utilization: 0.75,
		DynamicPowerMW: 10.5, LeakagePowerMW: 0.5, TotalPowerMW: 11.0,
	})
}

type failingReporter struct{}

func (failingReporter) Render(context.Context, analysis.Report) (analysis.Artifacts, error) {
	return analysis.Artifacts{}, errors.New("disk full")
}

var _ = Describe("CPI", func() {
	It("divides cycles by instructions", func() {
		Expect(analysis.CPI(100000, 50000)).To(Equal(2.0))
	})

	It("floors the instruction count at one", func() {
		Expect(analysis.CPI(500, 0)).To(Equal(500.0))
		Expect(analysis.CPI(0, 0)).To(Equal(0.0))
	})
})

var _ = Describe("Metric extraction", func() {
	var (
		sims   map[core.Coordinate]core.StageResult
		synths map[core.Coordinate]core.StageResult
	)

	BeforeEach(func() {
		sims = map[core.Coordinate]core.StageResult{
			core.Pair("rocket", "fft"): simulated(core.Pair("rocket", "fft"), 100000, 50000),
			core.Pair("cva6", "fft"):   core.Failed(core.StageSimulate, core.Pair("cva6", "fft"), errors.New("boom")),
		}
		synths = map[core.Coordinate]core.StageResult{
			core.Triple("rocket", "sky130", "fft"): synthesized(core.Triple("rocket", "sky130", "fft")),
			core.Triple("cva6", "sky130", "fft"): core.UpstreamFailed(core.StageSynthesize,
				core.Triple("cva6", "sky130", "fft"), core.StageSimulate, core.Pair("cva6", "fft")),
		}
	})

	It("keys performance by core and benchmark, skipping failures", func() {
		perf := analysis.ExtractPerformance(sims)
		Expect(perf).To(HaveLen(1))
		Expect(perf["rocket"]["fft"]).To(Equal(core.PerformanceMetrics{Cycles: 100000, Instructions: 50000, CPI: 2.0}))
	})

	It("keys power and area by core, pdk and benchmark", func() {
		power := analysis.ExtractPower(synths)
		area := analysis.ExtractArea(synths)
		Expect(power).To(HaveLen(1))
		Expect(power["rocket"]["sky130"]["fft"]).To(Equal(core.PowerMetrics{Dynamic: 10.5, Leakage: 0.5, Total: 11.0}))
		Expect(area["rocket"]["sky130"]["fft"]).To(Equal(core.AreaMetrics{Logic: 0.8, Memory: 0.4, Total: 1.2, Utilization: 0.75}))
	})

	It("handles empty inputs", func() {
		Expect(analysis.ExtractPerformance(nil)).To(BeEmpty())
		Expect(analysis.ExtractPower(map[core.Coordinate]core.StageResult{})).To(BeEmpty())
		Expect(analysis.ExtractArea(nil)).To(BeEmpty())
	})
})

var _ = Describe("Analyzer", func() {
	var (
		root string
		cfg  *config.StudyConfig
		an   *analysis.Analyzer
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		var err error
		cfg, err = config.Resolve(map[string]any{
			"cores":      []any{"rocket", "cva6"},
			"benchmarks": []any{"fft"},
			"pdks":       []any{"sky130"},
			"output_dir": root,
		})
		Expect(err).NotTo(HaveOccurred())
		fixed := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
		an = analysis.New(&analysis.FileReporter{Root: root, Now: func() time.Time { return fixed }}, nil)
	})

	It("renders reports and plot data", func() {
		sims := map[core.Coordinate]core.StageResult{
			core.Pair("rocket", "fft"): simulated(core.Pair("rocket", "fft"), 100000, 50000),
			core.Pair("cva6", "fft"):   simulated(core.Pair("cva6", "fft"), 90000, 60000),
		}
		synths := map[core.Coordinate]core.StageResult{
			core.Triple("rocket", "sky130", "fft"): synthesized(core.Triple("rocket", "sky130", "fft")),
		}

		out, err := an.Analyze(context.Background(), cfg, sims, synths)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Performance["rocket"]["fft"].CPI).To(Equal(2.0))
		Expect(out.Reports).To(HaveKeyWithValue("html", filepath.Join(root, "reports", "ppa_report_20240301_123000.html")))
		Expect(out.Reports).To(HaveKeyWithValue("json", filepath.Join(root, "reports", "ppa_data_20240301_123000.json")))
		Expect(out.Visualizations).To(HaveKey("cpi"))
		Expect(out.Visualizations).To(HaveKey("power"))
		Expect(out.Visualizations).To(HaveKey("area"))
		Expect(out.Visualizations).To(HaveKey("ppa"))

		for _, p := range out.Reports {
			Expect(p).To(BeAnExistingFile())
		}

		f, err := os.Open(out.Visualizations["cpi"])
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(Equal([][]string{
			{"core", "benchmark", "cycles", "instructions", "cpi"},
			{"cva6", "fft", "90000", "60000", "1.5"},
			{"rocket", "fft", "100000", "50000", "2"},
		}))

		html, err := os.ReadFile(out.Reports["html"])
		Expect(err).NotTo(HaveOccurred())
		Expect(string(html)).To(ContainSubstring("baseline core rocket"))
		Expect(string(html)).To(ContainSubstring("0.750x"))

		data, err := os.ReadFile(out.Reports["json"])
		Expect(err).NotTo(HaveOccurred())
		var doc map[string]any
		Expect(json.Unmarshal(data, &doc)).To(Succeed())
		Expect(doc).To(HaveKey("performance"))
		Expect(doc).To(HaveKey("study_params"))
	})

	It("succeeds with empty inputs", func() {
		out, err := an.Analyze(context.Background(), cfg, nil, map[core.Coordinate]core.StageResult{})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Performance).To(BeEmpty())
		Expect(out.Power).To(BeEmpty())
		Expect(out.Reports["html"]).NotTo(BeEmpty())

		html, err := os.ReadFile(out.Reports["html"])
		Expect(err).NotTo(HaveOccurred())
		Expect(string(html)).To(ContainSubstring("No simulation results."))
	})

	It("reports rendering failures as errors", func() {
		an = analysis.New(failingReporter{}, nil)
		_, err := an.Analyze(context.Background(), cfg, nil, nil)
		Expect(err).To(MatchError(ContainSubstring("disk full")))
	})

	It("works without a reporter", func() {
		an = analysis.New(nil, nil)
		out, err := an.Analyze(context.Background(), cfg, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Reports).To(BeEmpty())
	})

	It("writes only the JSON report without plot data for json and none", func() {
		var err error
		cfg, err = config.Resolve(map[string]any{
			"cores":         []any{"rocket"},
			"benchmarks":    []any{"fft"},
			"output_dir":    root,
			"report_format": "json",
			"plot_format":   "none",
		})
		Expect(err).NotTo(HaveOccurred())
		sims := map[core.Coordinate]core.StageResult{
			core.Pair("rocket", "fft"): simulated(core.Pair("rocket", "fft"), 100, 50),
		}

		out, err := an.Analyze(context.Background(), cfg, sims, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Reports).To(HaveLen(1))
		Expect(out.Reports).To(HaveKey("json"))
		Expect(out.Visualizations).To(BeEmpty())
		Expect(filepath.Join(root, "plots")).NotTo(BeADirectory())
		matches, err := filepath.Glob(filepath.Join(root, "reports", "*.html"))
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(BeEmpty())
	})

	It("compares against the configured baseline core", func() {
		var err error
		cfg, err = config.Resolve(map[string]any{
			"cores":               []any{"rocket", "cva6"},
			"benchmarks":          []any{"fft"},
			"output_dir":          root,
			"comparison_baseline": "cva6",
		})
		Expect(err).NotTo(HaveOccurred())
		sims := map[core.Coordinate]core.StageResult{
			core.Pair("rocket", "fft"): simulated(core.Pair("rocket", "fft"), 100000, 50000),
			core.Pair("cva6", "fft"):   simulated(core.Pair("cva6", "fft"), 90000, 60000),
		}

		out, err := an.Analyze(context.Background(), cfg, sims, nil)
		Expect(err).NotTo(HaveOccurred())
		html, err := os.ReadFile(out.Reports["html"])
		Expect(err).NotTo(HaveOccurred())
		Expect(string(html)).To(ContainSubstring("baseline core cva6"))
		Expect(string(html)).To(ContainSubstring("1.333x"))
	})

	It("cleans rendered output", func() {
		rep := &analysis.FileReporter{Root: root}
		_, err := rep.Render(context.Background(), analysis.Report{Config: cfg})
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Clean()).To(Succeed())
		entries, err := os.ReadDir(root)
		Expect(err).NotTo(HaveOccurred())
		for _, e := range entries {
			Expect(strings.HasPrefix(e.Name(), "reports") || strings.HasPrefix(e.Name(), "plots")).To(BeFalse())
		}
	})
})
