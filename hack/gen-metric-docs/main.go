// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// gen-metric-docs writes the reference of the metrics served on /metrics
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/exporter/prometheus/collector"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/monitor"
)

// MetricInfo describes one metric family
type MetricInfo struct {
	Name        string
	Type        string
	Description string
	Labels      []string
	ConstLabels []string
}

// idleMonitor never produces data; collectors only need it for Describe
type idleMonitor struct{}

func (idleMonitor) DataChannel() <-chan struct{}         { return nil }
func (idleMonitor) Snapshot() (*monitor.Snapshot, error) { return &monitor.Snapshot{}, nil }
func (idleMonitor) Domains() []monitor.Domain            { return nil }

var (
	fqNameRe      = regexp.MustCompile(`fqName: "([^"]+)"`)
	helpRe        = regexp.MustCompile(`help: "([^"]+)"`)
	varLabelsRe   = regexp.MustCompile(`variableLabels: \{([^}]*)\}`)
	constLabelsRe = regexp.MustCompile(`constLabels: \{([^}]*)\}`)
	labelPairRe   = regexp.MustCompile(`(\w+)="[^"]*"`)
)

// describe returns the metric families announced by c
func describe(c prometheus.Collector) ([]MetricInfo, error) {
	ch := make(chan *prometheus.Desc, 32)
	go func() {
		c.Describe(ch)
		close(ch)
	}()

	var metrics []MetricInfo
	for desc := range ch {
		m, err := parseDesc(desc.String())
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

func parseDesc(s string) (MetricInfo, error) {
	name := fqNameRe.FindStringSubmatch(s)
	if len(name) < 2 {
		return MetricInfo{}, fmt.Errorf("no fqName in %q", s)
	}
	help := helpRe.FindStringSubmatch(s)
	if len(help) < 2 {
		return MetricInfo{}, fmt.Errorf("no help in %q", s)
	}

	m := MetricInfo{
		Name:        name[1],
		Type:        "GAUGE",
		Description: help[1],
	}
	if strings.HasSuffix(m.Name, "_total") {
		m.Type = "COUNTER"
	}

	if match := varLabelsRe.FindStringSubmatch(s); len(match) == 2 && match[1] != "" {
		for _, l := range strings.Split(match[1], ",") {
			m.Labels = append(m.Labels, strings.TrimSpace(l))
		}
	}
	if match := constLabelsRe.FindStringSubmatch(s); len(match) == 2 {
		for _, pair := range labelPairRe.FindAllStringSubmatch(match[1], -1) {
			m.ConstLabels = append(m.ConstLabels, pair[1])
		}
		slices.Sort(m.ConstLabels)
	}
	return m, nil
}

// generateMarkdown renders the metrics grouped into energy and info metrics
func generateMarkdown(metrics []MetricInfo) string {
	slices.SortFunc(metrics, func(a, b MetricInfo) int {
		return strings.Compare(a.Name, b.Name)
	})

	var energy, info []MetricInfo
	for _, m := range metrics {
		if strings.HasSuffix(m.Name, "_info") {
			info = append(info, m)
			continue
		}
		energy = append(energy, m)
	}

	var md strings.Builder
	md.WriteString("# CPU Energy Meter Metrics\n\n")
	md.WriteString("Metrics served on `/metrics` when the Prometheus exporter is enabled (`--exporter.prometheus`).\n")
	md.WriteString("Energy values are cumulative since the start of the measurement and never decrease.\n\n")
	md.WriteString("- **COUNTER**: A cumulative metric that only increases over time\n")
	md.WriteString("- **GAUGE**: A metric that can increase and decrease\n\n")

	if len(energy) > 0 {
		md.WriteString("## Energy Metrics\n\n")
		writeMetrics(&md, energy)
	}
	if len(info) > 0 {
		md.WriteString("## Info Metrics\n\n")
		writeMetrics(&md, info)
	}

	md.WriteString("---\n\n")
	md.WriteString("Generated by hack/gen-metric-docs.\n")
	return md.String()
}

func writeMetrics(md *strings.Builder, metrics []MetricInfo) {
	for _, m := range metrics {
		fmt.Fprintf(md, "### %s\n\n", m.Name)
		fmt.Fprintf(md, "- **Type**: %s\n", m.Type)
		fmt.Fprintf(md, "- **Description**: %s\n", m.Description)
		writeLabels(md, "Labels", m.Labels)
		writeLabels(md, "Constant Labels", m.ConstLabels)
		md.WriteString("\n")
	}
}

func writeLabels(md *strings.Builder, title string, labels []string) {
	if len(labels) == 0 {
		return
	}
	fmt.Fprintf(md, "- **%s**:\n", title)
	for _, l := range labels {
		fmt.Fprintf(md, "  - `%s`\n", l)
	}
}

func collectors(procfs string, logger *slog.Logger) []prometheus.Collector {
	cs := []prometheus.Collector{
		collector.NewEnergyCollector(idleMonitor{}, logger),
		collector.NewBuildInfoCollector(),
	}
	cpuInfo, err := collector.NewCPUInfoCollector(procfs)
	if err != nil {
		logger.Warn("Skipping cpu info metrics", "error", err)
		return cs
	}
	return append(cs, cpuInfo)
}

func run(output, procfs string, logger *slog.Logger) error {
	var metrics []MetricInfo
	for _, c := range collectors(procfs, logger) {
		m, err := describe(c)
		if err != nil {
			return err
		}
		metrics = append(metrics, m...)
	}
	logger.Info("Extracted metrics", "count", len(metrics))

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(output, []byte(generateMarkdown(metrics)), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	logger.Info("Metrics documentation written", "path", output)
	return nil
}

func main() {
	app := kingpin.New("gen-metric-docs", "Generates the metrics reference in Markdown.")
	output := app.Flag("output", "Path to the output Markdown file").Default("docs/metrics.md").String()
	procfs := app.Flag("host.procfs", "Host procfs path").Default("/proc").String()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*output, *procfs, logger); err != nil {
		logger.Error("Failed to generate metrics documentation", "error", err)
		os.Exit(1)
	}
}
