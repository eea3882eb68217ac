// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/monitor"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/service"
)

// Format of the report
type Format string

const (
	// FormatTable renders one table per socket
	FormatTable Format = "table"
	// FormatRaw renders key=value lines
	FormatRaw Format = "raw"
)

// Formats lists the supported report formats
var Formats = []Format{FormatTable, FormatRaw}

// Reporter writes energy reports to stdout
type Reporter struct {
	logger *slog.Logger
	out    io.Writer
	format Format
}

var (
	_ monitor.Reporter = (*Reporter)(nil)
	_ service.Service  = (*Reporter)(nil)
)

type Opts struct {
	logger *slog.Logger
	out    io.Writer
	format Format
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		out:    os.Stdout,
		format: FormatTable,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Reporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.Writer) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithFormat(f Format) OptionFn {
	return func(o *Opts) {
		o.format = f
	}
}

func NewReporter(applyOpts ...OptionFn) *Reporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Reporter{
		logger: opts.logger.With("service", "stdout"),
		out:    opts.out,
		format: opts.format,
	}
}

// Name implements service.Name
func (r *Reporter) Name() string {
	return "stdout"
}

// Report renders report and writes it in a single write
func (r *Reporter) Report(report *monitor.Report) error {
	var buf bytes.Buffer
	switch r.format {
	case FormatRaw:
		writeRaw(&buf, report)
	case FormatTable:
		if err := writeTables(&buf, report); err != nil {
			return fmt.Errorf("failed to render report: %w", err)
		}
	default:
		return fmt.Errorf("unknown report format %q", r.format)
	}

	r.logger.Debug("Writing report", "format", r.format, "final", report.Final, "entries", len(report.Entries))
	_, err := r.out.Write(buf.Bytes())
	return err
}

func writeRaw(out io.Writer, report *monitor.Report) {
	duration := report.Window.Duration().Seconds()
	for node := 0; node < report.NumNodes; node++ {
		fmt.Fprintf(out, "\ncpu_count=%d\n", report.NumNodes)
		fmt.Fprintf(out, "duration_seconds=%f\n", duration)
		for _, e := range report.Node(node) {
			fmt.Fprintf(out, "cpu%d_%s_joules=%f\n", node, e.Domain, e.Energy.Joules())
		}
	}
}

func writeTables(out io.Writer, report *monitor.Report) error {
	duration := report.Window.Duration().Seconds()
	for node := 0; node < report.NumNodes; node++ {
		rows := [][]string{
			{"Duration", fmt.Sprintf("%.6f sec", duration)},
		}
		for _, e := range report.Node(node) {
			rows = append(rows, []string{
				e.Domain.FormattedName(),
				fmt.Sprintf("%.6f Joule", e.Energy.Joules()),
			})
		}

		table := tablewriter.NewWriter(out)
		table.Configure(func(cfg *tablewriter.Config) {
			cfg.Row.Formatting.Alignment = tw.AlignRight
		})
		table.Header([]string{"CPU Energy Meter", fmt.Sprintf("Socket %d", node)})
		if err := table.Bulk(rows); err != nil {
			return err
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	return nil
}
