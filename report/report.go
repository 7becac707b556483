// Package report renders a finished run for people and for machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"rustfs-bench/bench"
)

// Renderer formats a RunReport as text.
type Renderer struct {
	// Color enables ANSI colors for the overall status line.
	Color bool
}

// NewRenderer returns a renderer with colors enabled when useColor is set.
func NewRenderer(useColor bool) *Renderer {
	return &Renderer{Color: useColor}
}

// Render writes the human-readable report to w.
func (r *Renderer) Render(w io.Writer, report bench.RunReport) error {
	fmt.Fprintf(w, "RustFS benchmark report (run %s)\n", report.RunID)
	if !report.StartedAt.IsZero() {
		fmt.Fprintf(w, "Started %s, took %s\n\n",
			report.StartedAt.Format(time.RFC3339),
			report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Operation", "Successful", "Success rate", "Avg latency", "Ops/sec", "Bytes"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, s := range report.Stats {
		table.Append(statsRow(s))
	}
	table.Render()

	if report.Batch.Concurrency > 0 {
		b := report.Batch
		fmt.Fprintf(w, "\nConcurrent batch: %d x %s in %s, %d/%d succeeded, %.2f MB/s\n",
			b.Concurrency,
			formatMiB(b.PayloadSize),
			b.Elapsed.Round(time.Millisecond),
			b.Successful,
			b.Concurrency,
			report.BatchThroughputMBps)
	}

	if report.Host.Samples > 0 {
		fmt.Fprintf(w, "Host: avg CPU %.1f%%, peak memory %.1f%%, network rx %s tx %s (%d samples)\n",
			report.Host.AvgCPUPct, report.Host.PeakMemoryPct,
			formatMiB(report.Host.NetworkRxBytes), formatMiB(report.Host.NetworkTxBytes),
			report.Host.Samples)
	}

	fmt.Fprintf(w, "\nCombined success rate: %.1f%%\n", report.CombinedSuccessRatePct)
	fmt.Fprintf(w, "Overall status: %s\n", r.status(report.Status))

	writeArtifacts(w, report.Artifacts)
	return nil
}

func statsRow(s bench.Stats) []string {
	return []string{
		string(s.Kind),
		fmt.Sprintf("%d/%d", s.Successful, s.Attempted),
		fmt.Sprintf("%.1f%%", s.SuccessRatePct),
		s.AverageDuration.Round(time.Microsecond).String(),
		strconv.FormatFloat(s.ThroughputOpsPerSec, 'f', 2, 64),
		strconv.FormatInt(s.Bytes, 10),
	}
}

func (r *Renderer) status(s bench.OverallStatus) string {
	var c *color.Color
	switch s {
	case bench.StatusExcellent:
		c = color.New(color.FgGreen, color.Bold)
	case bench.StatusGood:
		c = color.New(color.FgYellow, color.Bold)
	default:
		c = color.New(color.FgRed, color.Bold)
	}
	if r.Color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.Sprint(string(s))
}

func writeArtifacts(w io.Writer, a bench.Artifacts) {
	entries := []struct {
		name string
		path string
	}{
		{"server log", a.ServerLog},
		{"benchmark log", a.BenchmarkLog},
		{"build log", a.BuildLog},
		{"summary", a.Summary},
		{"outcomes", a.Outcomes},
		{"traces", a.Traces},
	}

	header := false
	for _, e := range entries {
		if e.path == "" {
			continue
		}
		if !header {
			fmt.Fprintln(w, "\nArtifacts:")
			header = true
		}
		fmt.Fprintf(w, "  %-14s %s\n", e.name+":", e.path)
	}
}

func formatMiB(size int64) string {
	return fmt.Sprintf("%.2f MiB", float64(size)/bench.MiB)
}

// WriteJSON persists the report as indented JSON at path.
func WriteJSON(path string, report bench.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create summary directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	return nil
}
