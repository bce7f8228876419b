package bench

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/goccy/go-json"

	"github.com/YuminosukeSato/rpcbench/internal/stats"
)

const rule = "========================================"

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#04B575"))
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// Print writes the human-readable report of r.
func (r *Results) Print(w io.Writer) {
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s\n%s\n%s\n", rule, headingStyle.Render("Benchmark Results"), rule)
	fmt.Fprintf(&b, "Scenario: %s\n", r.Scenario)
	fmt.Fprintf(&b, "Framework: %s\n\n", r.Framework)

	b.WriteString(headingStyle.Render("Throughput:") + "\n")
	fmt.Fprintf(&b, "  Requests/sec: %.2f\n", r.RequestsPerSecond)
	fmt.Fprintf(&b, "  Throughput: %.2f MB/s\n", r.ThroughputMBps)
	fmt.Fprintf(&b, "  Total requests: %d\n", r.TotalRequests)
	fmt.Fprintf(&b, "  Total bytes: %s\n", stats.FormatBytes(r.TotalBytes))
	fmt.Fprintf(&b, "  Duration: %s\n\n", stats.FormatDuration(r.DurationNs))

	b.WriteString(headingStyle.Render("Latency:") + "\n")
	fmt.Fprintf(&b, "  %s\n\n", r.Latency)

	b.WriteString(headingStyle.Render("Reliability:") + "\n")
	fmt.Fprintf(&b, "  Successful: %d\n", r.SuccessfulRequests)
	fmt.Fprintf(&b, "  Failed: %d\n", r.FailedRequests)
	fmt.Fprintf(&b, "  Success rate: %.2f%%\n\n", r.SuccessRate*100)

	if r.HasResources() {
		b.WriteString(headingStyle.Render("Resources:") + "\n")
		if r.PeakMemoryBytes > 0 {
			fmt.Fprintf(&b, "  Peak memory: %s\n", stats.FormatBytes(r.PeakMemoryBytes))
		}
		if r.AvgCPUPercent > 0 {
			fmt.Fprintf(&b, "  Avg CPU: %.1f%%\n", r.AvgCPUPercent)
		}
		b.WriteString("\n")
	}

	b.WriteString(rule + "\n\n")
	io.WriteString(w, b.String())
}

// WriteJSON writes results as an indented JSON array.
func WriteJSON(w io.Writer, results []*Results) error {
	if results == nil {
		results = []*Results{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteJSONFile writes results to path, replacing any existing file.
func WriteJSONFile(path string, results []*Results) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteJSON(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ComparisonTable renders one row per result.
func ComparisonTable(results []*Results) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Framework,
			r.Scenario,
			fmt.Sprintf("%.2f", r.RequestsPerSecond),
			fmt.Sprintf("%.2f", r.ThroughputMBps),
			stats.FormatDuration(r.Latency.P50()),
			stats.FormatDuration(r.Latency.P99()),
			fmt.Sprintf("%.2f%%", r.SuccessRate*100),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Framework", "Scenario", "Req/s", "MB/s", "P50", "P99", "Success").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}
