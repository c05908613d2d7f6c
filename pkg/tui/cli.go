// Package tui renders label search output for a terminal.
// Simple, streaming, no complex TUI - just clean progress and reports.
package tui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/labelflow/pkg/labels"
	"github.com/logflow/labelflow/pkg/window"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// Progress draws search progress as a bar on stderr.
type Progress struct {
	out         io.Writer
	description string
	bar         *progressbar.ProgressBar
}

// NewProgress returns a bar writing to stderr.
func NewProgress(description string) *Progress {
	return &Progress{out: os.Stderr, description: description}
}

// Start creates the bar once the total is known.
func (p *Progress) Start(total int64) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(p.description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Add advances the bar.
func (p *Progress) Add(n int64) {
	if p.bar != nil && n > 0 {
		_ = p.bar.Add64(n)
	}
}

// Finish completes and clears the bar.
func (p *Progress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// RenderDescription prints the label distribution, settings and
// transforms of stored label times.
func RenderDescription(w io.Writer, d *labels.Description) {
	if d.Distribution != nil {
		section(w, "Label Distribution")
		width := 0
		for _, l := range d.Distribution.Labels {
			width = max(width, len(l.Label))
		}
		for _, l := range d.Distribution.Labels {
			fmt.Fprintf(w, "%-*s  %d\n", width, l.Label, l.Count)
		}
		fmt.Fprintf(w, "%s %d\n\n", mutedStyle.Render("Total:"), d.Distribution.Total())
	}

	section(w, "Settings")
	width := 0
	for _, kv := range d.Settings {
		width = max(width, len(kv[0]))
	}
	for _, kv := range d.Settings {
		fmt.Fprintf(w, "%s  %s\n", mutedStyle.Render(fmt.Sprintf("%-*s", width, kv[0])), kv[1])
	}
	fmt.Fprintln(w)

	section(w, "Transforms")
	if len(d.Transforms) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No transforms applied"))
		return
	}
	for i, t := range d.Transforms {
		fmt.Fprintf(w, "%d. %s\n", i+1, titleStyle.Render(t.Name()))
		for _, k := range sortedKeys(t) {
			if k == "transform" {
				continue
			}
			fmt.Fprintf(w, "  %s  %v\n", mutedStyle.Render(k), t[k])
		}
	}
}

func section(w io.Writer, title string) {
	fmt.Fprintln(w, accentStyle.Render(title))
	fmt.Fprintln(w, mutedStyle.Render(strings.Repeat("-", len(title))))
}

// RenderWindow prints one window of a slice.
func RenderWindow(w io.Writer, win *window.Window) {
	fmt.Fprintf(w, "%s %s  %s\n",
		accentStyle.Render("▸"),
		titleStyle.Render("entity "+win.Entity),
		mutedStyle.Render(fmt.Sprintf("%d rows", win.Len())))
	for _, line := range strings.Split(strings.TrimRight(win.Context.String(), "\n"), "\n") {
		fmt.Fprintln(w, "  "+line)
	}
}

// SearchReport summarises a finished search.
type SearchReport struct {
	Entities int
	Records  int
	Output   []string
	Duration time.Duration
}

// PrintSearchReport prints results after a search.
func PrintSearchReport(w io.Writer, report *SearchReport) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ SEARCH COMPLETE"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Entities:"), titleStyle.Render(formatNumber(int64(report.Entities))))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Labels:"), titleStyle.Render(formatNumber(int64(report.Records))))
	for _, path := range report.Output {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Wrote:"), path)
	}
	if report.Duration > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Time:"), titleStyle.Render(formatDuration(report.Duration)))
	}
	fmt.Fprintln(w)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func sortedKeys(t labels.Transform) []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Comment renders a muted "# " line.
func Comment(s string) string {
	return mutedStyle.Render("# " + s)
}
