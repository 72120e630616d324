package jstest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Summary counts results.
type Summary struct {
	Passed   int
	Failed   int
	Duration time.Duration
}

// Ok reports whether every case passed.
func (s Summary) Ok() bool { return s.Failed == 0 }

// Summarize counts results.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		s.Duration += r.Duration
	}
	return s
}

// Reporter prints results, one line per case, failures followed by their
// error and log tail.
type Reporter struct {
	w       io.Writer
	color   bool
	verbose bool

	pass, fail, dim, bold lipgloss.Style
}

// NewReporter returns a reporter writing to w. With color unset the output
// is plain text; verbose also prints passing cases.
func NewReporter(w io.Writer, color, verbose bool) *Reporter {
	r := &Reporter{w: w, color: color, verbose: verbose}
	if color {
		re := lipgloss.NewRenderer(w)
		r.pass = re.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
		r.fail = re.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
		r.dim = re.NewStyle().Foreground(lipgloss.Color("8"))
		r.bold = re.NewStyle().Bold(true)
	}
	return r
}

func (r *Reporter) render(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

// Report prints results and the summary line, returning the summary.
func (r *Reporter) Report(results []Result) Summary {
	for _, res := range results {
		if res.Passed {
			if r.verbose {
				fmt.Fprintf(r.w, "%s %s %s\n", r.render(r.pass, "PASS"), res.FullName(), r.render(r.dim, formatDuration(res.Duration)))
			}
			continue
		}
		fmt.Fprintf(r.w, "%s %s %s\n", r.render(r.fail, "FAIL"), res.FullName(), r.render(r.dim, "("+res.File+")"))
		fmt.Fprintf(r.w, "    %v\n", res.Err)
		if len(res.Logs) > 0 {
			fmt.Fprintf(r.w, "    %s\n", r.render(r.dim, "log tail:"))
			for _, e := range res.Logs {
				fmt.Fprintf(r.w, "      %s\n", r.render(r.dim, e.String()))
			}
		}
	}

	s := Summarize(results)
	status := r.render(r.pass, "ok")
	if !s.Ok() {
		status = r.render(r.fail, "FAILED")
	}
	parts := []string{fmt.Sprintf("%d passed", s.Passed)}
	if s.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.Failed))
	}
	fmt.Fprintf(r.w, "%s %s %s\n", status, r.render(r.bold, strings.Join(parts, ", ")), r.render(r.dim, formatDuration(s.Duration)))
	return s
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("(%.3fs)", d.Seconds())
}
