package appbundle

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Progress prints stage-labelled progress for a bundling run.
// A nil *Progress discards everything.
type Progress struct {
	w     io.Writer
	quiet bool
	stage int
	total int

	label   lipgloss.Style
	warning lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
}

// NewProgress writes to w. Colour is only used when w is a terminal.
// When quiet, only the final banner is printed.
func NewProgress(w io.Writer, quiet bool) *Progress {
	r := lipgloss.NewRenderer(w)
	return &Progress{
		w:       w,
		quiet:   quiet,
		label:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		warning: r.NewStyle().Foreground(lipgloss.Color("11")),
		success: r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		failure: r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

func (p *Progress) start(total int) {
	if p == nil {
		return
	}
	p.stage, p.total = 0, total
}

// Stage announces the next stage.
func (p *Progress) Stage(title string) {
	if p == nil {
		return
	}
	p.stage++
	if p.quiet {
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.label.Render(fmt.Sprintf("[%d/%d]", p.stage, p.total)), title)
}

// Infof prints an indented detail line.
func (p *Progress) Infof(format string, args ...interface{}) {
	if p == nil || p.quiet {
		return
	}
	fmt.Fprintf(p.w, "  %s\n", fmt.Sprintf(format, args...))
}

// Warnf prints a non-fatal problem.
func (p *Progress) Warnf(format string, args ...interface{}) {
	if p == nil || p.quiet {
		return
	}
	fmt.Fprintf(p.w, "  %s %s\n", p.warning.Render("warning:"), fmt.Sprintf(format, args...))
}

// Success prints the closing banner of a run that produced a package.
func (p *Progress) Success(r *Report) {
	if p == nil {
		return
	}
	msg := fmt.Sprintf("BUNDLE COMPLETE: %s", r.Package)
	if n := r.Count(StatusSkipped) + r.Count(StatusFailed); n > 0 || r.Icon == "" {
		msg += fmt.Sprintf(" (degraded: %d libraries missing", n)
		if r.Icon == "" {
			msg += ", no icon"
		}
		msg += ")"
	}
	fmt.Fprintln(p.w, p.success.Render(msg))
}

// Failure prints the closing banner of an aborted run.
func (p *Progress) Failure(err error) {
	if p == nil {
		return
	}
	fmt.Fprintln(p.w, p.failure.Render(fmt.Sprintf("BUNDLE FAILED: %v", err)))
}
