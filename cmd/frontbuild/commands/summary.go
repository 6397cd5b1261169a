package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"git.home.luguber.info/inful/frontbuild/internal/eventstore"
	"git.home.luguber.info/inful/frontbuild/internal/packaging"
	"git.home.luguber.info/inful/frontbuild/internal/taskgraph"
)

// printer renders command output, styled only when writing to a terminal.
type printer struct {
	w     io.Writer
	color bool

	ok, fail, skip, dim, bold lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	r := lipgloss.NewRenderer(w)
	return &printer{
		w:     w,
		color: isTerminal(w),
		ok:    r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		fail:  r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		skip:  r.NewStyle().Foreground(lipgloss.Color("3")),
		dim:   r.NewStyle().Faint(true),
		bold:  r.NewStyle().Bold(true),
	}
}

func isTerminal(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) paint(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) println(a ...any) {
	_, _ = fmt.Fprintln(p.w, a...)
}

func (p *printer) statusLabel(st taskgraph.Status) string {
	switch st {
	case taskgraph.StatusSucceeded:
		return p.paint(p.ok, "ok")
	case taskgraph.StatusFailed:
		return p.paint(p.fail, "failed")
	case taskgraph.StatusSkipped:
		return p.paint(p.skip, "skipped")
	default:
		return string(st)
	}
}

// runSummary prints one line per stage of res followed by the diagnostics of
// every failure.
func (p *printer) runSummary(command string, res *taskgraph.Result) {
	if res == nil {
		return
	}
	verdict := p.paint(p.ok, "succeeded")
	if !res.Succeeded() {
		verdict = p.paint(p.fail, "failed")
	}
	p.println(fmt.Sprintf("%s %s %s in %s %s",
		p.paint(p.bold, "frontbuild"), command, verdict, roundDuration(res.Duration()),
		p.paint(p.dim, fmt.Sprintf("(run %d, %d outputs)", res.Seq, len(res.Outputs())))))

	width := 0
	for _, name := range res.Order {
		width = max(width, len(name))
	}
	for _, name := range res.Order {
		st := res.Status(name)
		line := fmt.Sprintf("  %-*s  %s", width, name, p.statusLabel(st.Status))
		switch st.Status {
		case taskgraph.StatusSkipped:
			line += " " + p.paint(p.dim, "("+st.Reason+")")
		case taskgraph.StatusSucceeded, taskgraph.StatusFailed:
			line += " " + p.paint(p.dim, roundDuration(st.Duration))
		}
		p.println(line)
	}

	for _, f := range res.Failures {
		if f.Kind == taskgraph.KindUpstream {
			continue
		}
		p.println(p.paint(p.fail, fmt.Sprintf("%s: %s", f.Stage, firstLine(f.Err.Error()))))
		for _, d := range f.Diagnostics() {
			p.println("    " + d.String())
		}
	}
}

func (p *printer) distReport(r *packaging.Report) {
	if r == nil {
		return
	}
	line := r.String()
	if r.Budget > 0 && r.Headroom() < 0 {
		line = p.paint(p.skip, line)
	}
	p.println(line)
}

// historyTable renders completed runs, newest first.
func (p *printer) historyTable(runs []eventstore.RunSummary) {
	if len(runs) == 0 {
		p.println("no runs recorded")
		return
	}
	t := ltable.New().
		Border(lipgloss.NormalBorder()).
		Headers("SEQ", "RUN", "REASON", "STATUS", "DURATION", "OUTPUTS", "STARTED").
		StyleFunc(func(row, _ int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == ltable.HeaderRow && p.color {
				return s.Bold(true)
			}
			return s
		})
	for _, r := range runs {
		status := r.Status
		if r.FailedStage != "" {
			status += " (" + r.FailedStage + ")"
		}
		t.Row(
			strconv.FormatUint(r.Seq, 10),
			shortID(r.RunID),
			r.Reason,
			status,
			roundDuration(r.Duration),
			strconv.Itoa(r.Outputs),
			r.StartedAt.Local().Format(time.DateTime),
		)
	}
	p.println(t.String())
}

func roundDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	return d.Round(time.Millisecond).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
