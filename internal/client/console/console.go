// Package console prints sync progress for a person watching the terminal.
package console

import (
	"fmt"
	"io"
	gosync "sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/openmined/treesync/internal/client/sync"
)

type Styles struct {
	Main     lipgloss.Style
	Download lipgloss.Style
	Upload   lipgloss.Style
	Delete   lipgloss.Style
	Failure  lipgloss.Style
	Dim      lipgloss.Style
}

// NewStyles renders for out, so colors are dropped when out is not a
// terminal.
func NewStyles(out io.Writer) Styles {
	r := lipgloss.NewRenderer(out)
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	return Styles{
		Main:     r.NewStyle().Foreground(lipgloss.Color("14")),
		Download: r.NewStyle().Foreground(lipgloss.Color("2")),
		Upload:   r.NewStyle().Foreground(lipgloss.Color("10")),
		Delete:   r.NewStyle().Foreground(lipgloss.Color("9")),
		Failure:  r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Dim:      r.NewStyle().Foreground(lipgloss.Color("242")),
	}
}

// Reporter is a sync.Observer that writes one line per action.
type Reporter struct {
	out    io.Writer
	styles Styles
	mu     gosync.Mutex
}

func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out, styles: NewStyles(out)}
}

func (r *Reporter) printf(style lipgloss.Style, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, style.Render(fmt.Sprintf(format, args...)))
}

func (r *Reporter) blank() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out)
}

// Section prints a heading such as "Updating From Remote".
func (r *Reporter) Section(title string) {
	r.blank()
	r.printf(r.styles.Main, "%s", title)
}

func (r *Reporter) OnAction(a sync.Action) {
	if a.Err != nil {
		r.printf(r.styles.Failure, "\t!%s Failed! %s: %v", a.Op, a.Path, a.Err)
		return
	}

	switch a.Op {
	case sync.OpWriteLocal:
		r.printf(r.styles.Download, "\tDownloading: %s -- %s%s", a.Path, a.Reason, sizeSuffix(a.Size))
	case sync.OpWriteRemote:
		r.printf(r.styles.Upload, "\tUploading: %s -- %s%s", a.Path, a.Reason, sizeSuffix(a.Size))
	case sync.OpDeleteLocal:
		r.printf(r.styles.Delete, "\tDeleting Locally: %s -- %s", a.Path, a.Reason)
	case sync.OpDeleteRemote:
		r.printf(r.styles.Delete, "\tDeleting Remotely: %s -- %s", a.Path, a.Reason)
	case sync.OpMkdirLocal:
		r.printf(r.styles.Main, "\tMaking Directory: %s", a.Path)
	case sync.OpCleanup:
		where := "locally"
		if a.Remote {
			where = "remotely"
		}
		r.printf(r.styles.Dim, "\tFolder Empty: %s -- deleted %s", a.Path, where)
	case sync.OpConflict:
		r.printf(r.styles.Main, "\tConflict: %s -- %s", a.Path, a.Reason)
	case sync.OpSkipped:
		r.printf(r.styles.Dim, "\tSkipping: %s -- %s", a.Path, a.Reason)
	}
}

func (r *Reporter) OnProgress(path string, sent, total int64) {
	pct := 0
	if total > 0 {
		pct = int(sent * 100 / total)
	}
	r.printf(r.styles.Dim, "\t  %s: %s / %s (%d%%)", path, humanize.Bytes(uint64(sent)), humanize.Bytes(uint64(total)), pct)
}

// Summary prints the totals of a finished run.
func (r *Reporter) Summary(report *sync.Report) {
	if report == nil {
		return
	}
	if !report.HasChanges() && report.Conflicts == 0 && report.Failed == 0 {
		r.blank()
		r.printf(r.styles.Main, "Everything up to date (%s)", report.Duration().Round(time.Millisecond))
		return
	}

	r.blank()
	r.printf(r.styles.Main, "Downloaded %d, uploaded %d, deleted %d locally and %d remotely in %s",
		report.Downloaded, report.Uploaded, report.DeletedLocal, report.DeletedRemote,
		report.Duration().Round(time.Millisecond))
	if report.Conflicts > 0 {
		r.printf(r.styles.Main, "%d conflict(s), %d left unresolved", report.Conflicts, report.Unresolved)
	}
	if report.Failed > 0 {
		r.printf(r.styles.Failure, "%d operation(s) failed, they will be retried on the next run", report.Failed)
	}
}

func sizeSuffix(size int64) string {
	if size <= 0 {
		return ""
	}
	return " (" + humanize.Bytes(uint64(size)) + ")"
}
