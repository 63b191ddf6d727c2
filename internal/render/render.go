// Package render formats step progress, metadata and results for a terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/tendant/community-highlighter/internal/steps"
	"github.com/tendant/community-highlighter/internal/workflows"
	"github.com/tendant/community-highlighter/pkg/highlighter"
)

const barWidth = 20

// ShouldDecorate reports whether w is a terminal
func ShouldDecorate(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusIcon(s steps.Status) string {
	switch s {
	case steps.StatusDone:
		return "✅"
	case steps.StatusWorking:
		return "🔄"
	case steps.StatusFailed:
		return "❌"
	default:
		return "⬜"
	}
}

// StepLine renders one step
func StepLine(st steps.Step, decorate bool) string {
	if decorate {
		return fmt.Sprintf("%s %s", statusIcon(st.Status), st.Label)
	}
	return fmt.Sprintf("[%-7s] %-10s %s", st.Status, st.Key, st.Label)
}

// ProgressBar renders the share of done steps
func ProgressBar(snap steps.Snapshot, decorate bool) string {
	p := snap.Progress()
	filled := int(p * barWidth)
	fill, empty := "#", "-"
	if decorate {
		fill, empty = "█", "░"
	}
	return fmt.Sprintf("%s%s %3.0f%%", strings.Repeat(fill, filled), strings.Repeat(empty, barWidth-filled), p*100)
}

// Progress renders every step followed by the progress bar
func Progress(snap steps.Snapshot, decorate bool) []string {
	lines := make([]string, 0, snap.Len()+1)
	for _, st := range snap.Steps() {
		lines = append(lines, StepLine(st, decorate))
	}
	return append(lines, ProgressBar(snap, decorate))
}

// Printer writes progress to w on every registry change
type Printer struct {
	mu       sync.Mutex
	w        io.Writer
	decorate bool
}

// NewPrinter creates a printer for w
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, decorate: ShouldDecorate(w)}
}

// Observe is a steps.Observer
func (p *Printer) Observe(snap steps.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, strings.Join(Progress(snap, p.decorate), "\n"))
	fmt.Fprintln(p.w)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	return tw
}

// MetadataTable renders video metadata
func MetadataTable(md highlighter.Metadata) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"Property", "Value"})
	tw.AppendRows([]table.Row{
		{"Duration", fmt.Sprintf("%.1f min", md.DurationMinutes)},
		{"Resolution", fmt.Sprintf("%dx%d", md.Width, md.Height)},
		{"Frame rate", fmt.Sprintf("%.2f fps", md.FPS)},
		{"File size", fmt.Sprintf("%.1f MB", md.FileSizeMB)},
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	return tw.Render()
}

// ResultTable renders the artifacts produced so far. resolve maps backend
// locators to something the user can open; nil leaves them as they are.
func ResultTable(res workflows.WorkflowResult, resolve func(string) string) string {
	if resolve == nil {
		resolve = func(s string) string { return s }
	}

	tw := newTable()
	tw.AppendHeader(table.Row{"Artifact", "Value"})
	tw.AppendRow(table.Row{"Summary", orNone(res.SummaryText, nil)})
	tw.AppendRow(table.Row{"Subtitles", orNone(res.SubtitlePath, resolve)})
	tw.AppendRow(table.Row{"Highlight", orNone(res.HighlightPath, resolve)})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 80},
	})
	return tw.Render()
}

func orNone(v *string, fn func(string) string) string {
	if v == nil {
		return "-"
	}
	if fn != nil {
		return fn(*v)
	}
	return *v
}

// HistoryTable renders recorded pipeline runs
func HistoryTable(records []workflows.RunRecord) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"Run", "Phase", "Started", "Duration", "Failed step", "Error"})
	for _, rec := range records {
		tw.AppendRow(table.Row{
			rec.RunID.String(),
			string(rec.Phase),
			rec.StartedAt.Local().Format(time.DateTime),
			rec.Duration().Round(time.Second).String(),
			rec.FailedStep,
			rec.Error,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 6, WidthMax: 60},
	})
	return tw.Render()
}
