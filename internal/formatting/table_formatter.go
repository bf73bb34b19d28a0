package formatting

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"queuewatch/internal/monitor"
	"queuewatch/internal/report"
	qwstrings "queuewatch/pkg/strings"
)

// TableFormatter provides rich table output formatting
type TableFormatter struct {
	options Options
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(options Options) *TableFormatter {
	return &TableFormatter{
		options: options,
	}
}

// FormatSummaries renders one row per partition and day, followed by a
// totals footer when more than one row is shown.
func (f *TableFormatter) FormatSummaries(w io.Writer, summaries []report.Summary) error {
	if len(summaries) == 0 {
		return f.formatEmptyMessage(w, "No entities recorded for this day")
	}

	t := f.createTable(w)
	t.AppendHeader(f.header("DAY", "PARTITION", "WAITING", "IN SERVICE", "FINALIZED", "TIMED OUT", "TOTAL", "AVG WAIT", "LONGEST"))

	var waiting, inService, finalized, timedOut, total int
	for _, s := range summaries {
		t.AppendRow(table.Row{
			s.Day,
			f.colorize(text.FgHiCyan, s.PartitionKey),
			s.Waiting,
			s.InService,
			s.Finalized,
			s.TimedOut,
			s.Total,
			minutes(s.AvgWaitMinutes),
			minutes(s.LongestWaitingMinutes),
		})
		waiting += s.Waiting
		inService += s.InService
		finalized += s.Finalized
		timedOut += s.TimedOut
		total += s.Total
	}
	if len(summaries) > 1 {
		t.AppendFooter(table.Row{"", "TOTAL", waiting, inService, finalized, timedOut, total, "", ""})
	}

	t.Render()
	return nil
}

// FormatHeartbeats renders the last heartbeat of every monitor.
func (f *TableFormatter) FormatHeartbeats(w io.Writer, heartbeats []monitor.Heartbeat) error {
	if len(heartbeats) == 0 {
		return f.formatEmptyMessage(w, "No monitors reported yet")
	}

	t := f.createTable(w)
	t.AppendHeader(f.header("MONITOR", "STATE", "MESSAGE", "UPDATED", "LAST ONLINE", "FAILURES"))

	for _, hb := range heartbeats {
		lastOnline := "-"
		if hb.LastOnlineAt != nil {
			lastOnline = hb.LastOnlineAt.Format(time.DateTime)
		}
		t.AppendRow(table.Row{
			hb.Monitor,
			f.stateColor(hb.State),
			qwstrings.Truncate(hb.Message, qwstrings.DefaultMessageMaxLen),
			hb.UpdatedAt.Format(time.DateTime),
			lastOnline,
			hb.Failures,
		})
	}

	t.Render()
	return nil
}

// createTable creates a new table with standard styling
func (f *TableFormatter) createTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if f.options.Quiet {
		t.SetStyle(table.StyleLight)
		t.Style().Options.DrawBorder = false
	} else {
		t.SetStyle(table.StyleRounded)
	}
	return t
}

func (f *TableFormatter) header(names ...string) table.Row {
	row := make(table.Row, len(names))
	for i, n := range names {
		row[i] = f.colorize(text.FgHiCyan, n)
	}
	return row
}

func (f *TableFormatter) colorize(c text.Color, s string) string {
	if !f.options.Color {
		return s
	}
	return c.Sprint(s)
}

func (f *TableFormatter) stateColor(state monitor.State) string {
	switch state {
	case monitor.StateOnline:
		return f.colorize(text.FgGreen, string(state))
	case monitor.StateWarning:
		return f.colorize(text.FgYellow, string(state))
	case monitor.StateError:
		return f.colorize(text.FgRed, string(state))
	default:
		return f.colorize(text.FgHiBlack, string(state))
	}
}

// formatEmptyMessage formats empty result messages
func (f *TableFormatter) formatEmptyMessage(w io.Writer, message string) error {
	_, err := fmt.Fprintln(w, f.colorize(text.FgYellow, message))
	return err
}

func minutes(m float64) string {
	if m <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f min", m)
}
