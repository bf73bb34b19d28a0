package formatting

import (
	"encoding/json"
	"fmt"
	"io"

	"queuewatch/internal/monitor"
	"queuewatch/internal/report"
)

// JSONFormatter provides JSON output formatting
type JSONFormatter struct {
	options Options
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(options Options) *JSONFormatter {
	return &JSONFormatter{
		options: options,
	}
}

// FormatSummaries writes the summaries as a JSON array.
func (f *JSONFormatter) FormatSummaries(w io.Writer, summaries []report.Summary) error {
	if summaries == nil {
		summaries = []report.Summary{}
	}
	return f.write(w, summaries)
}

// FormatHeartbeats writes the heartbeats as a JSON array.
func (f *JSONFormatter) FormatHeartbeats(w io.Writer, heartbeats []monitor.Heartbeat) error {
	if heartbeats == nil {
		heartbeats = []monitor.Heartbeat{}
	}
	return f.write(w, heartbeats)
}

// write emits compact JSON in quiet mode and indented JSON otherwise.
func (f *JSONFormatter) write(w io.Writer, data interface{}) error {
	if !f.options.Quiet {
		_, err := fmt.Fprintln(w, PrettyJSON(data))
		return err
	}

	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to format JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
