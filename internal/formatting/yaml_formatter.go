package formatting

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"queuewatch/internal/monitor"
	"queuewatch/internal/report"
)

// YAMLFormatter provides YAML output formatting
type YAMLFormatter struct {
	options Options
}

// NewYAMLFormatter creates a new YAML formatter
func NewYAMLFormatter(options Options) *YAMLFormatter {
	return &YAMLFormatter{
		options: options,
	}
}

// FormatSummaries writes the summaries as a YAML sequence.
func (f *YAMLFormatter) FormatSummaries(w io.Writer, summaries []report.Summary) error {
	if summaries == nil {
		summaries = []report.Summary{}
	}
	return f.write(w, summaries)
}

// FormatHeartbeats writes the heartbeats as a YAML sequence.
func (f *YAMLFormatter) FormatHeartbeats(w io.Writer, heartbeats []monitor.Heartbeat) error {
	if heartbeats == nil {
		heartbeats = []monitor.Heartbeat{}
	}
	return f.write(w, heartbeats)
}

func (f *YAMLFormatter) write(w io.Writer, data interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to format YAML: %w", err)
	}
	return enc.Close()
}
