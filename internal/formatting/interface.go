// Package formatting renders queue summaries and monitor heartbeats for the
// CLI in table, JSON or YAML form.
package formatting

import (
	"fmt"
	"io"
	"strings"

	"queuewatch/internal/monitor"
	"queuewatch/internal/report"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Rich table output
	FormatJSON  OutputFormat = "json"  // JSON output
	FormatYAML  OutputFormat = "yaml"  // YAML output
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use table, json or yaml)", s)
	}
}

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat
	Quiet  bool // Suppress decorative elements
	Color  bool // Enable colored output
}

// Formatter renders reports to a writer.
type Formatter interface {
	FormatSummaries(w io.Writer, summaries []report.Summary) error
	FormatHeartbeats(w io.Writer, heartbeats []monitor.Heartbeat) error
}

// New creates the appropriate formatter based on options
func New(options Options) Formatter {
	switch options.Format {
	case FormatJSON:
		return NewJSONFormatter(options)
	case FormatYAML:
		return NewYAMLFormatter(options)
	default:
		return NewTableFormatter(options)
	}
}
