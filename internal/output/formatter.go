package output

import (
	"fmt"
	"io"
	"strings"
)

// Format is an output format for command results.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Formatter writes command results.
type Formatter interface {
	Write(w io.Writer, data interface{}) error
}

// ParseFormat parses a format string. Unknown formats are an error rather
// than a silent fallback, since synth output is consumed by other tools.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// NewFormatter creates a formatter for the given format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}

// NewTableFormatterWithLabels creates a table formatter with the given
// fields and header labels.
func NewTableFormatterWithLabels(fields []string, labels map[string]string) Formatter {
	return &TableFormatter{Fields: fields, FieldLabels: labels}
}
