package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"mercator-hq/unistore/pkg/storage"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText prints one compact JSON record per line (default).
	FormatText OutputFormat = "text"
	// FormatJSON is indented JSON.
	FormatJSON OutputFormat = "json"
	// FormatYAML is YAML.
	FormatYAML OutputFormat = "yaml"
	// FormatCSV is one row per record with a header of all top-level fields.
	FormatCSV OutputFormat = "csv"
)

// Formatter writes command results.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// TextFormatter writes records as JSON lines and anything else with %v.
type TextFormatter struct{}

// FormatTo writes data to w.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	switch v := data.(type) {
	case []storage.Record:
		enc := json.NewEncoder(w)
		for _, rec := range v {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	case storage.Record, map[string]any:
		return json.NewEncoder(w).Encode(v)
	}
	_, err := fmt.Fprintf(w, "%v\n", data)
	return err
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes data to w in JSON format.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

// FormatTo writes data to w in YAML format. Values are routed through JSON
// first so that struct json tags name the keys.
func (f *YAMLFormatter) FormatTo(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// CSVFormatter formats records as CSV. Headers fixes the column set; when
// empty, the columns are the union of all top-level fields with id first.
type CSVFormatter struct {
	Headers []string
}

// FormatTo writes data to w. Only records are supported.
func (f *CSVFormatter) FormatTo(w io.Writer, data any) error {
	var recs []storage.Record
	switch v := data.(type) {
	case []storage.Record:
		recs = v
	case storage.Record:
		recs = []storage.Record{v}
	default:
		return fmt.Errorf("csv output supports records only, got %T", data)
	}

	headers := f.Headers
	if len(headers) == 0 {
		headers = recordColumns(recs)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	row := make([]string, len(headers))
	for _, rec := range recs {
		for i, h := range headers {
			cell, err := csvCell(rec[h])
			if err != nil {
				return err
			}
			row[i] = cell
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func recordColumns(recs []storage.Record) []string {
	seen := map[string]bool{storage.FieldID: true}
	var rest []string
	for _, rec := range recs {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				rest = append(rest, k)
			}
		}
	}
	sort.Strings(rest)
	return append([]string{storage.FieldID}, rest...)
}

func csvCell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// NewFormatter creates a formatter for format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatText, "":
		return &TextFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{Indent: true}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatCSV:
		return &CSVFormatter{}, nil
	}
	return nil, NewConfigError("format", fmt.Sprintf("unknown output format %q (text, json, yaml, csv)", format))
}
