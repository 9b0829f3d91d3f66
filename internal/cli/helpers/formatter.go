package helpers

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents the desired output format.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// AllFormats lists the formats every listing command accepts.
var AllFormats = []OutputFormat{FormatTable, FormatJSON, FormatYAML}

// Formatter renders command results.
type Formatter interface {
	Format(data any, writer io.Writer) error
}

// NewFormatter creates a new Formatter for the given format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatTable:
		return &TableFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// JSONFormatter formats data as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any, writer io.Writer) error {
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// YAMLFormatter formats data as YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any, writer io.Writer) error {
	enc := yaml.NewEncoder(writer)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

// TableFormatter renders a slice of structs as columns named by their `header`
// tags, or a single struct as header/value lines.
type TableFormatter struct{}

func (f *TableFormatter) Format(data any, writer io.Writer) error {
	val := reflect.ValueOf(data)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	w := tabwriter.NewWriter(writer, 0, 0, 3, ' ', 0)
	switch val.Kind() {
	case reflect.Slice:
		if val.Len() == 0 {
			return nil
		}
		if _, err := fmt.Fprintln(w, strings.Join(headers(val.Index(0).Type()), "\t")); err != nil {
			return err
		}
		for i := 0; i < val.Len(); i++ {
			if _, err := fmt.Fprintln(w, strings.Join(rowValues(val.Index(i)), "\t")); err != nil {
				return err
			}
		}
	case reflect.Struct:
		names, values := headers(val.Type()), rowValues(val)
		for i := range names {
			if _, err := fmt.Fprintf(w, "%s:\t%s\n", names[i], values[i]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("data must be a struct or a slice of structs")
	}
	return w.Flush()
}

func headers(t reflect.Type) []string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var out []string
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("header"); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func rowValues(v reflect.Value) []string {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()
	var out []string
	for i := 0; i < v.NumField(); i++ {
		if t.Field(i).Tag.Get("header") != "" {
			out = append(out, fmt.Sprintf("%v", v.Field(i).Interface()))
		}
	}
	return out
}
