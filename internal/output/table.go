package output

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// TableFormatter formats output as a table
type TableFormatter struct {
	// Fields specifies which fields to include (empty = all fields)
	Fields []string
	// FieldLabels provides custom labels for fields (key = field name, value = display label)
	FieldLabels map[string]string
}

// Write outputs the data as a table
func (f *TableFormatter) Write(w io.Writer, data interface{}) error {
	val := reflect.ValueOf(data)
	if val.Kind() != reflect.Slice {
		val = reflect.ValueOf([]interface{}{data})
	}
	if val.Len() == 0 {
		fmt.Fprintln(w, "No resources")
		return nil
	}

	first := reflect.Indirect(reflect.ValueOf(val.Index(0).Interface()))
	headers := f.getHeaders(first)
	if len(headers) == 0 {
		fmt.Fprintln(w, "No resources")
		return nil
	}

	displayHeaders := make([]string, len(headers))
	for i, h := range headers {
		if label, ok := f.FieldLabels[h]; ok {
			displayHeaders[i] = label
		} else {
			displayHeaders[i] = strings.ToUpper(h)
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(displayHeaders)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	for i := 0; i < val.Len(); i++ {
		item := reflect.Indirect(reflect.ValueOf(val.Index(i).Interface()))
		row := make([]string, len(headers))
		for j, h := range headers {
			row[j] = formatValue(getFieldValue(item, h))
		}
		table.Append(row)
	}

	table.Render()
	return nil
}

func (f *TableFormatter) getHeaders(val reflect.Value) []string {
	if len(f.Fields) > 0 {
		return f.Fields
	}
	switch val.Kind() {
	case reflect.Struct:
		t := val.Type()
		headers := make([]string, 0, val.NumField())
		for i := 0; i < val.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			if tag := jsonTag(field); tag != "" && tag != "-" {
				headers = append(headers, tag)
			}
		}
		return headers
	default:
		return []string{"value"}
	}
}

func formatValue(v interface{}) string {
	if v == nil {
		return ""
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return ""
	}
	if rv.Kind() == reflect.Slice {
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = fmt.Sprintf("%v", rv.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf("%v", v)
}

func jsonTag(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}

// getFieldValue looks a field up by JSON tag or Go name. Non-struct values
// are returned as-is for the synthetic "value" column.
func getFieldValue(v reflect.Value, name string) interface{} {
	if !v.IsValid() {
		return nil
	}
	if v.Kind() != reflect.Struct {
		if name == "value" {
			return v.Interface()
		}
		return nil
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		if jsonTag(field) == name || field.Name == name {
			return v.Field(i).Interface()
		}
	}
	return nil
}
