package output

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by results that print as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes data as a borderless, left-aligned table.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := tablewriter.NewWriter(w)
	if h := data.Headers(); len(h) > 0 {
		table.SetHeader(h)
	}
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(data.Rows())
	table.Render()
	return nil
}

// TableData is an ad-hoc table.
type TableData struct {
	headers []string
	rows    [][]string
}

func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers}
}

func (t *TableData) AddRow(row ...string) { t.rows = append(t.rows, row) }
func (t *TableData) Headers() []string    { return t.headers }
func (t *TableData) Rows() [][]string     { return t.rows }

// KeyValues is a two-column table without headers, used for status views.
type KeyValues struct {
	rows [][]string
}

// Add appends a row; v is formatted with %v.
func (kv *KeyValues) Add(key string, v any) *KeyValues {
	kv.rows = append(kv.rows, []string{key + ":", fmt.Sprint(v)})
	return kv
}

func (kv *KeyValues) Headers() []string { return nil }
func (kv *KeyValues) Rows() [][]string  { return kv.rows }
