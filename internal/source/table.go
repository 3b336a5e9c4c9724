package source

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrMissingColumn is returned when a required header column is absent.
	ErrMissingColumn = errors.New("missing required column")

	// ErrUnsupportedFormat is returned for files no reader handles.
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

	// ErrEmptySheet is returned when a file has no header row.
	ErrEmptySheet = errors.New("spreadsheet has no header row")
)

// Row is one data record. Position is its 0-based index below the header.
type Row struct {
	Position int
	values   []string
	index    map[string]int
}

// Get returns the trimmed cell under column, or "" when the column is absent
// or the row is short.
func (r Row) Get(column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

// Table is a header plus data rows in sheet order.
type Table struct {
	Header []string
	Rows   []Row
	index  map[string]int
}

// NewTable builds a table from a header and raw records.
func NewTable(header []string, records [][]string) *Table {
	t := &Table{
		Header: make([]string, len(header)),
		index:  make(map[string]int, len(header)),
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		t.Header[i] = h
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}
	t.Rows = make([]Row, len(records))
	for i, rec := range records {
		t.Rows[i] = Row{Position: i, values: rec, index: t.index}
	}
	return t
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Has reports whether the header contains column.
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Require checks that every column is present in the header.
func (t *Table) Require(columns ...string) error {
	for _, c := range columns {
		if !t.Has(c) {
			return fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}
	return nil
}

// Open reads a spreadsheet, choosing the reader by file extension.
func Open(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(path)
	case ".csv":
		return ReadCSV(path)
	case ".parquet":
		return ReadParquet(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// Supported reports whether Open can read path.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".csv", ".parquet":
		return true
	}
	return false
}
