package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
)

// ReadParquet reads a flat parquet file. Column names form the header and
// every value is rendered as text; DATE and TIMESTAMP columns are rendered
// as 2006-01-02.
func ReadParquet(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat parquet: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	fields := pf.Schema().Fields()
	if len(fields) == 0 {
		return nil, ErrEmptySheet
	}
	header := make([]string, len(fields))
	for i, field := range fields {
		header[i] = field.Name()
	}

	var records [][]string
	buf := make([]parquet.Row, 128)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				records = append(records, renderRow(row, fields))
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
		}
		rows.Close()
	}

	return NewTable(header, records), nil
}

func renderRow(row parquet.Row, fields []parquet.Field) []string {
	out := make([]string, len(fields))
	for _, v := range row {
		col := v.Column()
		if col < 0 || col >= len(fields) || v.IsNull() {
			continue
		}
		out[col] = renderValue(v, fields[col])
	}
	return out
}

func renderValue(v parquet.Value, field parquet.Field) string {
	if lt := field.Type().LogicalType(); lt != nil {
		switch {
		case lt.Date != nil && v.Kind() == parquet.Int32:
			return time.Unix(int64(v.Int32())*86400, 0).UTC().Format(dateLayout)
		case lt.Timestamp != nil && v.Kind() == parquet.Int64:
			return timestampValue(v.Int64(), lt.Timestamp.Unit.Millis != nil, lt.Timestamp.Unit.Micros != nil).Format(dateLayout)
		}
	}

	switch v.Kind() {
	case parquet.Boolean:
		return strconv.FormatBool(v.Boolean())
	case parquet.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case parquet.Int64:
		return strconv.FormatInt(v.Int64(), 10)
	case parquet.Float:
		return strconv.FormatFloat(float64(v.Float()), 'f', -1, 32)
	case parquet.Double:
		return strconv.FormatFloat(v.Double(), 'f', -1, 64)
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return ""
	}
}

func timestampValue(n int64, millis, micros bool) time.Time {
	switch {
	case millis:
		return time.UnixMilli(n).UTC()
	case micros:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}
