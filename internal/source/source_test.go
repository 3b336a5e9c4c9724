package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSVStripsBOMAndKeepsShortRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.csv")
	data := "\xEF\xBB\xBFName,Outline Level,Start\nProj,1,lun 3/06/24 8:00\nPhase A,2\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	table, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Outline Level", "Start"}, table.Header)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "Proj", table.Rows[0].Get("Name"))
	assert.Equal(t, "lun 3/06/24 8:00", table.Rows[0].Get("Start"))
	assert.Equal(t, 1, table.Rows[1].Position)
	assert.Equal(t, "", table.Rows[1].Get("Start"), "short row reads as empty")
	assert.Equal(t, "", table.Rows[1].Get("Unknown"))
}

func TestRequire(t *testing.T) {
	table := NewTable([]string{" Name ", "Outline Level"}, nil)

	require.NoError(t, table.Require("Name", "Outline Level"))

	err := table.Require("Name", "Finish")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))
	assert.Contains(t, err.Error(), "Finish")
}

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Name", "Outline Level", "Start"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Proj", 1, "2024-06-03"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"Task 1", 3}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	table, err := Open(path)
	require.NoError(t, err)

	require.Equal(t, 2, table.Len())
	assert.Equal(t, "Proj", table.Rows[0].Get("Name"))
	assert.Equal(t, "1", table.Rows[0].Get("Outline Level"))
	assert.Equal(t, "3", table.Rows[1].Get("Outline Level"))
}

func TestReadXLSXTypedDates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.xlsx")
	start := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Name", "Outline Level", "Start"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Task 1", 3, start}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	table, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())

	parsed, ok := ParseDate(table.Rows[0].Get("Start"), nil)
	require.True(t, ok, "cell %q", table.Rows[0].Get("Start"))
	assert.Equal(t, "2024-06-03", FormatDate(parsed))
}

type planRow struct {
	Name    string `parquet:"Name"`
	Outline int64  `parquet:"Outline Level"`
	Start   string `parquet:"Start"`
}

func TestReadParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.parquet")
	rows := []planRow{
		{Name: "Proj", Outline: 1, Start: "2024-06-03"},
		{Name: "Phase A", Outline: 2},
	}
	require.NoError(t, parquet.WriteFile(path, rows))

	table, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, table.Require("Name", "Outline Level", "Start"))
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "Proj", table.Rows[0].Get("Name"))
	assert.Equal(t, "1", table.Rows[0].Get("Outline Level"))
	assert.Equal(t, "2", table.Rows[1].Get("Outline Level"))
}

func TestOpenUnsupported(t *testing.T) {
	_, err := Open("plan.mpp")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	assert.False(t, Supported("plan.mpp"))
	assert.True(t, Supported("PLAN.XLSX"))
}

func TestParseDate(t *testing.T) {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		in string
		ok bool
	}{
		{"2024-06-03", true},
		{"lun 3/06/24 8:00", true},
		{"Mon. 3/6/2024", true},
		{"3/06/2024 08:00", true},
		{"June 3, 2024", true},
		{"3 June 2024", true},
		{"45446", true},
		{"", false},
		{"NA", false},
		{"soon", false},
		{"32/13/2024", false},
	}

	for _, tt := range tests {
		got, ok := ParseDate(tt.in, nil)
		if ok != tt.ok {
			t.Errorf("ParseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && FormatDate(got) != FormatDate(day) {
			t.Errorf("ParseDate(%q) = %s, want %s", tt.in, FormatDate(got), FormatDate(day))
		}
	}
}

func TestParseDateCustomLayouts(t *testing.T) {
	got, ok := ParseDate("06/03/2024", []string{"01/02/2006"})
	require.True(t, ok)
	assert.Equal(t, "2024-06-03", FormatDate(got))
}
