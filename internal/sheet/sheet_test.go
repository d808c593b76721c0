package sheet

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseCSVInfersTypes(t *testing.T) {
	content := "\xef\xbb\xbfName,Amount,Joined,Phone\nAsha,500,2024-01-02,09876543210\nRavi,12.5,,\n,,,\nMeena,300,n/a,123\n"

	table, err := Parse("people.csv", []byte(content), Options{})
	require.NoError(t, err)

	assert.Equal(t, LayoutPlain, table.Layout)
	assert.Equal(t, []string{"Name", "Amount", "Joined", "Phone"}, table.Headers)
	require.Len(t, table.Rows, 3)

	assert.Equal(t, "Asha", table.Rows[0][0])
	assert.Equal(t, int64(500), table.Rows[0][1])
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), table.Rows[0][2])
	assert.Equal(t, "09876543210", table.Rows[0][3])
	assert.Equal(t, 12.5, table.Rows[1][1])
	assert.Nil(t, table.Rows[1][2])
	assert.Equal(t, "n/a", table.Rows[2][2])
}

func TestParseCSVPadsShortRowsAndSkipsWideRows(t *testing.T) {
	content := "a,b,c\n1,2\n1,2,3,4\n5,6,7,,\n"

	table, err := Parse("x.csv", []byte(content), Options{Layout: LayoutPlain})
	require.NoError(t, err)

	require.Len(t, table.Rows, 2)
	assert.Equal(t, []any{int64(1), int64(2), nil}, table.Rows[0])
	assert.Equal(t, []any{int64(5), int64(6), int64(7)}, table.Rows[1])
	assert.Equal(t, 1, table.Skipped)
}

func TestParseDetectsChallanLayout(t *testing.T) {
	preamble := strings.Repeat("Traffic Police Report,,,\n", DefaultHeaderOffset)
	content := preamble +
		"Challan Number,Extra Column,Challan Amount,Vehicle Number\n" +
		"CH-1,ignored,500,MP09AB1234\n" +
		"CH-2,ignored,300,MP09CD5678\n"

	table, err := Parse("report.csv", []byte(content), Options{})
	require.NoError(t, err)

	assert.Equal(t, LayoutChallan, table.Layout)
	assert.Equal(t, []string{"Challan Number", "Vehicle Number", "Challan Amount"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []any{"CH-1", "MP09AB1234", int64(500)}, table.Rows[0])
}

func TestParseExplicitChallanLayoutWithoutKnownColumns(t *testing.T) {
	content := strings.Repeat("x\n", DefaultHeaderOffset) + "Foo,Bar\n1,2\n"

	_, err := Parse("report.csv", []byte(content), Options{Layout: LayoutChallan})
	assert.ErrorIs(t, err, ErrNoColumns)
}

func TestParseRejectsUnsupportedExtension(t *testing.T) {
	_, err := Parse("notes.txt", []byte("a,b\n1,2\n"), Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.False(t, SupportedExtension("notes.txt"))
	assert.True(t, SupportedExtension("Data.XLSX"))
}

func TestParseRejectsEmptyContent(t *testing.T) {
	cases := map[string]string{
		"blank":       "   \n",
		"header only": "Name,Amount\n",
		"blank rows":  "Name,Amount\n,\n , \n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("x.csv", []byte(content), Options{})
			assert.ErrorIs(t, err, ErrEmptyContent)
		})
	}
}

func TestParseRejectsHeaderlessContent(t *testing.T) {
	_, err := Parse("x.csv", []byte(",,\n1,2,3\n"), Options{})
	assert.ErrorIs(t, err, ErrNoColumns)
}

func TestParseUnnamedHeaders(t *testing.T) {
	table, err := Parse("x.csv", []byte("Name,,Amount\nA,B,1\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Unnamed: 1", "Amount"}, table.Headers)
}

func TestParseWorkbook(t *testing.T) {
	f := excelize.NewFile()
	t.Cleanup(func() { _ = f.Close() })
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"City", "Total"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Indore", 500}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"Mumbai", 300}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	table, err := Parse("cities.xlsx", buf.Bytes(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"City", "Total"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []any{"Mumbai", int64(300)}, table.Rows[1])
}

func TestParseWorkbookRejectsCorruptContent(t *testing.T) {
	_, err := Parse("broken.xlsx", []byte("definitely not a zip"), Options{})
	require.Error(t, err)
}

func TestParseLayout(t *testing.T) {
	layout, err := ParseLayout(" Challan ")
	require.NoError(t, err)
	assert.Equal(t, LayoutChallan, layout)

	layout, err = ParseLayout("auto")
	require.NoError(t, err)
	assert.Equal(t, LayoutAuto, layout)

	_, err = ParseLayout("fixed-width")
	assert.Error(t, err)
}

func TestInferCellKeepsDigitsNumericTypesCannotHold(t *testing.T) {
	cases := map[string]any{
		"12345678901234567890123": "12345678901234567890123",
		"98765432109876543210":    "98765432109876543210",
		"-98765432109876543210":   "-98765432109876543210",
		"0.123456789012345678901": "0.123456789012345678901",
		"9223372036854775807":     int64(9223372036854775807),
		"1.50":                    1.5,
		"0.1":                     0.1,
		"2.5e3":                   2500.0,
		" 42 ":                    int64(42),
	}
	for raw, want := range cases {
		assert.Equal(t, want, InferCell(raw), "InferCell(%q)", raw)
	}
}

func TestParseCSVKeepsLongNumericIdentifiers(t *testing.T) {
	content := "Account,Balance\n12345678901234567890123,10\n"

	table, err := Parse("accounts.csv", []byte(content), Options{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "12345678901234567890123", table.Rows[0][0])
	assert.Equal(t, int64(10), table.Rows[0][1])
}
