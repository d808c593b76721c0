// Package sheet parses uploaded spreadsheets and delimited files into typed rows.
package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyContent      = errors.New("file is empty after processing")
	ErrNoColumns         = errors.New("file has no header columns")
)

// Layout selects how the header row is located.
type Layout string

const (
	LayoutAuto    Layout = ""
	LayoutPlain   Layout = "plain"
	LayoutChallan Layout = "challan"
)

func ParseLayout(raw string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(raw))) {
	case LayoutAuto, "auto":
		return LayoutAuto, nil
	case LayoutPlain:
		return LayoutPlain, nil
	case LayoutChallan:
		return LayoutChallan, nil
	default:
		return "", fmt.Errorf("unknown layout %q", raw)
	}
}

// DefaultHeaderOffset is the number of preamble rows in challan report exports.
const DefaultHeaderOffset = 7

// ChallanColumns are the columns kept from challan report exports, in output order.
var ChallanColumns = []string{
	"Challan Number",
	"Challan Source",
	"Vehicle Number",
	"Challan Date",
	"Challan Place",
	"Latitue Longtitue",
	"Violator Name",
	"Violator Address",
	"Violator Contact",
	"Owner Name",
	"Challan Status",
	"Challan Amount",
	"Vehicle Class",
	"Send To Court Date",
	"Court Name",
	"Offences",
}

type Options struct {
	Layout       Layout
	HeaderOffset int
}

// Table is a parsed upload. Rows hold nil, int64, float64, time.Time or string cells.
type Table struct {
	Headers []string
	Rows    [][]any
	Layout  Layout
	Skipped int
}

var supportedExtensions = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".xls":  true,
}

func SupportedExtension(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Parse decodes content according to the filename extension.
func Parse(filename string, content []byte, opts Options) (Table, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedExtensions[ext] {
		return Table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return Table{}, ErrEmptyContent
	}

	var (
		records [][]string
		err     error
	)
	if ext == ".csv" {
		records, err = readDelimited(content)
	} else {
		records, err = readWorkbook(content)
	}
	if err != nil {
		return Table{}, err
	}
	return fromRecords(records, opts)
}

func readDelimited(content []byte) ([][]string, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records := make([][]string, 0)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func readWorkbook(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyContent
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func fromRecords(records [][]string, opts Options) (Table, error) {
	offset := opts.HeaderOffset
	if offset <= 0 {
		offset = DefaultHeaderOffset
	}
	layout := opts.Layout
	if layout == LayoutAuto {
		layout = detectLayout(records, offset)
	}

	headerIdx := 0
	if layout == LayoutChallan {
		headerIdx = offset
	}
	if headerIdx >= len(records) {
		return Table{}, ErrEmptyContent
	}

	headers := make([]string, len(records[headerIdx]))
	named := 0
	for i, raw := range records[headerIdx] {
		label := strings.TrimSpace(raw)
		if label == "" {
			label = fmt.Sprintf("Unnamed: %d", i)
		} else {
			named++
		}
		headers[i] = label
	}
	if named == 0 {
		return Table{}, ErrNoColumns
	}

	keep := make([]int, 0, len(headers))
	if layout == LayoutChallan {
		keep = projectColumns(headers, ChallanColumns)
		if len(keep) == 0 {
			return Table{}, ErrNoColumns
		}
	} else {
		for i := range headers {
			keep = append(keep, i)
		}
	}

	table := Table{Layout: layout, Headers: make([]string, 0, len(keep))}
	for _, idx := range keep {
		table.Headers = append(table.Headers, headers[idx])
	}

	for _, record := range records[headerIdx+1:] {
		if isBlank(record) {
			continue
		}
		if len(record) > len(headers) && !isBlank(record[len(headers):]) {
			table.Skipped++
			continue
		}
		row := make([]any, len(keep))
		for out, idx := range keep {
			if idx < len(record) {
				row[out] = InferCell(record[idx])
			}
		}
		table.Rows = append(table.Rows, row)
	}
	if len(table.Rows) == 0 {
		return Table{}, ErrEmptyContent
	}
	return table, nil
}

func detectLayout(records [][]string, offset int) Layout {
	if len(records) <= offset {
		return LayoutPlain
	}
	if countKnown(records[0]) >= 2 {
		return LayoutPlain
	}
	if countKnown(records[offset]) >= 2 {
		return LayoutChallan
	}
	return LayoutPlain
}

func countKnown(record []string) int {
	return len(projectColumns(record, ChallanColumns))
}

// projectColumns returns the index of every wanted column present in headers,
// in wanted order.
func projectColumns(headers, wanted []string) []int {
	index := make(map[string]int, len(headers))
	for i, label := range headers {
		key := strings.ToLower(strings.TrimSpace(label))
		if _, exists := index[key]; !exists {
			index[key] = i
		}
	}
	out := make([]int, 0, len(wanted))
	for _, name := range wanted {
		if idx, ok := index[strings.ToLower(name)]; ok {
			out = append(out, idx)
		}
	}
	return out
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// InferCell types a raw cell value. Values with a leading zero stay text so
// identifiers such as phone numbers keep their digits, and so do numbers that
// an int64 or float64 cannot hold exactly.
func InferCell(raw string) any {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	if !hasLeadingZero(value) {
		n, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return n
		}
		if errors.Is(err, strconv.ErrRange) {
			return value
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil && !strings.ContainsAny(value, "xXnN") {
			if !exactFloat(value, f) {
				return value
			}
			return f
		}
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return value
}

// exactFloat reports whether f's shortest decimal form has the same value as
// text, so "1.50" qualifies but a 20-digit fraction does not.
func exactFloat(text string, f float64) bool {
	want, ok := new(big.Rat).SetString(text)
	if !ok {
		return false
	}
	got, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'f', -1, 64))
	return ok && got.Cmp(want) == 0
}

func hasLeadingZero(value string) bool {
	digits := strings.TrimPrefix(value, "-")
	return len(digits) > 1 && digits[0] == '0' && digits[1] != '.'
}
