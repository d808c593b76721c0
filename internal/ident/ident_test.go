package ident

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func TestSanitize(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
		want string
	}{
		{raw: "Challan Amount", kind: Column, want: "challan_amount"},
		{raw: "  Owner-Name ", kind: Column, want: "owner_name"},
		{raw: "2024 Sales", kind: Table, want: "tbl_2024_sales"},
		{raw: "9", kind: Column, want: "col_9"},
		{raw: "", kind: Table, want: "tbl"},
		{raw: "___", kind: Column, want: "col"},
		{raw: "₹ Amount (INR)", kind: Column, want: "amount__inr"},
		{raw: "Latitue Longtitue", kind: Column, want: "latitue_longtitue"},
	}
	for _, tc := range cases {
		if got := Sanitize(tc.raw, tc.kind); got != tc.want {
			t.Fatalf("Sanitize(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestSanitizeIsIdempotentAndValid(t *testing.T) {
	inputs := []string{
		"", "_", "a", "A_", "1", "_1_", "héllo wörld", "Send To Court Date",
		strings.Repeat("x", 80),
		"1" + strings.Repeat("y", 70),
		strings.Repeat("ab_", 30),
		"__" + strings.Repeat("_z", 40),
		"%%%",
		"Column__With__Doubles",
	}
	for _, kind := range []Kind{Table, Column} {
		for _, raw := range inputs {
			once := Sanitize(raw, kind)
			if !identifierPattern.MatchString(once) {
				t.Fatalf("Sanitize(%q) = %q does not match identifier pattern", raw, once)
			}
			if len(once) > MaxLength {
				t.Fatalf("Sanitize(%q) length = %d", raw, len(once))
			}
			if twice := Sanitize(once, kind); twice != once {
				t.Fatalf("Sanitize not idempotent for %q: %q then %q", raw, once, twice)
			}
		}
	}
}

func TestMapColumnsHandlesCollisions(t *testing.T) {
	mapping := MapColumns([]string{"Name", "name", "NAME!", "", "id", "Created At"})
	want := []string{"name", "name_2", "name_3", "unnamed__3", "id_2", "created_at_2"}
	if len(mapping) != len(want) {
		t.Fatalf("unexpected mapping length: %d", len(mapping))
	}
	for i, column := range mapping {
		if column.Identifier != want[i] {
			t.Fatalf("column %d identifier = %q, want %q", i, column.Identifier, want[i])
		}
	}
	if mapping[3].Original != "Unnamed: 3" {
		t.Fatalf("expected placeholder label, got %q", mapping[3].Original)
	}
}

func TestMapColumnsSuffixRespectsMaxLength(t *testing.T) {
	long := strings.Repeat("a", 90)
	mapping := MapColumns([]string{long, long})
	if len(mapping[1].Identifier) > MaxLength {
		t.Fatalf("identifier too long: %d", len(mapping[1].Identifier))
	}
	if !strings.HasSuffix(mapping[1].Identifier, "_2") {
		t.Fatalf("expected suffix, got %q", mapping[1].Identifier)
	}
}

func TestTableName(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	if got := TableName("Traffic Challans.xlsx", at); got != "excel_traffic_challans_20250304_050607" {
		t.Fatalf("unexpected table name %q", got)
	}
	long := TableName(strings.Repeat("report ", 20)+".csv", at)
	if len(long) > 63 {
		t.Fatalf("table name too long: %d", len(long))
	}
	if !identifierPattern.MatchString(long) {
		t.Fatalf("table name %q is not a valid identifier", long)
	}
	if TableName("x.csv", at) == TableName("x.csv", at.Add(time.Second)) {
		t.Fatal("expected re-uploads one second apart to differ")
	}
}

func TestIsGeneratedTableName(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	for _, name := range []string{
		TableName("Traffic Challans.xlsx", at),
		TableName("2024 report.csv", at),
		TableName(strings.Repeat("report ", 20)+".csv", at),
	} {
		if !IsGeneratedTableName(name) {
			t.Fatalf("expected %q to be recognized", name)
		}
	}
	for _, name := range []string{"excel_notes", "sheet_dataset", "excel_a_2025_0304", "EXCEL_a_20250304_050607"} {
		if IsGeneratedTableName(name) {
			t.Fatalf("did not expect %q to be recognized", name)
		}
	}
}

func TestLabelRoundTrip(t *testing.T) {
	mapping := MapColumns([]string{"Challan Amount", "City Name"})
	for _, column := range mapping {
		found, ok := Lookup(mapping, column.Identifier)
		if !ok || found.Original != column.Original {
			t.Fatalf("identifier %q did not map back to %q", column.Identifier, column.Original)
		}
		if NormalizeLabel(column.Identifier) != NormalizeLabel(column.Original) {
			t.Fatalf("normalized forms differ for %q", column.Original)
		}
	}
	if found, ok := Lookup(mapping, "city-name"); !ok || found.Identifier != "city_name" {
		t.Fatalf("expected hyphenated lookup to resolve, got %+v %v", found, ok)
	}
}
