package dataset

import (
	"strings"
	"testing"
)

func TestInfoReportsShapeAndTypes(t *testing.T) {
	reg := NewRegistry()
	entry, err := reg.Load(writeCSV(t, "sales.csv", salesCSV), "sales")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info := Info(entry.Frame)
	for _, want := range []string{
		"RangeIndex: 3 entries, 0 to 2",
		"Data columns (total 3 columns):",
		"region",
		"object",
		"2 non-null",
		"float64",
	} {
		if !strings.Contains(info, want) {
			t.Fatalf("info missing %q:\n%s", want, info)
		}
	}
}

func TestDescribeTableNumeric(t *testing.T) {
	reg := NewRegistry()
	entry, err := reg.Load(writeCSV(t, "sales.csv", salesCSV), "sales")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	desc := DescribeTable(entry.Frame)
	for _, want := range []string{"count", "mean", "std", "25%", "75%", "max", "units", "price", "15.000000"} {
		if !strings.Contains(desc, want) {
			t.Fatalf("describe missing %q:\n%s", want, desc)
		}
	}
	if strings.Contains(desc, "region") {
		t.Fatalf("non-numeric column should not be described:\n%s", desc)
	}
}

func TestDescribeTableObjectsOnly(t *testing.T) {
	reg := NewRegistry()
	entry, err := reg.Load(writeCSV(t, "names.csv", "name\nann\nbob\nann\n"), "names")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	desc := DescribeTable(entry.Frame)
	for _, want := range []string{"unique", "top", "ann", "freq"} {
		if !strings.Contains(desc, want) {
			t.Fatalf("object describe missing %q:\n%s", want, desc)
		}
	}
}

func TestCorrelationTableThreshold(t *testing.T) {
	reg := NewRegistry()
	cases := []struct {
		name    string
		content string
		want    bool
	}{
		{"no numeric", "a,b\nx,y\nz,w\n", false},
		{"one numeric", "a,b\nx,1\nz,2\n", false},
		{"two numeric", "a,b\n1,2\n2,4\n3,7\n", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry, err := reg.Load(writeCSV(t, "c.csv", tc.content), "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			table, ok := CorrelationTable(entry.Frame)
			if ok != tc.want {
				t.Fatalf("expected correlation=%v, got %v", tc.want, ok)
			}
			if ok && !strings.Contains(table, "1.000000") {
				t.Fatalf("diagonal missing from correlation table:\n%s", table)
			}
		})
	}
}

func TestPreviewLimitsRows(t *testing.T) {
	reg := NewRegistry()
	entry, err := reg.Load(writeCSV(t, "sales.csv", salesCSV), "sales")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := Preview(entry.Frame, 1)
	if !strings.Contains(out, "north") || strings.Contains(out, "south") {
		t.Fatalf("unexpected preview:\n%s", out)
	}
	if !strings.HasSuffix(out, "[3 rows x 3 columns]") {
		t.Fatalf("preview footer missing:\n%s", out)
	}
}

func TestReportsHaveNoTrailingWhitespace(t *testing.T) {
	reg := NewRegistry()
	entry, err := reg.Load(writeCSV(t, "sales.csv", salesCSV), "sales")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	objects, err := reg.Load(writeCSV(t, "names.csv", "name\nann\nbob\n"), "names")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	corr, _ := CorrelationTable(entry.Frame)
	reports := map[string]string{
		"info":     Info(entry.Frame),
		"describe": DescribeTable(entry.Frame),
		"objects":  DescribeTable(objects.Frame),
		"corr":     corr,
		"preview":  Preview(entry.Frame, 5),
	}
	for name, report := range reports {
		if strings.HasSuffix(report, "\n") {
			t.Fatalf("%s ends with a blank line:\n%q", name, report)
		}
		for i, line := range strings.Split(report, "\n") {
			if strings.TrimRight(line, " \t") != line {
				t.Fatalf("%s line %d has trailing whitespace: %q", name, i, line)
			}
		}
	}
}
