package dataset

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	xerrors "SmartBI-Agent/internal/errors"
)

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

const salesCSV = "region,units,price\nnorth,10,2.5\nsouth,20,3.5\neast,,4.0\n"

func TestLoadAutoNamesNeverReused(t *testing.T) {
	reg := NewRegistry()
	path := writeCSV(t, "sales.csv", salesCSV)

	first, err := reg.Load(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Name != "df_1" {
		t.Fatalf("expected df_1, got %s", first.Name)
	}
	if _, err := reg.Load(path, "explicit"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Load(filepath.Join(t.TempDir(), "missing.csv"), ""); err == nil {
		t.Fatalf("expected load error for missing file")
	}
	third, err := reg.Load(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.Name != "df_3" {
		t.Fatalf("failed auto-named load must still consume a number, got %s", third.Name)
	}

	want := []string{"df_1", "explicit", "df_3"}
	if got := reg.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected names: %v", got)
	}
}

func TestOverwriteKeepsPosition(t *testing.T) {
	reg := NewRegistry()
	a := writeCSV(t, "a.csv", "x\n1\n")
	b := writeCSV(t, "b.csv", "x,y\n1,2\n3,4\n")

	for _, name := range []string{"first", "second"} {
		if _, err := reg.Load(a, name); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := reg.Load(b, "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := reg.Entries()
	if len(entries) != 2 || entries[0].Name != "first" {
		t.Fatalf("unexpected order: %+v", reg.Names())
	}
	if entries[0].Rows() != 2 || entries[0].Cols() != 2 {
		t.Fatalf("overwrite not applied: %dx%d", entries[0].Rows(), entries[0].Cols())
	}
}

func TestGetNotFoundListsNames(t *testing.T) {
	reg := NewRegistry()
	path := writeCSV(t, "sales.csv", salesCSV)
	if _, err := reg.Load(path, "sales"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Load(path, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := reg.Get("missing")
	if err == nil {
		t.Fatalf("expected not found error")
	}
	if xerrors.CodeOf(err) != CodeNotFound {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
	want := "DataFrame 'missing' not found. Available DataFrames: ['sales', 'df_1']"
	if got := xerrors.Text(err); got != want {
		t.Fatalf("unexpected message:\n got: %s\nwant: %s", got, want)
	}
}

func TestLoadAutoNameSkipsExplicitNames(t *testing.T) {
	reg := NewRegistry()
	a := writeCSV(t, "a.csv", "x\n1\n")
	b := writeCSV(t, "b.csv", "x,y\n1,2\n")

	if _, err := reg.Load(a, "df_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	auto, err := reg.Load(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auto.Name != "df_2" {
		t.Fatalf("auto name collided with explicit name: %s", auto.Name)
	}
	explicit, err := reg.Get("df_1")
	if err != nil || explicit.Cols() != 1 {
		t.Fatalf("explicit dataset was replaced: %v", err)
	}
	if got := strings.Join(reg.Names(), ","); got != "df_1,df_2" {
		t.Fatalf("unexpected names: %s", got)
	}
}

func TestLoadHeaderOnlyCSV(t *testing.T) {
	reg := NewRegistry()
	entry, err := reg.Load(writeCSV(t, "header.csv", "a,b\n"), "h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Rows() != 0 || entry.Cols() != 2 {
		t.Fatalf("unexpected shape: %dx%d", entry.Rows(), entry.Cols())
	}
	if got := strings.Join(entry.Frame.Names(), ","); got != "a,b" {
		t.Fatalf("unexpected columns: %s", got)
	}
	if !strings.Contains(Info(entry.Frame), "object(2)") {
		t.Fatalf("header-only columns should be object:\n%s", Info(entry.Frame))
	}
}

func TestLoadErrorsAreCoded(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Load(writeCSV(t, "empty.csv", ""), "h")
	if err == nil {
		t.Fatalf("expected error for empty csv")
	}
	if xerrors.CodeOf(err) != CodeLoad {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
	if Detail(err) == "" || strings.Contains(Detail(err), "LOAD_ERROR") {
		t.Fatalf("detail should be the bare cause, got %q", Detail(err))
	}
	if reg.Len() != 0 {
		t.Fatalf("failed load must not register a dataset")
	}
}

func TestQuantileMatchesLinearInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	cases := map[float64]float64{0: 1, 0.25: 1.75, 0.5: 2.5, 0.75: 3.25, 1: 4}
	for p, want := range cases {
		if got := Quantile(sorted, p); math.Abs(got-want) > 1e-9 {
			t.Fatalf("Quantile(%v) = %v, want %v", p, got, want)
		}
	}
	if !math.IsNaN(Quantile(nil, 0.5)) {
		t.Fatalf("expected NaN for empty input")
	}
}

func TestDescribeSkipsMissing(t *testing.T) {
	reg := NewRegistry()
	entry, err := reg.Load(writeCSV(t, "sales.csv", salesCSV), "sales")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	units := entry.Frame.Col("units")
	if NonNull(units) != 2 {
		t.Fatalf("expected 2 non-null units, got %d", NonNull(units))
	}
	sum := Describe(Values(units))
	if sum.Count != 2 || sum.Mean != 15 || sum.Min != 10 || sum.Max != 20 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}
