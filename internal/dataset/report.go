package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/olekukonko/tablewriter"
)

// DTypeName 返回列类型的展示名称。
func DTypeName(t series.Type) string {
	switch t {
	case series.Int:
		return "int64"
	case series.Float:
		return "float64"
	case series.Bool:
		return "bool"
	default:
		return "object"
	}
}

// Info 生成结构报告：行索引范围、列名、非空计数与类型。
func Info(df dataframe.DataFrame) string {
	var b strings.Builder
	rows, cols := df.Dims()
	if rows == 0 {
		b.WriteString("RangeIndex: 0 entries\n")
	} else {
		fmt.Fprintf(&b, "RangeIndex: %d entries, 0 to %d\n", rows, rows-1)
	}
	fmt.Fprintf(&b, "Data columns (total %d columns):\n", cols)

	names := df.Names()
	types := df.Types()
	table := newPlainTable(&b)
	table.SetHeader([]string{"#", "Column", "Non-Null Count", "Dtype"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	counts := map[string]int{}
	for i, name := range names {
		dtype := DTypeName(types[i])
		counts[dtype]++
		table.Append([]string{
			strconv.Itoa(i),
			name,
			fmt.Sprintf("%d non-null", NonNull(df.Col(name))),
			dtype,
		})
	}
	table.Render()

	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s(%d)", k, counts[k]))
	}
	fmt.Fprintf(&b, "dtypes: %s", strings.Join(parts, ", "))
	return tidy(b.String())
}

// DescribeTable 生成数值列的描述性统计表；没有数值列时退化为文本列的计数/去重统计。
func DescribeTable(df dataframe.DataFrame) string {
	numeric := NumericColumns(df)
	if len(numeric) == 0 {
		return describeObjects(df)
	}

	summaries := make([]Summary, len(numeric))
	for i, col := range numeric {
		summaries[i] = Describe(Values(df.Col(col)))
	}

	var b strings.Builder
	table := newPlainTable(&b)
	table.SetHeader(append([]string{""}, numeric...))
	rows := []struct {
		label string
		pick  func(Summary) float64
	}{
		{"count", func(s Summary) float64 { return float64(s.Count) }},
		{"mean", func(s Summary) float64 { return s.Mean }},
		{"std", func(s Summary) float64 { return s.Std }},
		{"min", func(s Summary) float64 { return s.Min }},
		{"25%", func(s Summary) float64 { return s.Q25 }},
		{"50%", func(s Summary) float64 { return s.Q50 }},
		{"75%", func(s Summary) float64 { return s.Q75 }},
		{"max", func(s Summary) float64 { return s.Max }},
	}
	for _, row := range rows {
		line := []string{row.label}
		for _, s := range summaries {
			line = append(line, FormatFloat(row.pick(s)))
		}
		table.Append(line)
	}
	table.Render()
	return tidy(b.String())
}

func describeObjects(df dataframe.DataFrame) string {
	names := df.Names()
	if len(names) == 0 {
		return "Empty DataFrame"
	}
	var b strings.Builder
	table := newPlainTable(&b)
	table.SetHeader(append([]string{""}, names...))

	count := []string{"count"}
	unique := []string{"unique"}
	top := []string{"top"}
	freq := []string{"freq"}
	for _, name := range names {
		s := df.Col(name)
		nulls := s.IsNaN()
		seen := map[string]int{}
		order := []string{}
		n := 0
		for i, rec := range s.Records() {
			if nulls[i] {
				continue
			}
			n++
			if _, ok := seen[rec]; !ok {
				order = append(order, rec)
			}
			seen[rec]++
		}
		best, bestN := "NaN", 0
		for _, v := range order {
			if seen[v] > bestN {
				best, bestN = v, seen[v]
			}
		}
		count = append(count, strconv.Itoa(n))
		unique = append(unique, strconv.Itoa(len(order)))
		top = append(top, best)
		freq = append(freq, strconv.Itoa(bestN))
	}
	table.AppendBulk([][]string{count, unique, top, freq})
	table.Render()
	return tidy(b.String())
}

// CorrelationTable 在数值列多于一个时渲染相关系数矩阵，否则返回 false。
func CorrelationTable(df dataframe.DataFrame) (string, bool) {
	numeric := NumericColumns(df)
	if len(numeric) <= 1 {
		return "", false
	}
	matrix := CorrelationMatrix(df, numeric)

	var b strings.Builder
	table := newPlainTable(&b)
	table.SetHeader(append([]string{""}, numeric...))
	for i, name := range numeric {
		line := []string{name}
		for _, v := range matrix[i] {
			line = append(line, FormatFloat(v))
		}
		table.Append(line)
	}
	table.Render()
	return tidy(b.String()), true
}

// Preview 渲染前 n 行，带行号。
func Preview(df dataframe.DataFrame, n int) string {
	rows := df.Nrow()
	if n < 0 || n > rows {
		n = rows
	}
	records := df.Records()
	var b strings.Builder
	table := newPlainTable(&b)
	table.SetHeader(append([]string{""}, df.Names()...))
	for i := 0; i < n; i++ {
		table.Append(append([]string{strconv.Itoa(i)}, records[i+1]...))
	}
	table.Render()
	fmt.Fprintf(&b, "[%d rows x %d columns]", rows, df.Ncol())
	return tidy(b.String())
}

// FormatFloat 以固定六位小数输出，缺失值输出 NaN。
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// tidy 去掉每行行尾空白以及末尾空行。
func tidy(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func newPlainTable(w *strings.Builder) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_RIGHT)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	return table
}
