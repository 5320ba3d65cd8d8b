package script

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"go.starlark.net/starlark"

	"SmartBI-Agent/internal/dataset"
)

// Frame 把 gota DataFrame 暴露给脚本。Frame 不可变，所有变换都返回新的 Frame。
type Frame struct {
	name string
	df   dataframe.DataFrame
}

var (
	_ starlark.HasAttrs = (*Frame)(nil)
	_ starlark.Mapping  = (*Frame)(nil)
	_ starlark.Sequence = (*Frame)(nil)
)

// NewFrame 包装一个数据集。
func NewFrame(name string, df dataframe.DataFrame) *Frame {
	return &Frame{name: name, df: df}
}

// DataFrame 返回底层数据。
func (f *Frame) DataFrame() dataframe.DataFrame { return f.df }

// previewRows 是 str(df) 展示的最大行数。
const previewRows = 30

func (f *Frame) String() string        { return dataset.Preview(f.df, previewRows) }
func (f *Frame) Type() string          { return "DataFrame" }
func (f *Frame) Freeze()               {}
func (f *Frame) Truth() starlark.Bool  { return starlark.Bool(f.df.Nrow() > 0) }
func (f *Frame) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: DataFrame") }
func (f *Frame) Len() int              { return f.df.Nrow() }

// Iterate 逐行产出 dict。
func (f *Frame) Iterate() starlark.Iterator {
	return &rowIterator{frame: f}
}

type rowIterator struct {
	frame *Frame
	i     int
}

func (it *rowIterator) Next(p *starlark.Value) bool {
	if it.i >= it.frame.df.Nrow() {
		return false
	}
	*p = it.frame.row(it.i)
	it.i++
	return true
}

func (it *rowIterator) Done() {}

// Get 实现 df["col"]，返回列值列表。
func (f *Frame) Get(key starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(key)
	if !ok {
		return nil, false, fmt.Errorf("DataFrame index must be a column name, got %s", key.Type())
	}
	if !f.hasColumn(name) {
		return nil, false, fmt.Errorf("column %q not found, available: %s", name, strings.Join(f.df.Names(), ", "))
	}
	return columnList(f.df.Col(name)), true, nil
}

type frameMethod func(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

var frameMethods = map[string]frameMethod{
	"head":         frameHead,
	"tail":         frameTail,
	"col":          frameCol,
	"select":       frameSelect,
	"filter":       frameFilter,
	"sort":         frameSort,
	"describe":     frameDescribe,
	"info":         frameInfo,
	"mean":         frameReduce(func(xs []float64) float64 { return dataset.Describe(xs).Mean }),
	"std":          frameReduce(sampleStd),
	"median":       frameReduce(median),
	"sum":          frameReduce(sum),
	"min":          frameReduce(minOf),
	"max":          frameReduce(maxOf),
	"count":        frameCount,
	"corr":         frameCorr,
	"groupby":      frameGroupBy,
	"value_counts": frameValueCounts,
	"records":      frameRecords,
	"to_csv":       frameToCSV,
}

func (f *Frame) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(f.name), nil
	case "shape":
		return starlark.Tuple{starlark.MakeInt(f.df.Nrow()), starlark.MakeInt(f.df.Ncol())}, nil
	case "columns":
		names := f.df.Names()
		values := make([]starlark.Value, len(names))
		for i, n := range names {
			values[i] = starlark.String(n)
		}
		return starlark.NewList(values), nil
	case "dtypes":
		dict := starlark.NewDict(f.df.Ncol())
		types := f.df.Types()
		for i, n := range f.df.Names() {
			_ = dict.SetKey(starlark.String(n), starlark.String(dataset.DTypeName(types[i])))
		}
		return dict, nil
	}
	method, ok := frameMethods[name]
	if !ok {
		return nil, nil
	}
	impl := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return method(f, b, args, kwargs)
	}
	return starlark.NewBuiltin(name, impl).BindReceiver(f), nil
}

func (f *Frame) AttrNames() []string {
	names := []string{"name", "shape", "columns", "dtypes"}
	for name := range frameMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Frame) hasColumn(name string) bool {
	for _, n := range f.df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func (f *Frame) requireColumn(fn, name string) error {
	if !f.hasColumn(name) {
		return fmt.Errorf("%s: column %q not found", fn, name)
	}
	return nil
}

func (f *Frame) derive(df dataframe.DataFrame, fn string) (starlark.Value, error) {
	if df.Err != nil {
		return nil, fmt.Errorf("%s: %v", fn, df.Err)
	}
	return NewFrame(f.name, df), nil
}

func (f *Frame) row(i int) *starlark.Dict {
	names := f.df.Names()
	dict := starlark.NewDict(len(names))
	for _, n := range names {
		_ = dict.SetKey(starlark.String(n), elementValue(f.df.Col(n).Elem(i)))
	}
	return dict
}

func frameHead(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	return f.derive(sliceRows(f.df, 0, n), b.Name())
}

func frameTail(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	rows := f.df.Nrow()
	start := rows - n
	if start < 0 {
		start = 0
	}
	return f.derive(sliceRows(f.df, start, rows), b.Name())
}

func sliceRows(df dataframe.DataFrame, start, end int) dataframe.DataFrame {
	if end > df.Nrow() {
		end = df.Nrow()
	}
	if start >= end {
		return df.Subset([]int{})
	}
	idx := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		idx = append(idx, i)
	}
	return df.Subset(idx)
}

func frameCol(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	if err := f.requireColumn(b.Name(), name); err != nil {
		return nil, err
	}
	return columnList(f.df.Col(name)), nil
}

func frameSelect(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	cols := make([]string, 0, len(args))
	for _, a := range args {
		name, ok := starlark.AsString(a)
		if !ok {
			return nil, fmt.Errorf("%s: column names must be strings, got %s", b.Name(), a.Type())
		}
		if err := f.requireColumn(b.Name(), name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%s: at least one column required", b.Name())
	}
	return f.derive(f.df.Select(cols), b.Name())
}

var comparators = map[string]series.Comparator{
	"==": series.Eq,
	"!=": series.Neq,
	">":  series.Greater,
	">=": series.GreaterEq,
	"<":  series.Less,
	"<=": series.LessEq,
	"in": series.In,
}

func frameFilter(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var col, op string
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "col", &col, "op", &op, "value", &value); err != nil {
		return nil, err
	}
	if err := f.requireColumn(b.Name(), col); err != nil {
		return nil, err
	}
	comparator, ok := comparators[op]
	if !ok {
		return nil, fmt.Errorf("%s: unsupported operator %q", b.Name(), op)
	}
	comparando, err := goValue(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return f.derive(f.df.Filter(dataframe.F{Colname: col, Comparator: comparator, Comparando: comparando}), b.Name())
}

func frameSort(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var col string
	reverse := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "col", &col, "reverse?", &reverse); err != nil {
		return nil, err
	}
	if err := f.requireColumn(b.Name(), col); err != nil {
		return nil, err
	}
	order := dataframe.Sort(col)
	if reverse {
		order = dataframe.RevSort(col)
	}
	return f.derive(f.df.Arrange(order), b.Name())
}

func frameDescribe(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.String(dataset.DescribeTable(f.df)), nil
}

func frameInfo(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.String(dataset.Info(f.df)), nil
}

func frameReduce(fn func([]float64) float64) frameMethod {
	return func(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var col string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &col); err != nil {
			return nil, err
		}
		xs, err := f.numeric(b.Name(), col)
		if err != nil {
			return nil, err
		}
		return starlark.Float(fn(xs)), nil
	}
}

func (f *Frame) numeric(fn, col string) ([]float64, error) {
	if err := f.requireColumn(fn, col); err != nil {
		return nil, err
	}
	s := f.df.Col(col)
	if !dataset.IsNumeric(s.Type()) {
		return nil, fmt.Errorf("%s: column %q is not numeric (%s)", fn, col, dataset.DTypeName(s.Type()))
	}
	return dataset.Values(s), nil
}

func frameCount(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var col string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &col); err != nil {
		return nil, err
	}
	if err := f.requireColumn(b.Name(), col); err != nil {
		return nil, err
	}
	return starlark.MakeInt(dataset.NonNull(f.df.Col(col))), nil
}

func frameCorr(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a, c string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &a, &c); err != nil {
		return nil, err
	}
	for _, col := range []string{a, c} {
		if _, err := f.numeric(b.Name(), col); err != nil {
			return nil, err
		}
	}
	return starlark.Float(dataset.Correlation(f.df.Col(a), f.df.Col(c))), nil
}

var aggregations = map[string]dataframe.AggregationType{
	"sum":    dataframe.Aggregation_SUM,
	"mean":   dataframe.Aggregation_MEAN,
	"median": dataframe.Aggregation_MEDIAN,
	"std":    dataframe.Aggregation_STD,
	"count":  dataframe.Aggregation_COUNT,
	"min":    dataframe.Aggregation_MIN,
	"max":    dataframe.Aggregation_MAX,
}

func frameGroupBy(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, col string
	agg := "sum"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "col", &col, "agg?", &agg); err != nil {
		return nil, err
	}
	kind, ok := aggregations[agg]
	if !ok {
		return nil, fmt.Errorf("%s: unsupported aggregation %q", b.Name(), agg)
	}
	if err := f.requireColumn(b.Name(), key); err != nil {
		return nil, err
	}
	if _, err := f.numeric(b.Name(), col); err != nil {
		return nil, err
	}
	if f.df.Nrow() == 0 {
		return nil, fmt.Errorf("%s: DataFrame is empty", b.Name())
	}
	groups := f.df.GroupBy(key)
	if groups.Err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), groups.Err)
	}
	out := groups.Aggregation([]dataframe.AggregationType{kind}, []string{col})
	if out.Err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), out.Err)
	}
	// 聚合结果来自 map 遍历，按分组键排序以保证输出稳定。
	out = out.Arrange(dataframe.Sort(key))
	ordered := []string{key}
	for _, n := range out.Names() {
		if n != key {
			ordered = append(ordered, n)
		}
	}
	return f.derive(out.Select(ordered), b.Name())
}

func frameValueCounts(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var col string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &col); err != nil {
		return nil, err
	}
	if err := f.requireColumn(b.Name(), col); err != nil {
		return nil, err
	}
	s := f.df.Col(col)
	nulls := s.IsNaN()
	counts := map[string]int{}
	first := map[string]int{}
	for i, rec := range s.Records() {
		if nulls[i] {
			continue
		}
		if _, ok := counts[rec]; !ok {
			first[rec] = i
		}
		counts[rec]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return first[keys[i]] < first[keys[j]]
	})
	dict := starlark.NewDict(len(keys))
	for _, k := range keys {
		_ = dict.SetKey(starlark.String(k), starlark.MakeInt(counts[k]))
	}
	return dict, nil
}

func frameRecords(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	rows := make([]starlark.Value, f.df.Nrow())
	for i := range rows {
		rows[i] = f.row(i)
	}
	return starlark.NewList(rows), nil
}

func frameToCSV(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	var sb strings.Builder
	if err := f.df.WriteCSV(&sb); err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return starlark.String(sb.String()), nil
}

// columnList 把一列转换为 Starlark 列表，缺失值映射为 None。
func columnList(s series.Series) *starlark.List {
	values := make([]starlark.Value, s.Len())
	for i := range values {
		values[i] = elementValue(s.Elem(i))
	}
	return starlark.NewList(values)
}

func elementValue(e series.Element) starlark.Value {
	if e.IsNA() {
		return starlark.None
	}
	switch e.Type() {
	case series.Int:
		v, err := e.Int()
		if err != nil {
			return starlark.None
		}
		return starlark.MakeInt(v)
	case series.Float:
		v := e.Float()
		if math.IsNaN(v) {
			return starlark.None
		}
		return starlark.Float(v)
	case series.Bool:
		v, err := e.Bool()
		if err != nil {
			return starlark.None
		}
		return starlark.Bool(v)
	default:
		return starlark.String(e.String())
	}
}

// goValue 把脚本中的比较值转换为 gota 可识别的 Go 值。
func goValue(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.String:
		return string(x), nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		i, ok := x.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", x)
		}
		return int(i), nil
	case starlark.Float:
		return float64(x), nil
	case *starlark.List:
		out := make([]string, x.Len())
		for i := 0; i < x.Len(); i++ {
			item := x.Index(i)
			if s, ok := starlark.AsString(item); ok {
				out[i] = s
			} else {
				out[i] = item.String()
			}
		}
		return out, nil
	case starlark.Tuple:
		return goValue(starlark.NewList(append([]starlark.Value(nil), x...)))
	default:
		return nil, fmt.Errorf("unsupported comparison value of type %s", v.Type())
	}
}
