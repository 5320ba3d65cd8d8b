package script

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"gonum.org/v1/gonum/stat"

	"SmartBI-Agent/internal/dataset"
)

// modules 列出脚本可能访问的全部模块，最终是否可见由 Policy 决定。
var modules = map[string]*starlarkstruct.Module{
	"math":  starmath.Module,
	"json":  json.Module,
	"time":  startime.Module,
	"stats": statsModule,
}

// KnownModules 返回全部可配置的模块名称。
func KnownModules() []string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var statsModule = &starlarkstruct.Module{
	Name: "stats",
	Members: starlark.StringDict{
		"mean":     reducer("mean", func(xs []float64) float64 { return stat.Mean(xs, nil) }),
		"median":   reducer("median", median),
		"std":      reducer("std", sampleStd),
		"var":      reducer("var", sampleVar),
		"sum":      reducer("sum", sum),
		"min":      reducer("min", minOf),
		"max":      reducer("max", maxOf),
		"count":    reducer("count", func(xs []float64) float64 { return float64(len(xs)) }),
		"quantile": starlark.NewBuiltin("quantile", statsQuantile),
		"corr":     starlark.NewBuiltin("corr", statsCorr),
	},
}

func reducer(name string, fn func([]float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var values starlark.Iterable
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &values); err != nil {
			return nil, err
		}
		xs, err := floats(values)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return starlark.Float(fn(xs)), nil
	})
}

func statsQuantile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Iterable
	var p starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values, "p", &p); err != nil {
		return nil, err
	}
	q, ok := starlark.AsFloat(p)
	if !ok || q < 0 || q > 1 {
		return nil, fmt.Errorf("%s: p must be a number in [0, 1]", b.Name())
	}
	xs, err := floats(values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	sort.Float64s(xs)
	return starlark.Float(dataset.Quantile(xs, q)), nil
}

func statsCorr(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var xsv, ysv starlark.Iterable
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &xsv, "y", &ysv); err != nil {
		return nil, err
	}
	xs, err := floats(xsv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	ys, err := floats(ysv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%s: length mismatch %d != %d", b.Name(), len(xs), len(ys))
	}
	if len(xs) < 2 {
		return starlark.Float(math.NaN()), nil
	}
	return starlark.Float(stat.Correlation(xs, ys, nil)), nil
}

// floats 把可迭代对象转换为 float64 切片，None 视为缺失值并跳过。
func floats(values starlark.Iterable) ([]float64, error) {
	iter := values.Iterate()
	defer iter.Done()
	var out []float64
	var v starlark.Value
	for iter.Next(&v) {
		if v == starlark.None {
			continue
		}
		f, ok := starlark.AsFloat(v)
		if !ok {
			return nil, fmt.Errorf("got %s, want number", v.Type())
		}
		if math.IsNaN(f) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return dataset.Quantile(sorted, 0.5)
}

func sampleVar(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	return stat.Variance(xs, nil)
}

func sampleStd(xs []float64) float64 {
	return math.Sqrt(sampleVar(xs))
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

func minOf(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return m
}

func maxOf(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m
}
