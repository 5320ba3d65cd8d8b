package dataset

import (
	"math"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/stat"
)

// Summary 是单个数值列的描述性统计。
type Summary struct {
	Count int
	Mean  float64
	Std   float64
	Min   float64
	Q25   float64
	Q50   float64
	Q75   float64
	Max   float64
}

// IsNumeric 判断列类型是否参与数值统计，布尔列不计入。
func IsNumeric(t series.Type) bool {
	return t == series.Int || t == series.Float
}

// NumericColumns 按列顺序返回全部数值列名称。
func NumericColumns(df dataframe.DataFrame) []string {
	names := df.Names()
	types := df.Types()
	out := make([]string, 0, len(names))
	for i, name := range names {
		if IsNumeric(types[i]) {
			out = append(out, name)
		}
	}
	return out
}

// Values 返回列中非缺失的数值。
func Values(s series.Series) []float64 {
	raw := s.Float()
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// NonNull 统计列中非缺失元素个数。
func NonNull(s series.Series) int {
	n := 0
	for _, isNaN := range s.IsNaN() {
		if !isNaN {
			n++
		}
	}
	return n
}

// Describe 计算一组数值的描述性统计，标准差使用样本标准差。
func Describe(values []float64) Summary {
	sum := Summary{Count: len(values)}
	if len(values) == 0 {
		nan := math.NaN()
		sum.Mean, sum.Std, sum.Min, sum.Q25, sum.Q50, sum.Q75, sum.Max = nan, nan, nan, nan, nan, nan, nan
		return sum
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum.Mean = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		sum.Std = stat.StdDev(sorted, nil)
	} else {
		sum.Std = math.NaN()
	}
	sum.Min = sorted[0]
	sum.Max = sorted[len(sorted)-1]
	sum.Q25 = Quantile(sorted, 0.25)
	sum.Q50 = Quantile(sorted, 0.50)
	sum.Q75 = Quantile(sorted, 0.75)
	return sum
}

// Quantile 在已排序数据上按 (n-1)*p 位置线性插值。
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	pos := float64(n-1) * p
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= n {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Correlation 计算两列在成对非缺失位置上的皮尔逊相关系数。
func Correlation(a, b series.Series) float64 {
	av, bv := a.Float(), b.Float()
	xs := make([]float64, 0, len(av))
	ys := make([]float64, 0, len(av))
	for i := range av {
		if i >= len(bv) {
			break
		}
		if math.IsNaN(av[i]) || math.IsNaN(bv[i]) {
			continue
		}
		xs = append(xs, av[i])
		ys = append(ys, bv[i])
	}
	if len(xs) < 2 {
		return math.NaN()
	}
	return stat.Correlation(xs, ys, nil)
}

// CorrelationMatrix 返回数值列两两之间的相关系数矩阵。
func CorrelationMatrix(df dataframe.DataFrame, cols []string) [][]float64 {
	matrix := make([][]float64, len(cols))
	for i := range cols {
		matrix[i] = make([]float64, len(cols))
	}
	for i, ci := range cols {
		for j := i; j < len(cols); j++ {
			var v float64
			if i == j {
				if len(Values(df.Col(ci))) < 2 {
					v = math.NaN()
				} else {
					v = 1
				}
			} else {
				v = Correlation(df.Col(ci), df.Col(cols[j]))
			}
			matrix[i][j] = v
			matrix[j][i] = v
		}
	}
	return matrix
}
