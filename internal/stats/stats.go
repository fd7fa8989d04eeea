// Package stats holds the small set of summary statistics used by detection
// and estimation. All functions treat an empty sample as zero.
package stats

import (
	"math"
	"sort"
)

// Summary describes a sample of totals
type Summary struct {
	Count  int
	Mean   float64
	Median float64
	Std    float64
	Q1     float64
	Q3     float64
}

// Summarize computes count, mean, median, sample standard deviation and quartiles
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sorted := sortedCopy(values)
	return Summary{
		Count:  len(values),
		Mean:   Mean(values),
		Median: quantileSorted(sorted, 0.5),
		Std:    Std(values),
		Q1:     quantileSorted(sorted, 0.25),
		Q3:     quantileSorted(sorted, 0.75),
	}
}

// Mean returns the arithmetic mean
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Std returns the sample standard deviation (n-1 denominator).
// Fewer than two values yield 0.
func Std(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return math.Sqrt(sumSquares(values) / float64(len(values)-1))
}

// PopulationStd returns the standard deviation with an n denominator
func PopulationStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return math.Sqrt(sumSquares(values) / float64(len(values)))
}

// CV returns the population coefficient of variation, 0 when the mean is 0
func CV(values []float64) float64 {
	mean := Mean(values)
	if mean == 0 {
		return 0
	}
	return PopulationStd(values) / math.Abs(mean)
}

// Median returns the 0.5 quantile
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// Quantile returns the q-th quantile using linear interpolation between
// closest ranks.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return quantileSorted(sortedCopy(values), q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func sumSquares(values []float64) float64 {
	mean := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return ss
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}
