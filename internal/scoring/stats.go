package scoring

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean of values. Returns 0 for an empty slice.
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

// Median returns the median of values. Returns 0 for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// PopulationStdDev returns the population standard deviation of values.
func PopulationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// TrimmedMean averages values after excluding outliers further than
// sigmas standard deviations from the median. If trimming would remove
// every value, the raw median is returned instead.
func TrimmedMean(values []float64, sigmas float64) float64 {
	if len(values) == 0 {
		return 0
	}
	median := Median(values)
	stddev := PopulationStdDev(values)

	kept := values[:0:0]
	for _, v := range values {
		if math.Abs(v-median) <= sigmas*stddev {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return median
	}
	return Mean(kept)
}
