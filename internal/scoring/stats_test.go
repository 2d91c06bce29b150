package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 102.0, Mean([]float64{100, 102, 104}))
	assert.Equal(t, 0.0, Mean(nil))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 101.0, Median([]float64{104, 101, 99}))
	assert.Equal(t, 100.5, Median([]float64{101, 99, 100, 1000000}))
	assert.Equal(t, 0.0, Median(nil))
}

func TestPopulationStdDev(t *testing.T) {
	assert.InDelta(t, 2.0, PopulationStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
	assert.Equal(t, 0.0, PopulationStdDev([]float64{5, 5, 5}))
}

func TestTrimmedMean_RejectsOutlier(t *testing.T) {
	got := TrimmedMean([]float64{100, 101, 99, 1000000}, 2)
	assert.InDelta(t, 100.0, got, 0.001, "outlier should be excluded, not skew the mean")
}

func TestTrimmedMean_NoOutliers(t *testing.T) {
	got := TrimmedMean([]float64{100, 102, 104}, 2)
	assert.Equal(t, 102.0, got)
}

func TestTrimmedMean_FallsBackToMedian(t *testing.T) {
	// With a zero-width band nothing survives trimming for an even-sized
	// set of distinct values; the raw median is returned.
	got := TrimmedMean([]float64{99, 101}, 0)
	assert.Equal(t, 100.0, got)
}
