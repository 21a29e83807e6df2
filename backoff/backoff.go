// Package backoff builds jittered exponential wait schedules for retrying calls to fallible
// external services.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	minInitial      = 0.1
	minMultiplier   = 1.0
	minMaxWait      = 0.1
	minMaxTotalWait = 0.1
	minJitterFactor = 0.0
)

// Series is a list of wait times in seconds, one per retry.
type Series []float64

// Duration returns the i-th wait of the series as a time.Duration.
func (s Series) Duration(i int) time.Duration {
	return time.Duration(s[i] * float64(time.Second))
}

// Total returns the sum of all waits in the series, in seconds.
func (s Series) Total() float64 {
	var total float64
	for _, v := range s {
		total += v
	}
	return total
}

// Rounded returns the series with every wait rounded to whole seconds.
func (s Series) Rounded() Series {
	rounded := make(Series, len(s))
	for i, v := range s {
		rounded[i] = math.Round(v)
	}
	return rounded
}

// RandomSource provides uniformly distributed values in [0, 1).
type RandomSource interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// CalculateSeries creates an exponential backoff timetable with jitter.
//
// initial is the first wait. Each following wait is the previous one times multiplier, plus a
// random jitter of up to jitterFactor times that value, clamped to maxWait. The series holds at
// most maxRetries values, so it is empty when maxRetries is not positive. If the next value would bring the total over maxTotalWait, the series
// ends with a final value that brings the total exactly to maxTotalWait.
//
// Inputs below their safe minimums are raised to them: initial, maxWait and maxTotalWait to 0.1,
// multiplier to 1, jitterFactor to 0.
func CalculateSeries(initial, multiplier float64, maxRetries int, maxWait, maxTotalWait, jitterFactor float64) Series {
	return CalculateSeriesWithRand(globalSource{}, initial, multiplier, maxRetries, maxWait, maxTotalWait, jitterFactor)
}

// CalculateSeriesWithRand is CalculateSeries with a caller supplied source of jitter.
func CalculateSeriesWithRand(rnd RandomSource, initial, multiplier float64, maxRetries int, maxWait, maxTotalWait, jitterFactor float64) Series {
	initial = math.Max(initial, minInitial)
	multiplier = math.Max(multiplier, minMultiplier)
	maxWait = math.Max(maxWait, minMaxWait)
	maxTotalWait = math.Max(maxTotalWait, minMaxTotalWait)
	jitterFactor = math.Max(jitterFactor, minJitterFactor)

	if maxRetries <= 0 {
		return Series{}
	}

	var series Series
	current := initial
	total := 0.0
	for {
		nextTotal := total + current
		if nextTotal > maxTotalWait {
			series = append(series, maxTotalWait-total)
			break
		}
		series = append(series, current)
		total = nextTotal
		if len(series) >= maxRetries {
			break
		}

		current *= multiplier
		current += current * jitterFactor * rnd.Float64()
		current = math.Min(current, maxWait)
	}

	return series
}
