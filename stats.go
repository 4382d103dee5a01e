package vanet

// stats.go holds the robust statistics the RSU detector relies on

import (
	"math"

	"golang.org/x/exp/slices"
)

// madScale makes the median absolute deviation a consistent estimator of the
// standard deviation of a normal distribution, 1/phi^-1(3/4)
const madScale = 1.4826

// thresholdDeviations is how many scaled MADs above the median a rate must lie to be an outlier
const thresholdDeviations = 3.0

// class boundaries on the ratio of a rate to its threshold
const (
	redRatio    = 1.0
	yellowRatio = 0.6
)

// Reputation is the ordinal trust class of an OBU, worst first
type Reputation int

const (
	Red Reputation = iota
	Yellow
	Green
)

var reputationToStr = map[Reputation]string{Red: "red", Yellow: "yellow", Green: "green"}

func (rep Reputation) String() string {
	return reputationToStr[rep]
}

// Median returns the median of values, averaging the two central elements
// when there is an even number of them.  An empty sample has median 0.
// values is not modified
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2.0
	}
	return sorted[mid]
}

// MAD returns the median absolute deviation of values from their median,
// scaled by madScale.  An empty sample has MAD 0
func MAD(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	median := Median(values)
	absDevs := make([]float64, len(values))
	for idx, value := range values {
		absDevs[idx] = math.Abs(value - median)
	}
	return Median(absDevs) * madScale
}

// Threshold is the outlier boundary of a sample: median plus thresholdDeviations scaled MADs
func Threshold(values []float64) float64 {
	return Median(values) + thresholdDeviations*MAD(values)
}

// exceeds reports whether rate lies at or above threshold, the flagging test of
// every enabled detector.  The one exception is a threshold collapsed to zero
// (median and MAD both zero): a rate of zero equals it but is not an outlier, so
// only a strictly positive rate exceeds it.  Otherwise a population with no
// errors at all would be flagged in full
func exceeds(rate, threshold float64) bool {
	if threshold <= 0.0 {
		return rate > 0.0
	}
	return rate >= threshold
}

// Classify places rate into a reputation class by its ratio to threshold.
// A zero threshold is never divided by: a zero rate is green under it and any
// positive rate red, matching exceeds
func Classify(rate, threshold float64) Reputation {
	if threshold <= 0.0 {
		if rate > 0.0 {
			return Red
		}
		return Green
	}
	ratio := rate / threshold
	switch {
	case ratio >= redRatio:
		return Red
	case ratio >= yellowRatio:
		return Yellow
	default:
		return Green
	}
}

// Combine returns the worse of two reputations
func Combine(a, b Reputation) Reputation {
	return min(a, b)
}
