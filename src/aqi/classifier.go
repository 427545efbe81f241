package aqi

import (
	"math"

	"github.com/airsense-india/airsense/src/core"
)

// Category is the qualitative band of an AQI value.
type Category string

const (
	Good     Category = "Good"
	Moderate Category = "Moderate"
	Poor     Category = "Poor"
	VeryPoor Category = "Very Poor"
	Severe   Category = "Severe"
)

// bands are inclusive upper bounds; anything above the last is Severe.
var bands = []struct {
	upper float64
	cat   Category
}{
	{50, Good},
	{100, Moderate},
	{200, Poor},
	{300, VeryPoor},
}

// Classify maps an AQI value to its category.
func Classify(v float64) (Category, error) {
	if v < 0 || math.IsNaN(v) {
		return "", &core.InvalidReadingError{Value: v}
	}
	for _, b := range bands {
		if v <= b.upper {
			return b.cat, nil
		}
	}
	return Severe, nil
}

// Rank orders categories from most (0) to least desirable.
func (c Category) Rank() int {
	for i, b := range bands {
		if b.cat == c {
			return i
		}
	}
	return len(bands)
}

// Advisory returns the public health recommendation for an AQI value.
func Advisory(v float64) string {
	switch {
	case v > 300:
		return "Stay indoors. Avoid all outdoor activities. Use air purifiers."
	case v > 200:
		return "Limit outdoor exposure. Wear N95 masks if you must go out."
	case v > 150:
		return "Sensitive groups should reduce outdoor activities."
	default:
		return "Moderate air quality. Take usual precautions."
	}
}
