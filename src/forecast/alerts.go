package forecast

import (
	"context"
	"time"

	"github.com/airsense-india/airsense/src/aqi"
	"github.com/airsense-india/airsense/src/core"
)

// DefaultAlertThreshold is the predicted AQI above which an alert is raised.
const DefaultAlertThreshold = 200

const (
	SeverityHigh     = "High"
	SeverityModerate = "Moderate"
)

// Alert is a predicted hour whose AQI crosses the threshold.
type Alert struct {
	Timestamp      time.Time    `json:"timestamp"`
	Hour           int          `json:"hour"`
	PredictedAQI   float64      `json:"predicted_aqi"`
	Category       aqi.Category `json:"category"`
	Severity       string       `json:"severity"`
	Recommendation string       `json:"recommendation"`
}

// AlertsFrom derives alerts from predictions strictly above threshold, in
// forecast order.
func AlertsFrom(predictions []Prediction, threshold float64) ([]Alert, error) {
	out := []Alert{}
	for _, p := range predictions {
		if p.PredictedAQI <= threshold {
			continue
		}
		cat, err := aqi.Classify(p.PredictedAQI)
		if err != nil {
			return nil, err
		}
		sev := SeverityModerate
		if p.PredictedAQI > 300 {
			sev = SeverityHigh
		}
		out = append(out, Alert{
			Timestamp:      p.Timestamp,
			Hour:           p.Hour,
			PredictedAQI:   p.PredictedAQI,
			Category:       cat,
			Severity:       sev,
			Recommendation: aqi.Advisory(p.PredictedAQI),
		})
	}
	return out, nil
}

// Alerts fetches a forecast and filters it. A zero threshold selects
// DefaultAlertThreshold.
func (c *Client) Alerts(ctx context.Context, city string, hours int, threshold float64) ([]Alert, error) {
	if threshold < 0 {
		return nil, &core.ValidationError{Field: "threshold", Reason: "must not be negative"}
	}
	if threshold == 0 {
		threshold = DefaultAlertThreshold
	}
	f, err := c.Predict(ctx, city, hours)
	if err != nil {
		return nil, err
	}
	return AlertsFrom(f.Predictions, threshold)
}
