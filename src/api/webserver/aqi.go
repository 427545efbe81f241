package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/airsense-india/airsense/src/forecast"
	"github.com/airsense-india/airsense/src/query"
)

type AirQuality struct {
	q  *query.Facade
	fc *forecast.Client
}

func NewAirQuality(q *query.Facade, fc *forecast.Client) AirQuality {
	return AirQuality{q: q, fc: fc}
}

func (h AirQuality) Current(c *gin.Context) {
	aq, err := h.q.AirQuality(c.Request.Context(), c.Param("city"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, aq)
}

func (h AirQuality) History(c *gin.Context) {
	days, ok := queryInt(c, "days")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	hist, err := h.q.History(c.Request.Context(), c.Param("city"), days, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (h AirQuality) Forecast(c *gin.Context) {
	hours, ok := queryInt(c, "hours")
	if !ok {
		return
	}
	fc, err := h.fc.Predict(c.Request.Context(), c.Param("city"), hours)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fc)
}

func (h AirQuality) Alerts(c *gin.Context) {
	hours, ok := queryInt(c, "hours")
	if !ok {
		return
	}
	threshold := 0.0
	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"err": "invalid threshold", "field": "threshold"})
			return
		}
		threshold = v
	}
	city := c.Param("city")
	alerts, err := h.fc.Alerts(c.Request.Context(), city, hours, threshold)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"city": city, "alerts": alerts, "count": len(alerts)})
}
