package webserver

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/airsense-india/airsense/src/lifecycle"
	"github.com/airsense-india/airsense/src/policy"
)

type Moderation struct {
	lc       *lifecycle.Manager
	policies *policy.Aggregator
}

func NewModeration(lc *lifecycle.Manager, p *policy.Aggregator) Moderation {
	return Moderation{lc: lc, policies: p}
}

func (h Moderation) Reject(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason" binding:"max=500"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBindError(c, err)
		return
	}
	r, err := h.lc.Reject(c.Request.Context(), id, c.GetString(ctxUserID), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h Moderation) FlagVote(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	req := struct {
		Suspicious *bool `json:"suspicious"`
	}{}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBindError(c, err)
		return
	}
	suspicious := true
	if req.Suspicious != nil {
		suspicious = *req.Suspicious
	}
	r, err := h.lc.FlagVote(c.Request.Context(), id, c.Param("voter"), suspicious)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h Moderation) RecordMeasurement(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var m policy.Measurement
	if err := c.ShouldBindJSON(&m); err != nil {
		respondBindError(c, err)
		return
	}
	impact, err := h.policies.RecordMeasurement(c.Request.Context(), id, m)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, impact)
}
