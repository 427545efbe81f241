package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/airsense-india/airsense/src/policy"
	"github.com/airsense-india/airsense/src/query"
)

type Policies struct {
	q   *query.Facade
	agg *policy.Aggregator
}

func NewPolicies(q *query.Facade, agg *policy.Aggregator) Policies {
	return Policies{q: q, agg: agg}
}

func (h Policies) Dashboard(c *gin.Context) {
	dash, err := h.q.PolicyDashboard(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": dash, "count": len(dash)})
}

func (h Policies) Impact(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	impact, err := h.agg.Impact(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, impact)
}
