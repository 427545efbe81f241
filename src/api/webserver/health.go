package webserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airsense-india/airsense/src/query"
)

type Health struct {
	checks []Check
	q      *query.Facade
}

func NewHealth(checks []Check, q *query.Facade) Health {
	return Health{checks: checks, q: q}
}

// Health reports "healthy" only when every dependency answers.
func (h Health) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	deps := gin.H{}
	for _, chk := range h.checks {
		if err := chk.Ping(ctx); err != nil {
			deps[chk.Name] = "unhealthy: " + err.Error()
			status = "unhealthy"
			continue
		}
		deps[chk.Name] = "healthy"
	}
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":       status,
		"timestamp":    time.Now().UTC(),
		"dependencies": deps,
	})
}

func (h Health) Stats(c *gin.Context) {
	counts, err := h.q.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}
