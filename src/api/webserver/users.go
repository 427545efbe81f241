package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/airsense-india/airsense/src/query"
)

type Users struct{ q *query.Facade }

func NewUsers(q *query.Facade) Users { return Users{q: q} }

func (h Users) Me(c *gin.Context) {
	p, err := h.q.Profile(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Users) Leaderboard(c *gin.Context) {
	top, ok := queryInt(c, "top")
	if !ok {
		return
	}
	board, err := h.q.Leaderboard(c.Request.Context(), top)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": board})
}
