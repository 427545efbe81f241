package webserver

import (
	"html"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	"github.com/airsense-india/airsense/src/lifecycle"
	"github.com/airsense-india/airsense/src/query"
)

type Reports struct {
	lc       *lifecycle.Manager
	q        *query.Facade
	sanitize *bluemonday.Policy
}

func NewReports(lc *lifecycle.Manager, q *query.Facade) Reports {
	return Reports{lc: lc, q: q, sanitize: bluemonday.StrictPolicy()}
}

// clean strips markup from free text; StrictPolicy escapes entities, which
// are turned back into plain characters for storage.
func (h Reports) clean(s string) string {
	return html.UnescapeString(h.sanitize.Sanitize(s))
}

func (h Reports) Submit(c *gin.Context) {
	var req lifecycle.Submission
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.UserID = c.GetString(ctxUserID)
	req.UserName = h.clean(req.UserName)
	req.Place = h.clean(req.Place)
	req.Description = h.clean(req.Description)

	r, err := h.lc.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h Reports) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	r, err := h.lc.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h Reports) History(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	hist, err := h.lc.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report_id": id, "transitions": hist})
}

func (h Reports) List(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	reports, err := h.q.Reports(c.Request.Context(), query.ReportQuery{
		Status: c.Query("status"),
		UserID: c.Query("user_id"),
		Limit:  limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

func (h Reports) Verified(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	feed, err := h.q.VerifiedFeed(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": feed, "count": len(feed)})
}

func (h Reports) Vote(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	r, err := h.lc.CastVote(c.Request.Context(), id, c.GetString(ctxUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
