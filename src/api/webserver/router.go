package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/airsense-india/airsense/src/api/config"
)

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", headerRequestID},
		ExposeHeaders: []string{"Content-Length", headerRequestID, "X-Process-Time"},
	}
	for _, o := range origins {
		if o == "*" {
			cc.AllowAllOrigins = true
			return cc
		}
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
		return cc
	}
	cc.AllowOrigins = origins
	cc.AllowCredentials = true
	return cc
}

func attachRoutes(r *gin.Engine, cfg config.Config, d Deps) {
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	healthH := NewHealth(d.Checks, d.Query)
	reportH := NewReports(d.Lifecycle, d.Query)
	policyH := NewPolicies(d.Query, d.Policies)
	userH := NewUsers(d.Query)
	aqiH := NewAirQuality(d.Query, d.Forecast)
	modH := NewModeration(d.Lifecycle, d.Policies)

	r.GET("/health", healthH.Health)
	r.GET("/stats", healthH.Stats)

	v1 := r.Group("/v1")
	{
		v1.GET("/aqi/:city", aqiH.Current)
		v1.GET("/aqi/:city/history", aqiH.History)
		v1.GET("/forecast/:city", aqiH.Forecast)
		v1.GET("/forecast/:city/alerts", aqiH.Alerts)
		v1.GET("/reports", reportH.List)
		v1.GET("/reports/verified", reportH.Verified)
		v1.GET("/reports/:id", reportH.Get)
		v1.GET("/reports/:id/history", reportH.History)
		v1.GET("/leaderboard", userH.Leaderboard)
		v1.GET("/policies/dashboard", policyH.Dashboard)
		v1.GET("/policies/:id/impact", policyH.Impact)
	}

	auth := JWTMiddleware([]byte(cfg.JWTSecret))
	secured := v1.Group("", auth)
	{
		secured.POST("/reports", RateLimitMiddleware(d.Limiter), reportH.Submit)
		secured.POST("/reports/:id/votes", reportH.Vote)
		secured.GET("/users/me", userH.Me)
	}

	mod := v1.Group("/moderation", auth, RequireRole(RoleModerator))
	{
		mod.POST("/reports/:id/reject", modH.Reject)
		mod.POST("/reports/:id/votes/:voter/flag", modH.FlagVote)
		mod.PUT("/policies/:id/measurement", modH.RecordMeasurement)
	}
}
