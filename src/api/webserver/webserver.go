package webserver

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/airsense-india/airsense/src/api/config"
	"github.com/airsense-india/airsense/src/forecast"
	"github.com/airsense-india/airsense/src/lifecycle"
	"github.com/airsense-india/airsense/src/policy"
	"github.com/airsense-india/airsense/src/query"
)

// Check is a named dependency check for /health.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Deps are the engine components the HTTP surface exposes.
type Deps struct {
	Lifecycle *lifecycle.Manager
	Query     *query.Facade
	Policies  *policy.Aggregator
	Forecast  *forecast.Client
	Checks    []Check
	Limiter   *RateLimiter
	Log       *zap.Logger
}

func New(cfg config.Config, d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	useJSONFieldNames()
	g := gin.New()
	g.Use(requestLogger(d.Log), gin.RecoveryWithWriter(zap.NewStdLog(d.Log).Writer()))
	attachRoutes(g, cfg, d)
	return g
}
