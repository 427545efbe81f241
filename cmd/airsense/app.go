package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/airsense-india/airsense/src/api/config"
	"github.com/airsense-india/airsense/src/api/data"
	"github.com/airsense-india/airsense/src/api/webserver"
	"github.com/airsense-india/airsense/src/core"
	"github.com/airsense-india/airsense/src/forecast"
	"github.com/airsense-india/airsense/src/ledger"
	"github.com/airsense-india/airsense/src/lifecycle"
	"github.com/airsense-india/airsense/src/policy"
	"github.com/airsense-india/airsense/src/query"
)

// app owns the process-wide connections.
type app struct {
	cfg   config.Config
	log   *zap.Logger
	store core.Store
	db    *gorm.DB
	rdb   *redis.Client
}

func openApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn("using in-memory store; data is lost on exit")
		a.store = data.NewMemory()
	default:
		db, err := data.ConnectMySQL(cfg.MySQLDSN, log)
		if err != nil {
			return nil, fmt.Errorf("mysql: %w", err)
		}
		a.db = db
		a.store = data.NewStore(db)
	}

	if cfg.RedisURL != "" {
		rdb, err := data.ConnectRedis(cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.rdb = rdb
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := data.PingRedis(pctx, rdb); err != nil {
			a.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func (a *app) requireDB() (*gorm.DB, error) {
	if a.db == nil {
		return nil, errors.New("this command needs the mysql store (STORE_DRIVER=mysql)")
	}
	return a.db, nil
}

func (a *app) ledger() *ledger.Ledger {
	return ledger.New(a.store, a.cfg.Engine.LevelPoints)
}

func (a *app) query() *query.Facade {
	return query.New(a.store, a.ledger(), 0)
}

func (a *app) deps() webserver.Deps {
	l := a.ledger()
	var pub core.Publisher = core.NopPublisher{}
	var cache forecast.Cache
	if a.rdb != nil {
		pub = data.NewPublisher(a.rdb)
		cache = data.NewCache(a.rdb)
	}
	e := a.cfg.Engine
	mgr := lifecycle.New(a.store, l, pub, a.log.Named("lifecycle"), lifecycle.Config{
		VerifyThreshold:       e.VerifyThreshold,
		MaxSuspiciousFraction: e.MaxSuspiciousFraction,
		MaxDescriptionLen:     e.MaxDescriptionLen,
		MilestoneEvery:        e.MilestoneEvery,
	})

	checks := []webserver.Check{{Name: "database", Ping: a.store.Ping}}
	if a.rdb != nil {
		rdb := a.rdb
		checks = append(checks, webserver.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return data.PingRedis(ctx, rdb)
		}})
	}

	return webserver.Deps{
		Lifecycle: mgr,
		Query:     query.New(a.store, l, 0),
		Policies:  policy.NewAggregator(a.store),
		Forecast: forecast.New(a.cfg.ForecastURL, forecast.Options{
			Cache:  cache,
			Logger: a.log.Named("forecast"),
		}),
		Checks:  checks,
		Limiter: webserver.NewRateLimiter(a.cfg.ReportRateLimit, time.Hour),
		Log:     a.log.Named("http"),
	}
}
