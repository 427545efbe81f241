package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/airsense-india/airsense/src/api/config"
	"github.com/airsense-india/airsense/src/api/data"
	"github.com/airsense-india/airsense/src/api/webserver"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts.logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if a.db != nil {
		if err := data.Migrate(a.db, false, log); err != nil {
			return err
		}
	}

	deps := a.deps()
	defer deps.Limiter.Stop()
	router := webserver.New(cfg, deps)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var reloader *webserver.TLSReloader
	if cfg.EnableSSL {
		reloader, err = webserver.NewTLSReloader(cfg.SSLCert, cfg.SSLKey, log.Named("tls"), 0)
		if err != nil {
			log.Warn("tls reloader failed, falling back to plain http", zap.Error(err))
		} else {
			defer reloader.Stop()
			httpSrv.TLSConfig = reloader.GetConfig()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("airsense listening",
			zap.String("port", cfg.Port),
			zap.Bool("tls", reloader != nil),
			zap.String("store", cfg.StoreDriver))
		var err error
		if reloader != nil {
			err = httpSrv.ListenAndServeTLS("", "")
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	})
	return g.Wait()
}
