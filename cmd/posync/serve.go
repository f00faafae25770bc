package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync/config"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sync worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := opts.logger
	log := logger.WithFields(logrus.Fields{"module": "posync"})

	sigCtx, stopSignals := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	a, err := buildApp(sigCtx, opts.cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(ctx)
	}()

	deviceID, err := a.engine.EnsureDeviceID(sigCtx)
	if err != nil {
		return err
	}
	log = log.WithField("device_id", deviceID)

	if os.Getenv("GO_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := newRouter(api{worker: a.worker, engine: a.engine, sessions: a.orch, logger: logger}, a.registry)

	srv := &http.Server{
		Addr:              ":" + opts.cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	if config.SyncWorkerEnabled() {
		a.worker.Start()
		log.WithField("interval", opts.cfg.SyncBaseInterval.String()).Info("sync worker started")
	} else {
		log.Warn("SYNC_WORKER_ENABLED=false; background sync disabled")
	}
	log.WithField("port", opts.cfg.Port).Info("server started")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped unexpectedly")
			return err
		}
	}

	a.worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
		return err
	}
	log.Info("server stopped")
	return nil
}
