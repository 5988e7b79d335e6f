package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/config"
	"github.com/JakeFAU/gazette-watch/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP API and, when enabled, the daily scheduler",
		Args:  cobra.NoArgs,
		RunE:  withServices(runServe),
	}
}

func runServe(cmd *cobra.Command, _ []string, svc *services) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if svc.cfg.Schedule.Enabled {
		hour, minute, err := svc.cfg.Schedule.Clock()
		if err != nil {
			return err //nolint:wrapcheck // already names the key
		}
		sched := scheduler.New(svc.runner, scheduler.Config{
			Hour:       hour,
			Minute:     minute,
			Location:   svc.location,
			RunTimeout: config.Seconds(svc.cfg.Server.RunTimeoutSeconds),
		}, svc.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", svc.cfg.Server.Port),
		Handler:           svc.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       config.Seconds(svc.cfg.Server.ReadTimeoutSeconds),
	}

	errCh := make(chan error, 1)
	go func() {
		svc.logger.Info("http server started", zap.Int("port", svc.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		svc.logger.Info("shutdown initiated")
	case err, ok := <-errCh:
		if ok {
			svc.logger.Error("http server error", zap.Error(err))
			serveErr = fmt.Errorf("http server: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		svc.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	return serveErr
}
