package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/stricklysoft-claims/internal/server"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
	"github.com/StricklySoft/stricklysoft-claims/pkg/lifecycle"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the claims API server",
		Long:  `Connects the configured cache store and claims source, then serves the API until SIGINT or SIGTERM.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), a.cfg)
		},
	}
}

func serve(ctx context.Context, cfg server.Config) error {
	var svc *lifecycle.Service
	api, err := server.New(ctx, cfg, server.Options{
		HealthChecks: map[string]server.HealthCheck{
			"lifecycle": func(ctx context.Context) error { return svc.Health(ctx) },
		},
	})
	if err != nil {
		return err
	}
	logger := api.Logger()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	serverErrors := make(chan error, 1)

	svc, err = lifecycle.NewServiceBuilder("claimsapi", Version).
		WithLogger(logger).
		WithOnStart(func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.ListenAddr)
			if err != nil {
				return sserr.Wrapf(err, sserr.CodeConfiguration, "listen on %s", cfg.ListenAddr)
			}
			logger.InfoContext(ctx, "listening", slog.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
					serverErrors <- err
				}
			}()
			return nil
		}).
		WithOnStop(func(ctx context.Context) error {
			defer api.Close()
			if err := srv.Shutdown(ctx); err != nil {
				_ = srv.Close()
				return sserr.Wrap(err, sserr.CodeDependencyTimeout, "graceful shutdown did not complete")
			}
			return nil
		}).
		OnStateChange(func(old, next lifecycle.State) {
			logger.Debug("lifecycle state changed",
				slog.String("from", old.String()),
				slog.String("to", next.String()),
			)
		}).
		Build()
	if err != nil {
		api.Close()
		return err
	}

	if err := svc.Start(ctx); err != nil {
		api.Close()
		return err
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	var runErr error
	select {
	case runErr = <-serverErrors:
		logger.Error("server error", slog.Any("error", runErr))
	case sig := <-shutdown:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", slog.Any("reason", context.Cause(ctx)))
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, svc.Stop(stopCtx))
}
