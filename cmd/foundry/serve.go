package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"foundry/internal/clog"
	"foundry/internal/config"
	"foundry/internal/engine"
	"foundry/internal/server"
	"foundry/internal/telemetry"
)

func serveCmd() *cobra.Command {
	var addr, basePath, settingsPath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server with the escalation sweeper and webhook dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadServerEnv()
			if err != nil {
				return err
			}
			logger := clog.Setup(os.Stderr, env.SlogLevel(), env.Local())
			slog.SetDefault(logger)

			if env.Trace == "stdout" {
				shutdown, err := telemetry.Init("foundry", version, os.Stdout)
				if err != nil {
					return fmt.Errorf("init tracing: %w", err)
				}
				defer shutdown(context.Background())
			}

			settings, err := config.NewSettingsStore(settingsPath, config.DefaultServerSettings())
			if err != nil {
				return err
			}
			if settingsPath != "" {
				settings.Watch()
				settings.OnChange(func(st config.ServerSettings) {
					logger.Info("settings reloaded", "sweep_interval", st.SweepInterval, "timeout_hours", st.TimeoutHours, "webhook_interval", st.WebhookInterval)
				})
			}

			e, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:         env.JWTSecret,
					AllowLegacyHeader: env.AllowLegacyHeader,
					AllowDevLogin:     devLogin,
					Logger:            logger,
				},
				CORSOrigins: env.CORSOrigins,
				Version:     version,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sweeper := engine.Sweeper{Engine: e, Settings: settings.Current, Logger: logger.With("worker", "sweeper")}
			dispatcher := server.NewWebhookDispatcher(e, settings.Current, logger.With("worker", "webhooks"))
			wg := conc.NewWaitGroup()
			wg.Go(func() { _ = sweeper.Run(ctx) })
			wg.Go(func() { _ = dispatcher.Run(ctx) })

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("shutdown", "error", err)
				}
			}()
			logger.Info("serving foundry api", "addr", addr, "base_path", basePath, "openapi", "/openapi.json", "docs", "/docs")
			err = srv.ListenAndServe()
			stop()
			wg.Wait()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&settingsPath, "settings", "", "YAML file with sweep_interval, timeout_hours and webhook_interval; reloaded on change")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	return cmd
}
