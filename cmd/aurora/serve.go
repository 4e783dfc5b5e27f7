package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"aurora/internal/app"
	"aurora/internal/notify"
	"aurora/internal/scheduler"
	"aurora/internal/server"
)

func sweepCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Advance every approved inscription whose next phase is open",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !cmd.Flags().Changed("concurrency") {
					concurrency = rt.Config.Scheduler.Concurrency
				}
				res, err := scheduler.Sweeper{Engine: rt.Engine, Concurrency: concurrency, Logger: rt.Logger}.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), res, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "Advanced %d of %d candidates (%d skipped)\n", res.Advanced, res.Candidates, res.Skipped)
				})
			})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel advances")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serves the REST API under the configured base path. Requests identify the caller
with an HS256 bearer token signed with the secret named by auth.jwt_secret_env.
When scheduler.enabled is set, approved inscriptions advance automatically; configured
webhooks receive timeline entries as they are recorded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if !cmd.Flags().Changed("addr") {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = cfg.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:              cfg.JWTSecret(),
						AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
						Logger:                 rt.Logger,
					},
					CORSOrigins: cfg.Server.CORSOrigins,
					Logger:      rt.Logger,
				})
				if err != nil {
					return err
				}

				if cfg.Scheduler.Enabled {
					sweeper := scheduler.Sweeper{Engine: rt.Engine, Concurrency: cfg.Scheduler.Concurrency, Logger: rt.Logger}
					sched, err := scheduler.New(ctx, sweeper, cfg.Scheduler.Interval)
					if err != nil {
						return err
					}
					sched.Start()
					defer func() {
						if err := sched.Shutdown(); err != nil {
							rt.Logger.Warn("scheduler shutdown", "err", err)
						}
					}()
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, gctx := errgroup.WithContext(ctx)
				if len(cfg.Webhooks) > 0 {
					d := notify.NewDispatcher(rt.Engine.Reader, cfg.Webhooks, rt.Logger)
					g.Go(func() error {
						d.Run(gctx)
						return nil
					})
				}
				g.Go(func() error {
					rt.Logger.Info("listening", "addr", addr, "base_path", basePath)
					fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s%s\n", addr, basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
