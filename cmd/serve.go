package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contactbook/internal/api"
	"github.com/sells-group/contactbook/internal/reconcile"
	"github.com/sells-group/contactbook/internal/scheduler"
	"github.com/sells-group/contactbook/internal/tasks"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with async search and scheduled reconciliation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dir, err := initDirectory()
		if err != nil {
			return err
		}
		engine := initEngine(st, dir)
		exec := initSearch(st)

		var dispatcher tasks.Dispatcher
		switch cfg.Tasks.Backend {
		case "temporal":
			tc, err := initTemporal()
			if err != nil {
				return err
			}
			defer tc.Close()
			dispatcher = tasks.NewTemporal(tc, cfg.Temporal.TaskQueue)
			if cfg.Temporal.ReconcileCron != "" {
				if err := tasks.ScheduleReconcile(ctx, tc, cfg.Temporal.TaskQueue, cfg.Temporal.ReconcileCron); err != nil {
					return err
				}
			}
		default:
			mem := tasks.NewMemory(tasks.MemoryConfig{
				Workers:   cfg.Tasks.Workers,
				QueueSize: cfg.Tasks.QueueSize,
				ResultTTL: cfg.Tasks.ResultTTL,
			}, exec, engine)
			mem.Start(ctx)
			defer func() {
				if err := mem.Stop(shutdownTimeout()); err != nil {
					zap.L().Warn("task dispatcher did not drain", zap.Error(err))
				}
			}()
			dispatcher = mem

			if cfg.Reconcile.Interval > 0 {
				sched := scheduler.New("reconcile", cfg.Reconcile.Interval, reconcileJob(engine),
					scheduler.WithRunOnStart(cfg.Reconcile.RunOnStart))
				schedDone := make(chan struct{})
				go func() {
					defer close(schedDone)
					sched.Start(ctx)
				}()
				// Runs before st.Close so a scheduled run can commit.
				defer func() {
					stop()
					<-schedDone
				}()
			}
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewRouter(st, exec, dispatcher, api.WithCORSOrigins(cfg.Server.CORSOrigins...)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout())
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.String("tasks_backend", cfg.Tasks.Backend),
			zap.String("directory", cfg.Directory.Provider),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// reconcileJob adapts the engine to the scheduler.
func reconcileJob(engine *reconcile.Engine) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := engine.Run(ctx)
		return err
	}
}

func shutdownTimeout() time.Duration {
	if cfg.Server.ShutdownSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.Server.ShutdownSecs) * time.Second
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
