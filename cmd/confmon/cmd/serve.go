package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oneconcern/confmon/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled backups",
	Long: `Run the scheduled backups of the configured servers until interrupted.

Every server of the configuration is registered, and backed up on its cron schedule if it has one.
Prometheus metrics are exposed on /metrics when metrics_addr is configured.`,
	Example: `% cat confmon.yaml
fleet_dir: /srv/games
metrics_addr: ":9109"
servers:
  - id: eu-west-1
    schedule: "0 */6 * * *"
    full_every: 168h
    keep_last: 30
% confmon serve`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var reg prometheus.Registerer
		if config.MetricsAddr != "" {
			reg = prometheus.DefaultRegisterer
		}
		a, err := openApp(ctx, config, reg)
		if err != nil {
			wrapFatalln("open confmon", err)
			return
		}

		for _, server := range config.Servers {
			if _, err := a.runtime.RegisterServer(ctx, server.ID, "localdir"); err != nil {
				a.fatalln("register server "+server.ID, err)
				return
			}
			if server.Schedule == "" {
				continue
			}
			err := a.runtime.Schedule(scheduler.Job{
				ServerID:  server.ID,
				Schedule:  server.Schedule,
				FullEvery: server.FullEvery,
				Author:    "scheduler",
			})
			if err != nil {
				a.fatalln("schedule backups of "+server.ID, err)
				return
			}
		}

		var srv *http.Server
		if config.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			srv = &http.Server{Addr: config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.l.Error("metrics endpoint stopped", zap.Error(err))
				}
			}()
		}

		a.runtime.Start()
		a.l.Info("confmon serving", zap.Int("jobs", len(a.runtime.Jobs())), zap.String("metrics", config.MetricsAddr))
		<-ctx.Done()
		a.l.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if srv != nil {
			_ = srv.Shutdown(shutdownCtx)
		}
		a.closeContext(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
