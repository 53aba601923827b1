package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/macfound/configaudit/internal/config"
	"github.com/macfound/configaudit/internal/utils"
	"github.com/macfound/configaudit/pkg/metrics"
	"github.com/macfound/configaudit/pkg/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serveCmd implements: configaudit serve [--schedule 1h] [--metrics-addr :9090]
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the audit on a fixed schedule and expose Prometheus metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Schedule <= 0 {
			return fmt.Errorf("schedule must be positive, got %s", cfg.Schedule)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)

		if addr := viper.GetString("metrics_addr"); addr != "" {
			srv := &http.Server{Addr: addr, Handler: metricsHandler(reg), ReadHeaderTimeout: 10 * time.Second}
			go func() {
				utils.Log.Infof("Serving metrics on %s/metrics", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					utils.Log.Errorf("Metrics server: %v", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
		}

		watchLogLevel()

		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				utils.Log.Warnf("Closing %s store: %v", cfg.StoreBackend, err)
			}
		}()

		return serveLoop(ctx, clock.NewClock(), cfg, store, m)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Duration("schedule", time.Hour, "Interval between audit runs")
	serveCmd.Flags().String("metrics-addr", ":9090", "Listen address of the Prometheus endpoint (empty to disable)")
	viper.BindPFlag("schedule", serveCmd.Flags().Lookup("schedule"))
	viper.BindPFlag("metrics_addr", serveCmd.Flags().Lookup("metrics-addr"))
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// watchLogLevel applies log level edits of the config file without a restart.
func watchLogLevel() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		level := viper.GetString("loglevel")
		if err := utils.SetLogLevel(level); err != nil {
			utils.Log.Warnf("Ignoring config change in %s: %v", e.Name, err)
			return
		}
		utils.Log.Infof("Config file %s changed, log level is now %s", e.Name, level)
	})
	viper.WatchConfig()
}

// serveLoop runs an audit immediately and then on every tick until ctx is done.
// Runs are sequential, ticks that fire during a run are dropped by the ticker, and a
// tick is skipped while another process holds the run lock.
func serveLoop(ctx context.Context, clk clock.Clock, cfg config.Config, store snapshot.Store, m *metrics.Metrics) error {
	ticker := clk.NewTicker(cfg.Schedule)
	defer ticker.Stop()

	utils.Log.Infof("Auditing %s every %s", cfg.Identifier(), cfg.Schedule)
	for {
		// Failures are logged by runAudit; the next tick tries again.
		runAudit(ctx, cfg, store, auditOptions{SkipIfLocked: true, Metrics: m})
		if c, ok := store.(interface{ Cleanup() error }); ok {
			if err := c.Cleanup(); err != nil {
				utils.Log.Warnf("Cleaning up working copies: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			utils.Log.Info("Shutting down")
			return nil
		case <-ticker.C():
		}
	}
}
