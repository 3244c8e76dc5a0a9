package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"harshagw/segidx/internal/metrics"
)

var metricsInterval time.Duration

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Open the index and serve Prometheus metrics",
	Long: `Hold the index writer open and serve its metrics on the configured
address. Merges requested by the merge policy run in the background and
changes are committed every --interval until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServeMetrics,
}

func init() {
	rootCmd.AddCommand(serveMetricsCmd)
	serveMetricsCmd.Flags().DurationVar(&metricsInterval, "interval", 10*time.Second, "maintenance interval")
}

// serveMetrics starts the scrape endpoint on addr. The returned func shuts
// it down.
func serveMetrics(addr string, m *metrics.Metrics) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

func runServeMetrics(cmd *cobra.Command, _ []string) error {
	addr := cfg.Metrics.Addr
	if addr == "" {
		addr = ":9464"
	}
	stop, err := serveMetrics(addr, enableMetrics())
	if err != nil {
		return err
	}
	defer stop()

	w, err := openWriter()
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
			if err := w.MaybeMerge(); err != nil {
				log.Error("merge failed", "error", err)
			}
			if w.HasUncommittedChanges() {
				if err := w.Commit(); err != nil {
					return err
				}
			}
		}
	}
}
