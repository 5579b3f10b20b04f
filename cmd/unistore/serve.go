package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/unistore/pkg/telemetry/health"
)

var serveFlags struct {
	listen       string
	checkTimeout time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics and health probes for every instance",
	Long: `Open every configured instance and serve:

  /metrics  Prometheus metrics (recorded when telemetry.metrics.enabled)
  /health   liveness
  /ready    readiness aggregated over all instances
  /version  build information

The background workers of every instance (TTL sweeps, snapshots, index
saves, retention cleanup, vacuum and backups) run until the process
receives SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listen, "listen", "l", "127.0.0.1:9090", "listen address")
	serveCmd.Flags().DurationVar(&serveFlags.checkTimeout, "check-timeout", 5*time.Second, "readiness probe timeout")
}

func runServe(cmd *cobra.Command, args []string) (err error) {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx := cmd.Context()
	if err := sess.factory.LoadFromConfig(ctx, &sess.cfg.Storage); err != nil {
		return err
	}

	mux := newServeMux(sess, serveFlags.checkTimeout)

	ln, err := net.Listen("tcp", serveFlags.listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", serveFlags.listen, err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sess.logger.Info("serving",
		"address", ln.Addr().String(),
		"instances", sess.factory.Instances(),
		"metrics_enabled", sess.cfg.Telemetry.Metrics.Enabled)
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Listening on %s\n", ln.Addr())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	sess.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), sess.cfg.Storage.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// newServeMux mounts the metrics and health endpoints.
func newServeMux(sess *session, checkTimeout time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", sess.metrics.Handler())
	health.Register(mux, health.New(sess.factory, checkTimeout), health.VersionInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	})
	return mux
}
