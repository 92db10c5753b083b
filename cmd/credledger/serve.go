package credledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/liftedinit/credledger/internal/api"
	"github.com/liftedinit/credledger/internal/config"
	"github.com/liftedinit/credledger/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Args:  cobra.NoArgs,
	Short: "Serve the block ledger HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		serveConfig := config.LoadServeConfigFromCLI()
		if err := serveConfig.Validate(); err != nil {
			return fmt.Errorf("invalid Serve configuration: %w", err)
		}
		storeConfig, err := loadStoreConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		handleInterrupt(cancel)

		store, db, err := openStore(ctx, storeConfig)
		if err != nil {
			return err
		}
		defer closeStore(store)

		reg := prometheus.NewRegistry()
		servers := []*http.Server{api.NewServer(serveConfig, store, reg)}

		if serveConfig.EnablePrometheus {
			metricsServer, err := metrics.CreateMetricsServer(db, serveConfig.PrometheusAddr, reg)
			if err != nil {
				return fmt.Errorf("failed to create metrics server: %w", err)
			}
			servers = append(servers, metricsServer)
		}

		return serve(ctx, servers[0], servers[1:]...)
	},
}

// serve runs srv until ctx is cancelled, then shuts srv and the auxiliary servers down.
func serve(ctx context.Context, srv *http.Server, aux ...*http.Server) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		slog.Info("Starting API server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, s := range append([]*http.Server{srv}, aux...) {
			if err := s.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		slog.Info("Servers stopped")
		return errors.Join(errs...)
	})

	return eg.Wait()
}

func init() {
	ServeCmd.Flags().StringP("listen-addr", "a", "0.0.0.0:3000", "Address and port of the HTTP API")
	ServeCmd.Flags().StringSlice("cors-origins", nil, "Allowed CORS origins, all when empty")
	ServeCmd.Flags().Duration("read-timeout", 15*time.Second, "HTTP read timeout")
	ServeCmd.Flags().Duration("write-timeout", 15*time.Second, "HTTP write timeout")
	ServeCmd.Flags().Bool("enable-prometheus", false, "Enable Prometheus metrics server")
	ServeCmd.Flags().String("prometheus-addr", "0.0.0.0:2112", "Address and port of the Prometheus metrics server")

	if err := viper.BindPFlags(ServeCmd.Flags()); err != nil {
		slog.Error("Failed to bind ServeCmd flags", "error", err)
	}
}
