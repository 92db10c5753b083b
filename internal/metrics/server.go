// Package metrics serves the Prometheus endpoint of the ledger.
package metrics

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ledgercollectors "github.com/liftedinit/credledger/internal/metrics/collectors"
)

// CreateMetricsServer starts serving reg on addr/metrics. When db is set the ledger collectors are registered too.
// The listener is bound before returning so an unusable address is reported to the caller.
func CreateMetricsServer(db *sql.DB, addr string, reg *prometheus.Registry) (*http.Server, error) {
	if reg == nil {
		return nil, errors.New("metrics registry is nil")
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if db != nil {
		ledgerCollectors, err := ledgercollectors.DefaultRegistry.CreateCollectors(db)
		if err != nil {
			return nil, fmt.Errorf("failed to create collectors: %w", err)
		}
		for _, c := range ledgerCollectors {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("failed to register collector: %w", err)
			}
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Starting metrics server", "addr", server.Addr)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start metrics server", "error", err)
		}
	}()

	return server, nil
}
