package metrics_test

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/liftedinit/credledger/internal/metrics"
	"github.com/liftedinit/credledger/internal/metrics/collectors"
)

func shutdown(t *testing.T, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
}

func TestCreateMetricsServer(t *testing.T) {
	t.Run("StartServer", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.MatchExpectationsInOrder(false)

		mock.ExpectQuery(regexp.QuoteMeta(collectors.TotalBlockCountQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(28))
		mock.ExpectQuery(regexp.QuoteMeta(collectors.LatestBlockIndexQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(27))
		mock.ExpectQuery(regexp.QuoteMeta(collectors.TotalSubjectCountQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"subject_count", "collection_count"}).AddRow(3, 2))

		server, err := metrics.CreateMetricsServer(db, "127.0.0.1:0", prometheus.NewRegistry())
		require.NoError(t, err)
		defer shutdown(t, server)

		resp, err := http.Get("http://" + server.Addr + "/metrics")
		require.NoError(t, err, "Failed to connect to metrics server")
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		require.Contains(t, string(body), `credledger_blocks_total_count{source="postgres"} 28`)
		require.Contains(t, string(body), `credledger_blocks_latest_index{source="postgres"} 27`)
		require.Contains(t, string(body), `credledger_subjects_total_count{source="postgres"} 3`)
		require.Contains(t, string(body), `credledger_collections_total_count{source="postgres"} 2`)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("WithoutDatabase", func(t *testing.T) {
		server, err := metrics.CreateMetricsServer(nil, "127.0.0.1:0", prometheus.NewRegistry())
		require.NoError(t, err)
		defer shutdown(t, server)

		resp, err := http.Get("http://" + server.Addr + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.True(t, strings.Contains(string(body), "go_goroutines"))
		require.NotContains(t, string(body), "credledger_blocks_total_count")
	})

	t.Run("WhenInvalidAddress", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		_, err = metrics.CreateMetricsServer(db, "invalid-address😆", prometheus.NewRegistry())
		require.Error(t, err)
	})

	t.Run("WhenInvalidPort", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		_, err = metrics.CreateMetricsServer(db, "localhost:99999", prometheus.NewRegistry())
		require.Error(t, err)
	})

	t.Run("WhenNilRegistry", func(t *testing.T) {
		_, err := metrics.CreateMetricsServer(nil, "127.0.0.1:0", nil)
		require.Error(t, err)
	})
}
