package collectors

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	TotalBlockCountQuery  = `SELECT COUNT(*) FROM api.blocks`
	LatestBlockIndexQuery = `SELECT COALESCE(MAX("index"), -1) FROM api.blocks`
)

// TotalBlockCountCollector reports the number of ledger blocks and the highest index assigned.
// On a healthy ledger the latest index is the block count minus one.
type TotalBlockCountCollector struct {
	db               *sql.DB
	totalBlockCount  *prometheus.Desc
	latestBlockIndex *prometheus.Desc
}

func NewTotalBlockCountCollector(db *sql.DB) *TotalBlockCountCollector {
	return &TotalBlockCountCollector{
		db: db,
		totalBlockCount: prometheus.NewDesc(
			prometheus.BuildFQName("credledger", "blocks", "total_count"),
			"Total block count",
			nil,
			prometheus.Labels{"source": "postgres"},
		),
		latestBlockIndex: prometheus.NewDesc(
			prometheus.BuildFQName("credledger", "blocks", "latest_index"),
			"Highest block index, -1 when the ledger is empty",
			nil,
			prometheus.Labels{"source": "postgres"},
		),
	}
}

func (c *TotalBlockCountCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalBlockCount
	ch <- c.latestBlockIndex
}

func (c *TotalBlockCountCollector) Collect(ch chan<- prometheus.Metric) {
	var count int64
	if err := c.db.QueryRow(TotalBlockCountQuery).Scan(&count); err != nil {
		ch <- prometheus.NewInvalidMetric(c.totalBlockCount, err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.totalBlockCount, prometheus.CounterValue, float64(count))
	}

	var latest int64
	if err := c.db.QueryRow(LatestBlockIndexQuery).Scan(&latest); err != nil {
		ch <- prometheus.NewInvalidMetric(c.latestBlockIndex, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.latestBlockIndex, prometheus.GaugeValue, float64(latest))
}

func init() {
	RegisterCollectorFactory(func(db *sql.DB) (prometheus.Collector, error) {
		return NewTotalBlockCountCollector(db), nil
	})
}
