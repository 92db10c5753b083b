package collectors

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

const TotalSubjectCountQuery = `
	SELECT COUNT(*), COUNT(DISTINCT collection)
	FROM (SELECT DISTINCT collection, collection_id FROM api.blocks) AS subjects
`

// TotalSubjectCountCollector collects the number of distinct subjects and collections in one query
type TotalSubjectCountCollector struct {
	db                   *sql.DB
	totalSubjects        *prometheus.Desc
	totalCollectionNames *prometheus.Desc
}

func NewTotalSubjectCountCollector(db *sql.DB) *TotalSubjectCountCollector {
	return &TotalSubjectCountCollector{
		db: db,
		totalSubjects: prometheus.NewDesc(
			prometheus.BuildFQName("credledger", "subjects", "total_count"),
			"Total distinct (collection, collectionId) subjects",
			nil,
			prometheus.Labels{"source": "postgres"},
		),
		totalCollectionNames: prometheus.NewDesc(
			prometheus.BuildFQName("credledger", "collections", "total_count"),
			"Total distinct collections",
			nil,
			prometheus.Labels{"source": "postgres"},
		),
	}
}

func (c *TotalSubjectCountCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalSubjects
	ch <- c.totalCollectionNames
}

func (c *TotalSubjectCountCollector) Collect(ch chan<- prometheus.Metric) {
	var subjectCount, collectionCount int64
	err := c.db.QueryRow(TotalSubjectCountQuery).Scan(&subjectCount, &collectionCount)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.totalSubjects, err)
		ch <- prometheus.NewInvalidMetric(c.totalCollectionNames, err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.totalSubjects, prometheus.GaugeValue, float64(subjectCount))
	ch <- prometheus.MustNewConstMetric(c.totalCollectionNames, prometheus.GaugeValue, float64(collectionCount))
}

func init() {
	RegisterCollectorFactory(func(db *sql.DB) (prometheus.Collector, error) {
		return NewTotalSubjectCountCollector(db), nil
	})
}
