package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordsDesc = prometheus.NewDesc("txsearch_index_records", "Records in the Index Store.", nil, nil)
	pansDesc    = prometheus.NewDesc("txsearch_index_pans", "Distinct PANs in the Index Store.", nil, nil)
	namesDesc   = prometheus.NewDesc("txsearch_index_names", "Distinct normalised names in the Index Store.", nil, nil)
	filesDesc   = prometheus.NewDesc("txsearch_index_source_files", "Source files the Index Store was built from.", nil, nil)
)

// Collector reports Index Store sizes on each scrape.
type Collector struct {
	store   Store
	timeout time.Duration
}

// NewCollector returns a prometheus.Collector reading from s.
func NewCollector(s Store) *Collector {
	return &Collector{store: s, timeout: 5 * time.Second}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- recordsDesc
	ch <- pansDesc
	ch <- namesDesc
	ch <- filesDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	st, err := c.store.Stats(ctx)
	if err != nil {
		slog.Error("failed to collect index store metrics", "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(recordsDesc, prometheus.GaugeValue, float64(st.Records))
	ch <- prometheus.MustNewConstMetric(pansDesc, prometheus.GaugeValue, float64(st.PANs))
	ch <- prometheus.MustNewConstMetric(namesDesc, prometheus.GaugeValue, float64(st.Names))
	ch <- prometheus.MustNewConstMetric(filesDesc, prometheus.GaugeValue, float64(st.Files))
}
