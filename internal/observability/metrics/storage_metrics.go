package metrics

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RowCounter counts rows of a storage table.
type RowCounter interface {
	CountRows(ctx context.Context, table string) (int64, error)
}

// Tables reported by the storage gauges.
var countedTables = []string{"aggregates_fast", "aggregates_slow", "logs"}

func registerStorageMetrics(counter RowCounter, logger *log.Logger) {
	for _, table := range countedTables {
		table := table
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        metricPrefix + "storage_rows",
				Help:        "Rows stored per table",
				ConstLabels: prometheus.Labels{"table": table},
			},
			func() float64 {
				return queryCount(counter, logger, table)
			},
		))
	}
}

func queryCount(counter RowCounter, logger *log.Logger, table string) float64 {
	if counter == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	count, err := counter.CountRows(ctx, table)
	if err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: table=%s err=%v", table, err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
