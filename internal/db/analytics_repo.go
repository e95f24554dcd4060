package db

import (
	"context"
	"time"

	"github.com/easyash/trustedby/internal/types"
)

// AnalyticsRepository accumulates widget engagement counters. Counters are
// daily buckets per customer and metric, incremented with an upsert so the
// tracking endpoint stays a single round trip.
type AnalyticsRepository struct {
	db DBTX
}

func NewAnalyticsRepository(db DBTX) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// Metric names accepted by the tracking endpoint.
const (
	MetricWidgetView  = "widget_view"
	MetricWidgetClick = "widget_click"
)

// ValidMetric reports whether the metric name is one we count.
func ValidMetric(metric string) bool {
	return metric == MetricWidgetView || metric == MetricWidgetClick
}

// Increment adds one to the customer's counter for the metric on the given
// day.
func (r *AnalyticsRepository) Increment(ctx context.Context, customerID, metric string, day time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO widget_counters (customer_id, metric, day, count)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (customer_id, metric, day)
		 DO UPDATE SET count = widget_counters.count + 1`,
		customerID,
		metric,
		day.UTC().Truncate(24*time.Hour),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to record widget metric", err)
	}
	return nil
}

// Totals returns the customer's lifetime counter totals keyed by metric.
func (r *AnalyticsRepository) Totals(ctx context.Context, customerID string) (map[string]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT metric, SUM(count)
		 FROM widget_counters
		 WHERE customer_id = $1
		 GROUP BY metric`,
		customerID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to read widget metrics", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var metric string
		var count int64
		if err := rows.Scan(&metric, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to scan widget metric", err)
		}
		totals[metric] = count
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to read widget metrics", err)
	}
	return totals, nil
}
