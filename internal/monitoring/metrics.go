package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	marketOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_market_operations_total",
			Help: "Marketplace operations by outcome",
		},
		[]string{"operation", "status"},
	)

	ticketsMinted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_market_tickets_minted_total",
			Help: "Tickets created by primary sales",
		},
	)

	resaleVolume = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_market_resale_amount_total",
			Help: "Resale amounts settled, split into seller proceeds and operator fees",
		},
		[]string{"leg"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticket_market_operation_duration_seconds",
			Help:    "Duration of marketplace operations including the database transaction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// RecordOperation counts one operation as "ok" or "error".
func RecordOperation(operation string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	marketOperations.WithLabelValues(operation, status).Inc()
	operationDuration.WithLabelValues(operation).Observe(seconds)
}

func RecordMint() {
	ticketsMinted.Inc()
}

// RecordResale adds settled amounts. Values are in the smallest currency
// unit and may lose precision as float64 beyond 2^53.
func RecordResale(price, fee decimal.Decimal) {
	resaleVolume.WithLabelValues("proceeds").Add(price.InexactFloat64())
	resaleVolume.WithLabelValues("fee").Add(fee.InexactFloat64())
}
