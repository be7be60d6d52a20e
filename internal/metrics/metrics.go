package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg               *prometheus.Registry
	OrdersNormalized  prometheus.Counter
	RecordsDropped    prometheus.Counter
	RecordsDeduped    prometheus.Counter
	LegacySweeps      prometheus.Counter
	NormalizeDuration prometheus.Histogram
	OrdersCurrent     prometheus.Gauge

	CheckoutCreated prometheus.Counter
	CardInits       prometheus.Counter
	StkPushes       prometheus.Counter
	PaymentsPaid    prometheus.Counter
	PaymentsFailed  prometheus.Counter
	EmailsSent      prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	normalized := prometheus.NewCounter(prometheus.CounterOpts{Name: "duka_orders_normalized_total"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "duka_records_dropped_total"})
	deduped := prometheus.NewCounter(prometheus.CounterOpts{Name: "duka_records_deduped_total"})
	sweeps := prometheus.NewCounter(prometheus.CounterOpts{Name: "duka_legacy_sweeps_total"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "duka_normalize_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})
	current := prometheus.NewGauge(prometheus.GaugeOpts{Name: "duka_orders_current"})

	created := prometheus.NewCounter(prometheus.CounterOpts{Name: "duka_checkout_created_total"})
	cardInits := prometheus.NewCounter(prometheus.CounterOpts{Name: "duka_card_init_total"})
	stkPushes := prometheus.NewCounter(prometheus.CounterOpts{Name: "duka_stk_push_total"})
	paid := prometheus.NewCounter(prometheus.CounterOpts{Name: "duka_payments_paid_total"})
	failed := prometheus.NewCounter(prometheus.CounterOpts{Name: "duka_payments_failed_total"})
	emails := prometheus.NewCounter(prometheus.CounterOpts{Name: "duka_emails_sent_total"})

	r.MustRegister(normalized, dropped, deduped, sweeps, duration, current, created, cardInits, stkPushes, paid, failed, emails)
	return &Registry{
		reg:               r,
		OrdersNormalized:  normalized,
		RecordsDropped:    dropped,
		RecordsDeduped:    deduped,
		LegacySweeps:      sweeps,
		NormalizeDuration: duration,
		OrdersCurrent:     current,
		CheckoutCreated:   created,
		CardInits:         cardInits,
		StkPushes:         stkPushes,
		PaymentsPaid:      paid,
		PaymentsFailed:    failed,
		EmailsSent:        emails,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
