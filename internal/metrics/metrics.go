// Package metrics exposes Prometheus instruments for reloads, ledger
// writes and event publication.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "supplychain"

type Recorder struct {
	reloads          *prometheus.CounterVec
	reloadDuration   prometheus.Histogram
	snapshotProducts prometheus.Gauge
	writes           *prometheus.CounterVec
	inflight         prometheus.Gauge
	published        *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reloads_total",
			Help: "Catalog reloads by result.",
		}, []string{"result"}),
		reloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "reload_duration_seconds",
			Help:    "Time spent reading the full product set from the ledger.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		snapshotProducts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "snapshot_products",
			Help: "Products in the last committed snapshot.",
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_writes_total",
			Help: "Create and transition requests by result.",
		}, []string{"op", "result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "transitions_in_flight",
			Help: "Products with a transition awaiting confirmation.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "Envelopes handed to the event transport by topic and result.",
		}, []string{"topic", "result"}),
	}
	reg.MustRegister(r.reloads, r.reloadDuration, r.snapshotProducts, r.writes, r.inflight, r.published)
	return r
}

func (r *Recorder) ObserveReload(d time.Duration, n int, err error) {
	r.reloads.WithLabelValues(Result(err)).Inc()
	if err != nil {
		return
	}
	r.reloadDuration.Observe(d.Seconds())
	r.snapshotProducts.Set(float64(n))
}

func (r *Recorder) ObserveTransition(op string, err error) {
	r.writes.WithLabelValues(op, Result(err)).Inc()
}

func (r *Recorder) SetInFlight(n int) { r.inflight.Set(float64(n)) }

func (r *Recorder) ObservePublish(topic string, err error) {
	r.published.WithLabelValues(topic, Result(err)).Inc()
}

// Result turns an error into a low-cardinality label.
func Result(err error) string {
	switch kind := products.Kind(err); {
	case err == nil:
		return "ok"
	case kind == products.ErrConnectivity:
		return "connectivity"
	case kind == products.ErrNotFound:
		return "not_found"
	case kind == products.ErrValidation:
		return "validation"
	case kind == products.ErrUnauthorized:
		return "unauthorized"
	case kind == products.ErrTransactionRejected:
		return "rejected"
	case kind == products.ErrConflict:
		return "conflict"
	case kind == products.ErrMalformedHistory:
		return "malformed_history"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
