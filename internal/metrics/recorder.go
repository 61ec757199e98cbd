// Package metrics exports delivery outcomes in the Prometheus format.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

const namespace = "webpush"

// Delivery outcome label values.
const (
	OutcomeSuccess     = "success"
	OutcomeExpired     = "expired"
	OutcomeHTTPError   = "http_error"
	OutcomeCryptoError = "crypto_error"
	OutcomeInvalidKey  = "invalid_key"
)

// Recorder implements dispatch.Observer on its own registry.
type Recorder struct {
	registry   *prometheus.Registry
	deliveries *prometheus.CounterVec
	duration   prometheus.Histogram
	batches    *prometheus.CounterVec
}

// NewRecorder registers the delivery metrics on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Web Push delivery attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Time to encrypt, sign and post one message.",
			Buckets:   prometheus.DefBuckets,
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Delivery batches by result.",
		}, []string{"result"}),
	}
	r.registry.MustRegister(r.deliveries, r.duration, r.batches)
	return r
}

// Handler serves the registry for scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ObserveDelivery(result dispatch.DeliveryResult, elapsed time.Duration) {
	r.deliveries.WithLabelValues(Outcome(result)).Inc()
	r.duration.Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveBatch(_ *dispatch.BatchSummary, err error) {
	r.batches.WithLabelValues(BatchResult(err)).Inc()
}

// Outcome maps a delivery result to its label value.
func Outcome(result dispatch.DeliveryResult) string {
	switch {
	case result.Success:
		return OutcomeSuccess
	case errors.Is(result.Err, dispatch.ErrSubscriptionExpired):
		return OutcomeExpired
	case errors.Is(result.Err, dispatch.ErrInvalidSubscriptionKey):
		return OutcomeInvalidKey
	case errors.Is(result.Err, dispatch.ErrCryptoFailure):
		return OutcomeCryptoError
	default:
		return OutcomeHTTPError
	}
}

// BatchResult maps a batch error to its label value.
func BatchResult(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, dispatch.ErrVapidKeyMissing):
		return "vapid_missing"
	case errors.Is(err, dispatch.ErrNoRecipients):
		return "no_recipients"
	default:
		return "rejected"
	}
}
