package client

import (
	"context"
	"errors"
	"time"

	"github.com/jrsteele09/go-finance-client/auth"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments a Client. A nil *Metrics records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	refresh  *prometheus.CounterVec
	retries  prometheus.Counter
	duration *prometheus.HistogramVec
}

// NewMetrics creates the client collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finance_client_calls_total",
			Help: "Logical API calls by outcome.",
		}, []string{"outcome"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finance_client_refresh_total",
			Help: "Token refresh exchanges by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finance_client_retries_total",
			Help: "Requests dispatched a second time after a 401.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finance_client_request_duration_seconds",
			Help:    "Duration of single HTTP exchanges with the API.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	for _, c := range []prometheus.Collector{m.calls, m.refresh, m.retries, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeCall(res Result) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(res.Outcome.String()).Inc()
	if res.Retried && res.Refreshed {
		m.retries.Inc()
	}
}

func (m *Metrics) observeRefresh(err error) {
	if m == nil {
		return
	}
	m.refresh.WithLabelValues(refreshResult(err)).Inc()
}

func (m *Metrics) observeDuration(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(method).Observe(d.Seconds())
}

func refreshResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, auth.ErrNoRefreshToken):
		return "no_token"
	case errors.Is(err, auth.ErrNetwork),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return "network"
	default:
		return "rejected"
	}
}
