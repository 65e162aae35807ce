package parley

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts reconciliation activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	eventsTotal    *prometheus.CounterVec
	requestErrors  *prometheus.CounterVec
	reconnectTotal prometheus.Counter
	refetchTotal   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "parley",
				Name:      "events_total",
				Help:      "Push events applied by the dispatcher.",
			},
			[]string{"event", "outcome"},
		),
		requestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "parley",
				Name:      "request_errors_total",
				Help:      "Failed backend requests by feature and error kind.",
			},
			[]string{"feature", "kind"},
		),
		reconnectTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "parley",
				Name:      "realtime_reconnects_total",
				Help:      "Reconnect attempts of the realtime connection.",
			},
		),
		refetchTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "parley",
				Name:      "chat_refetches_total",
				Help:      "Chat list refetches triggered by events for unknown chats.",
			},
		),
	}
	for _, c := range []prometheus.Collector{m.eventsTotal, m.requestErrors, m.reconnectTotal, m.refetchTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) event(name, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) requestError(feature Feature, err error) {
	if m == nil {
		return
	}
	kind := KindUnknown
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		kind = apiErr.Kind
	}
	m.requestErrors.WithLabelValues(string(feature), kind.String()).Inc()
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnectTotal.Inc()
}

func (m *Metrics) refetch() {
	if m == nil {
		return
	}
	m.refetchTotal.Inc()
}
