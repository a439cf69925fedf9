package common

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the request pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests    *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	evictions   prometheus.Counter
	refreshes   *prometheus.CounterVec
	retries     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = "backoffice"
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_requests_total",
			Help:      "HTTP requests sent to the API, by method and status code.",
		}, []string{"method", "code"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_cache_hits_total",
			Help:      "Response cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_cache_misses_total",
			Help:      "Response cache misses, including expired entries.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_cache_evictions_total",
			Help:      "Entries evicted because the cache was full.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_token_refreshes_total",
			Help:      "Credential refresh attempts, by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_retries_total",
			Help:      "Requests re-sent after a server error.",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.cacheHits, m.cacheMisses, m.evictions, m.refreshes, m.retries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) request(method string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) cacheEviction() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) refresh(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) retry() {
	if m != nil {
		m.retries.Inc()
	}
}
