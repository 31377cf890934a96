package httpbridge

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	clientBuildCount    = "http_bridge_client_build_count"
	clientCacheCount    = "http_bridge_client_cache_count"
	responseDecodeCount = "http_bridge_response_decode_count"
	requestDuration     = "http_bridge_request_duration"
)

func initMetrics() (*bridgeMetrics, error) {
	var prometheusMetrics = map[string]prometheus.Collector{
		clientBuildCount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: clientBuildCount,
				Help: "Number of transport clients constructed",
			},
		),
		clientCacheCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: clientCacheCount,
				Help: "Number of client cache lookups by result",
			},
			[]string{"result"},
		),
		responseDecodeCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: responseDecodeCount,
				Help: "Number of response bodies transparently decompressed",
			},
			[]string{"encoding"},
		),
		requestDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       requestDuration,
				Help:       "Durations per request executed through the bridge",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.95: 0.005, 0.99: 0.001},
			},
			[]string{"request_method", "response_status"},
		),
	}

	if err := registerMetrics(prometheusMetrics); err != nil {
		return nil, err
	}

	return &bridgeMetrics{
		clientBuilds: prometheusMetrics[clientBuildCount].(prometheus.Counter),
		cacheLookups: prometheusMetrics[clientCacheCount].(*prometheus.CounterVec),
		decodes:      prometheusMetrics[responseDecodeCount].(*prometheus.CounterVec),
		durations:    prometheusMetrics[requestDuration].(*prometheus.SummaryVec),
	}, nil
}

type bridgeMetrics struct {
	clientBuilds prometheus.Counter
	cacheLookups *prometheus.CounterVec
	decodes      *prometheus.CounterVec
	durations    *prometheus.SummaryVec
}

func registerMetrics(m map[string]prometheus.Collector) error {
	for _, metric := range m {
		var err = prometheus.Register(metric)
		if err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

var (
	metricsOnce sync.Once
	metrics     *bridgeMetrics
)

func getMetrics() *bridgeMetrics {
	metricsOnce.Do(func() {
		m, err := initMetrics()
		if err != nil {
			return
		}
		metrics = m
	})
	return metrics
}

func observeBuild() {
	if m := getMetrics(); m != nil {
		m.clientBuilds.Inc()
	}
}

func observeCache(result string) {
	if m := getMetrics(); m != nil {
		m.cacheLookups.WithLabelValues(result).Inc()
	}
}

func observeDecode(encoding string) {
	if m := getMetrics(); m != nil {
		m.decodes.WithLabelValues(encoding).Inc()
	}
}

func observeRequest(method, status string, d time.Duration) {
	if m := getMetrics(); m != nil {
		m.durations.WithLabelValues(method, status).Observe(d.Seconds())
	}
}
