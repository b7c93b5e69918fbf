package logger

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors exposes the log and HTTP error counters as prometheus counters.
// The values are read at scrape time, so sampling never hides them.
func Collectors() []prometheus.Collector {
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "businessrules",
			Subsystem: "log",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	return []prometheus.Collector{
		counter("errors_total", "Errors logged, including sampled-out ones", &TotalErrors),
		counter("warnings_total", "Warnings logged, including sampled-out ones", &TotalWarnings),
		counter("http_5xx_total", "HTTP responses with a 5xx status", &Total5xxErrors),
		counter("http_4xx_total", "HTTP responses with a 4xx status", &Total4xxErrors),
		counter("http_404_total", "HTTP 404 responses", &Total404Errors),
		counter("http_409_total", "HTTP 409 responses", &Total409Errors),
	}
}
