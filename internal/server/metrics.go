package server

import "github.com/prometheus/client_golang/prometheus"

var Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ministry",
	Subsystem: "http",
	Name:      "uploads",
}, []string{"result"})

var UploadBytes = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ministry",
	Subsystem: "http",
	Name:      "upload_bytes",
})

var DecodeAnomalies = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ministry",
	Subsystem: "http",
	Name:      "decode_anomalies",
})

// Collectors returns the HTTP layer's metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{Uploads, UploadBytes, DecodeAnomalies}
}
