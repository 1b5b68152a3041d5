// Package metrics 定义了 Prometheus 指标。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "path", "status"})

	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_requests_total",
		Help: "Chat orchestrations by result.",
	}, []string{"result"})

	InferenceSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_inference_seconds",
		Help:    "Latency of inference calls.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	PasswordVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_password_verifications_total",
		Help: "Login password verifications by provenance (modern, migrated, failed).",
	}, []string{"provenance"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})
)

// Handler 返回 /metrics 的处理器。
func Handler() http.Handler {
	return promhttp.Handler()
}
