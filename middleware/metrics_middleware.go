package middleware

import (
	"context"
	"shvattr/message"
	"shvattr/value"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	callsServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shvattr_device_calls_total",
			Help: "Calls served by the device, by method and error code",
		},
		[]string{"method", "code"},
	)
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shvattr_device_call_duration_seconds",
			Help:    "Time spent serving a call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(callsServed, callDuration)
}

// MetricsMiddleware counts served calls and observes their duration. Paths are not
// used as labels; a device may expose an unbounded number of them.
func MetricsMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			callDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
			code := "ok"
			if resp.IsError() {
				code = value.ErrorCode(resp.ErrorCode).String()
			}
			callsServed.WithLabelValues(req.Method, code).Inc()
			return resp
		}
	}
}
