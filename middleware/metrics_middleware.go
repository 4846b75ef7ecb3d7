package middleware

import (
	"context"
	"mqrpc/message"
	"mqrpc/metrics"
	"time"
)

// MetricsMiddleware counts requests by command and outcome and times handlers.
func MetricsMiddleware(m *metrics.Server) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Reply {
			m.InFlight.Inc()
			defer m.InFlight.Dec()

			start := time.Now()
			reply := next(ctx, req)
			m.RequestDuration.WithLabelValues(req.Cmd).Observe(time.Since(start).Seconds())

			outcome := metrics.OutcomeOK
			if reply.Error != "" {
				outcome = metrics.OutcomeError
			}
			m.Requests.WithLabelValues(req.Cmd, outcome).Inc()
			return reply
		}
	}
}
