package middleware

import (
	"context"
	"mqrpc/message"
	"time"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Reply {
			start := time.Now()
			reply := next(ctx, req)
			fields := []zap.Field{
				zap.String("cmd", req.Cmd),
				zap.String("correlation_id", req.CorrelationID),
				zap.Duration("duration", time.Since(start)),
			}
			if reply.Error != "" {
				logger.Warn("command failed", append(fields, zap.String("error", reply.Error))...)
				return reply
			}
			logger.Debug("command handled", append(fields, zap.Int("bytes", len(reply.Body)))...)
			return reply
		}
	}
}
