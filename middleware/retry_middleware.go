package middleware

import (
	"context"
	"mqrpc/message"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RetryMiddleware re-runs a handler whose reply reports a timeout or refused
// connection, with exponential backoff starting at baseDelay.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Reply {
			reply := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if reply.Error == "" || !retryable(reply.Error) {
					return reply
				}
				logger.Info("retrying command",
					zap.String("cmd", req.Cmd),
					zap.Int("attempt", i+1),
					zap.String("error", reply.Error))
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return reply
				}
				reply = next(ctx, req)
			}
			return reply
		}
	}
}

func retryable(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "connection refused")
}
