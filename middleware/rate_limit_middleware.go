package middleware

import (
	"context"
	"mqrpc/message"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects requests beyond r per second (token bucket with burst).
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Reply {
			if !limiter.Allow() {
				return &message.Reply{Error: "rate limit exceeded"}
			}
			return next(ctx, req)
		}
	}
}
