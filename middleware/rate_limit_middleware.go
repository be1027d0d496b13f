package middleware

import (
	"context"
	"shvattr/message"
	"shvattr/value"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware admits calls through a token bucket of r tokens per second.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return message.ErrorResponse(req, value.NewError(value.CodeMethodCallException, "rate limit exceeded"))
			}
			return next(ctx, req)
		}
	}
}
