package middleware

import (
	"context"
	"shvattr/message"
	"shvattr/value"
	"time"
)

// TimeOutMiddleware answers MethodCallTimeout when the handler does not return in time.
// The handler keeps running with a cancelled context; its late result is dropped.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.ErrorResponse(req, value.NewError(value.CodeMethodCallTimeout, "%s:%s timed out after %s", req.Path, req.Method, timeout))
			}
		}
	}
}
