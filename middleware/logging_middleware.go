package middleware

import (
	"context"
	"shvattr/message"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every call with its duration; failed calls are logged at warn level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("path", req.Path),
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.IsError() {
				logger.Warn("call failed", append(fields, zap.Int32("code", resp.ErrorCode), zap.String("error", resp.Error))...)
				return resp
			}
			logger.Debug("call served", fields...)
			return resp
		}
	}
}
