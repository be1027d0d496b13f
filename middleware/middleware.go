// Package middleware wraps the device-side call handler.
//
// Chain(A, B, C)(h) yields A(B(C(h))): A runs first on the way in and last on the
// way out. Middlewares answer with an error response instead of calling next when
// they reject a call.
package middleware

import (
	"context"
	"shvattr/message"
)

type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one given is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
