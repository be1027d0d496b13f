// Package correlator matches remote call responses to the code waiting for them.
//
// A Correlator sits on top of one Connection. Issue sends a call and records the
// request id together with its completion callback; when the connection reports a
// response the waiter is looked up, removed, and invoked exactly once. Responses for
// ids that are unknown (already resolved, or forgotten because a newer call superseded
// them) are dropped without complaint.
//
// The waiter map is the only state shared between the goroutine issuing calls and
// the goroutine delivering responses; it is guarded by a mutex.
package correlator

import (
	"shvattr/message"
	"shvattr/method"
	"shvattr/value"
	"sync"

	"go.uber.org/zap"
)

// Connection is the remote side consumed by the correlator. Send must not block on
// the response and must not deliver a response from within Send itself. The
// connection reports every response to the handler given to OnResponse, at most
// once per request id.
type Connection interface {
	Send(path, methodName string, params value.Value, access method.AccessLevel) (message.RequestID, error)
	OnResponse(h func(id message.RequestID, out message.Outcome))
}

// Completion receives the outcome of one call.
type Completion func(out message.Outcome)

// Issuer is the part of the correlator used by callers that only start and abandon calls.
type Issuer interface {
	Issue(path, methodName string, params value.Value, access method.AccessLevel, onComplete Completion) message.RequestID
	Forget(id message.RequestID) bool
}

// Correlator tracks outstanding calls on one connection.
type Correlator struct {
	conn    Connection
	mu      sync.Mutex
	waiters map[message.RequestID]Completion
	local   message.RequestID // ids for calls that never reached the wire count down from the top
	logger  *zap.Logger
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets the logger; the default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(c *Correlator) {
		c.logger = l
	}
}

// New creates a correlator and registers it as the connection's response handler.
func New(conn Connection, opts ...Option) *Correlator {
	c := &Correlator{
		conn:    conn,
		waiters: make(map[message.RequestID]Completion),
		local:   ^message.RequestID(0),
		logger:  zap.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	conn.OnResponse(c.resolve)
	return c
}

// Issue sends a call and returns its request id immediately. onComplete runs exactly
// once with the outcome, unless the id is forgotten first.
//
// A call the connection refuses to send still completes, with a MethodCallException
// error delivered from a separate goroutine so the caller never sees a re-entrant callback.
func (c *Correlator) Issue(path, methodName string, params value.Value, access method.AccessLevel, onComplete Completion) message.RequestID {
	c.mu.Lock()
	id, err := c.conn.Send(path, methodName, params, access)
	if err != nil {
		id = c.local
		c.local--
	}
	if _, dup := c.waiters[id]; !dup {
		outstanding.Inc()
	}
	c.waiters[id] = onComplete
	c.mu.Unlock()
	callsIssued.Inc()

	if err != nil {
		c.logger.Warn("remote call not sent",
			zap.String("path", path),
			zap.String("method", methodName),
			zap.Error(err))
		go c.resolve(id, message.Failure(value.NewError(value.CodeMethodCallException, "send failed: %v", err)))
	}
	return id
}

// Forget drops the waiter for id, if any. A response arriving later is discarded.
// It reports whether a waiter was removed.
func (c *Correlator) Forget(id message.RequestID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.waiters[id]; !ok {
		return false
	}
	delete(c.waiters, id)
	outstanding.Dec()
	return true
}

// Pending returns the number of calls still waiting for a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Correlator) resolve(id message.RequestID, out message.Outcome) {
	c.mu.Lock()
	onComplete, ok := c.waiters[id]
	if ok {
		delete(c.waiters, id)
		outstanding.Dec()
	}
	c.mu.Unlock()

	if !ok {
		staleCompletions.Inc()
		c.logger.Debug("discarding response for unknown request", zap.Uint64("requestId", uint64(id)))
		return
	}
	if out.IsError() {
		completions.WithLabelValues(outcomeError).Inc()
	} else {
		completions.WithLabelValues(outcomeSuccess).Inc()
	}
	if onComplete != nil {
		onComplete(out)
	}
}
