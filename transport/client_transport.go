// Package transport implements the client side of a device connection: many
// concurrent calls multiplexed over one TCP connection, plus a heartbeat.
//
// Each call gets a unique request id. Send writes the frame and returns the id at
// once; a background goroutine (recvLoop) reads responses and hands each one to the
// response handler registered with OnResponse.
//
//	Send(id=1) ──┐
//	Send(id=2) ──┼──→ single TCP conn ──→ device
//	Send(id=3) ──┘
//
//	recvLoop:  ←── response(id=2) → handler(2, outcome)
package transport

import (
	"errors"
	"fmt"
	"net"
	"shvattr/codec"
	"shvattr/message"
	"shvattr/method"
	"shvattr/protocol"
	"shvattr/value"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultHeartbeatInterval is how often an idle-or-not transport probes the device.
const DefaultHeartbeatInterval = 30 * time.Second

// ErrClosed is returned by Send once the connection is gone.
var ErrClosed = errors.New("transport: connection closed")

// ClientTransport manages a single multiplexed connection to a device.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType
	seq     uint64     // last assigned request id (protected by sending)
	pending sync.Map   // map[message.RequestID]struct{}: written, not yet answered
	sending sync.Mutex // whole frames only; concurrent writes would interleave

	mu      sync.Mutex
	handler func(id message.RequestID, out message.Outcome)
	closed  bool
	done    chan struct{}
}

// NewClientTransport wraps conn and starts two background goroutines:
//   - recvLoop: reads responses and dispatches them to the response handler
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
func NewClientTransport(conn net.Conn, codecType codec.CodecType) *ClientTransport {
	return NewClientTransportWithHeartbeat(conn, codecType, DefaultHeartbeatInterval)
}

// NewClientTransportWithHeartbeat is NewClientTransport with a custom heartbeat interval.
func NewClientTransportWithHeartbeat(conn net.Conn, codecType codec.CodecType, interval time.Duration) *ClientTransport {
	t := &ClientTransport{
		conn:  conn,
		codec: codecType,
		done:  make(chan struct{}),
	}
	go t.recvLoop()
	go t.heartbeatLoop(interval)
	return t
}

// OnResponse registers the handler for all responses on this connection. It is
// meant to be called once, before the first Send.
func (t *ClientTransport) OnResponse(h func(id message.RequestID, out message.Outcome)) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Send writes a call frame and returns its request id without waiting for the response.
// The response, or a connection failure, is reported through the response handler.
func (t *ClientTransport) Send(path, methodName string, params value.Value, access method.AccessLevel) (message.RequestID, error) {
	msg := message.RPCMessage{
		Path:   path,
		Method: methodName,
		Access: byte(access),
	}
	msg.SetParams(params)
	body, err := codec.GetCodec(t.codec).Encode(&msg)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	if t.isClosed() {
		return 0, ErrClosed
	}

	t.seq++
	id := message.RequestID(t.seq)

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		RequestID: uint64(id),
		BodyLen:   uint32(len(body)),
	}

	// Register before writing so a fast response cannot beat us to the map.
	t.pending.Store(id, struct{}{})
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(id)
		return 0, fmt.Errorf("write request: %w", err)
	}
	return id, nil
}

// recvLoop is the single reader of the connection; frame boundaries require sequential reads.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.shutdown(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		id := message.RequestID(header.RequestID)
		if _, ok := t.pending.LoadAndDelete(id); !ok {
			zap.L().Debug("response for unknown request", zap.Uint64("requestId", header.RequestID))
			continue
		}

		var resp message.RPCMessage
		var out message.Outcome
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &resp); err != nil {
			out = message.Failure(value.NewError(value.CodeParseError, "decode response: %v", err))
		} else {
			out = resp.Outcome()
		}
		t.deliver(id, out)
	}
}

func (t *ClientTransport) deliver(id message.RequestID, out message.Outcome) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(id, out)
	}
}

// shutdown marks the transport closed and fails every pending call so no waiter hangs.
func (t *ClientTransport) shutdown(cause error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.conn.Close()
	zap.L().Info("device connection closed", zap.String("remote", t.remoteAddr()), zap.Error(cause))

	t.pending.Range(func(key, _ any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			t.deliver(key.(message.RequestID), message.Failure(
				value.NewError(value.CodeMethodCallCancelled, "connection lost: %v", cause)))
		}
		return true
	})
}

func (t *ClientTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *ClientTransport) remoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Close tears down the connection; pending calls complete with a cancelled error.
func (t *ClientTransport) Close() error {
	t.shutdown(ErrClosed)
	return nil
}

// Done is closed once the connection is gone.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// Pending returns the number of calls written but not yet answered.
func (t *ClientTransport) Pending() int {
	n := 0
	t.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Conn returns the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			CodecType: byte(t.codec),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.shutdown(fmt.Errorf("heartbeat: %w", err))
			return
		}
	}
}
