// Package server implements a device: a tree of nodes addressed by path, each
// exposing remote methods, served over the framed protocol.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → dispatch (access check, reflect.Call) → Codec.Encode → write response
//
// Every path answers "dir" (its method descriptors) and "ls" (its child names),
// including intermediate paths that have no node of their own.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"shvattr/codec"
	"shvattr/message"
	"shvattr/method"
	"shvattr/middleware"
	"shvattr/protocol"
	"shvattr/registry"
	"shvattr/value"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RegistryTTL is the lease, in seconds, a served device is registered under.
const RegistryTTL = 10

var ErrPathTaken = errors.New("server: a node is already registered at this path")

// Server hosts the nodes of one device.
type Server struct {
	name string

	mu          sync.RWMutex
	nodes       map[string]*node // path → node
	listener    net.Listener
	conns       map[net.Conn]struct{}
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(dispatch)))

	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool

	registry      registry.Registry
	advertiseAddr string // routable address put in the registry, unlike a ":8080" listen address
}

// NewServer creates a device called name with no nodes.
func NewServer(name string) *Server {
	return &Server{
		name:  name,
		nodes: make(map[string]*node),
		conns: make(map[net.Conn]struct{}),
	}
}

// Name returns the device name used for registry entries.
func (svr *Server) Name() string {
	return svr.name
}

// Register mounts rcvr at path. See node for the method shape that is exposed.
func (svr *Server) Register(path string, rcvr any) error {
	path = strings.Trim(path, "/")
	n, err := newNode(path, rcvr)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, ok := svr.nodes[path]; ok {
		return fmt.Errorf("%w: %q", ErrPathTaken, path)
	}
	svr.nodes[path] = n
	zap.L().Debug("node registered", zap.String("device", svr.name), zap.String("path", path), zap.Strings("methods", n.names))
	return nil
}

// Use adds a middleware. Middlewares apply in the order added; add them before serving.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.mu.Lock()
	svr.middlewares = append(svr.middlewares, mw)
	svr.mu.Unlock()
}

// Serve listens on address and serves until Shutdown. When reg is non-nil the
// device is registered under advertiseAddr while serving.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.mu.Lock()
	svr.listener = listener
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)
	svr.advertiseAddr = advertiseAddr
	svr.registry = reg
	svr.mu.Unlock()

	if reg != nil {
		inst := registry.DeviceInstance{Addr: advertiseAddr, Weight: 1}
		if err := reg.Register(context.Background(), svr.name, inst, RegistryTTL); err != nil {
			listener.Close()
			return fmt.Errorf("register device %s: %w", svr.name, err)
		}
	}
	zap.L().Info("device serving", zap.String("device", svr.name), zap.Stringer("addr", listener.Addr()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.mu.Lock()
		if svr.shutdown.Load() {
			svr.mu.Unlock()
			conn.Close()
			return nil
		}
		svr.conns[conn] = struct{}{}
		svr.mu.Unlock()
		go svr.handleConn(conn)
	}
}

// Addr returns the listening address, or nil before serving.
func (svr *Server) Addr() net.Addr {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// handleConn reads frames sequentially and dispatches each request to its own
// goroutine. writeMu keeps concurrent responses from interleaving on the wire.
func (svr *Server) handleConn(conn net.Conn) {
	defer func() {
		conn.Close()
		svr.mu.Lock()
		delete(svr.conns, conn)
		svr.mu.Unlock()
	}()

	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !svr.shutdown.Load() && !errors.Is(err, net.ErrClosed) {
				zap.L().Debug("connection ended", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}
		// Shutdown flips the flag under the write lock, so once it waits no new request is counted.
		svr.mu.RLock()
		if svr.shutdown.Load() {
			svr.mu.RUnlock()
			return
		}
		svr.wg.Add(1)
		svr.mu.RUnlock()
		go svr.handleRequest(header, body, conn, writeMu)
	}
}

// handleRequest decodes one request, runs the handler chain, and writes the
// response under the request's id and codec.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	req := &message.RPCMessage{}
	var resp *message.RPCMessage
	if err := c.Decode(body, req); err != nil {
		resp = message.ErrorResponse(req, value.NewError(value.CodeInvalidRequest, "decode request: %v", err))
	} else {
		svr.mu.RLock()
		handler := svr.handler
		svr.mu.RUnlock()
		resp = handler(context.Background(), req)
	}

	result, err := c.Encode(resp)
	if err != nil {
		zap.L().Error("encode response", zap.String("path", req.Path), zap.String("method", req.Method), zap.Error(err))
		return
	}

	reply := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		RequestID: header.RequestID,
		BodyLen:   uint32(len(result)),
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, &reply, result); err != nil {
		zap.L().Debug("write response", zap.Uint64("requestId", header.RequestID), zap.Error(err))
	}
}

// Shutdown stops the device:
//  1. deregister, so clients stop picking this address
//  2. close the listener
//  3. wait up to timeout for in-flight requests
//  4. close client connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.RLock()
	reg, listener := svr.registry, svr.listener
	svr.mu.RUnlock()

	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := reg.Deregister(ctx, svr.name, svr.advertiseAddr); err != nil {
			zap.L().Warn("deregister device", zap.String("device", svr.name), zap.Error(err))
		}
		cancel()
	}

	// The flag must be set before Close so Serve treats the Accept error as intentional.
	svr.mu.Lock()
	svr.shutdown.Store(true)
	svr.mu.Unlock()
	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	zap.L().Info("device stopped", zap.String("device", svr.name))
	return err
}

// dispatch is the innermost handler: resolve the node and method, check access, call.
func (svr *Server) dispatch(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	params, err := req.Params()
	if err != nil {
		return message.ErrorResponse(req, value.NewError(value.CodeInvalidParams, "params: %v", err))
	}
	path := strings.Trim(req.Path, "/")
	access := method.AccessLevel(req.Access)

	svr.mu.RLock()
	n := svr.nodes[path]
	children := svr.childrenLocked(path)
	svr.mu.RUnlock()

	if n == nil && len(children) == 0 && path != "" {
		return message.ErrorResponse(req, value.NewError(value.CodeMethodNotFound, "no node at path %q", path))
	}

	var result value.Value
	switch req.Method {
	case method.Dir:
		result = dirResult(path, n, params)
	case method.Ls:
		result = lsResult(children)
	default:
		if n == nil {
			return message.ErrorResponse(req, value.NewError(value.CodeMethodNotFound, "method %q not found on %q", req.Method, path))
		}
		mt, ok := n.methods[req.Method]
		if !ok {
			return message.ErrorResponse(req, value.NewError(value.CodeMethodNotFound, "method %q not found on %q", req.Method, path))
		}
		if !access.Allows(mt.desc.Access) {
			return message.ErrorResponse(req, value.NewError(value.CodePermissionDenied,
				"%s:%s requires %s access, caller has %s", path, req.Method, mt.desc.Access, access))
		}
		result, err = n.call(ctx, mt, params)
		if err != nil {
			var ve *value.Error
			if !errors.As(err, &ve) {
				ve = value.NewError(value.CodeMethodCallException, "%v", err)
			}
			return message.ErrorResponse(req, ve)
		}
	}

	resp := &message.RPCMessage{Path: req.Path, Method: req.Method}
	resp.SetOutcome(message.Success(result))
	return resp
}

// childrenLocked lists the names of the direct children of path.
func (svr *Server) childrenLocked(path string) []string {
	prefix := path + "/"
	if path == "" {
		prefix = ""
	}
	seen := make(map[string]struct{})
	for p := range svr.nodes {
		if p == path || !strings.HasPrefix(p, prefix) {
			continue
		}
		child, _, _ := strings.Cut(p[len(prefix):], "/")
		if child != "" {
			seen[child] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// dirResult lists the descriptors of path; a String param selects a single method.
func dirResult(path string, n *node, params value.Value) value.Value {
	var ds []method.Descriptor
	if n != nil {
		ds = n.descriptors()
	} else {
		ds = builtins(path)
	}
	if name, ok := params.(value.String); ok {
		for _, d := range ds {
			if d.Name == string(name) {
				return method.ToDir([]method.Descriptor{d})
			}
		}
		return value.List{}
	}
	return method.ToDir(ds)
}

func lsResult(children []string) value.Value {
	list := make(value.List, len(children))
	for i, c := range children {
		list[i] = value.String(c)
	}
	return list
}
