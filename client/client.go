// Package client connects to devices found through a registry.
//
// Each device address gets a small pool of multiplexed connections; every
// connection carries its own correlator. Connect picks the instance with the
// balancer, keyed by node path, and hands out the pooled connections round robin.
//
// Dialing an address goes through a circuit breaker: after repeated dial failures
// the address is refused locally for a while instead of being dialed again.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"shvattr/codec"
	"shvattr/correlator"
	"shvattr/loadbalance"
	"shvattr/message"
	"shvattr/method"
	"shvattr/registry"
	"shvattr/transport"
	"shvattr/value"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const DefaultDialTimeout = 5 * time.Second

var ErrClientClosed = errors.New("client: closed")

// Conn is one device connection with its correlator.
type Conn struct {
	*correlator.Correlator
	addr      string
	transport *transport.ClientTransport
}

// Addr returns the device address.
func (cn *Conn) Addr() string {
	return cn.addr
}

// Alive reports whether the underlying connection is still open.
func (cn *Conn) Alive() bool {
	select {
	case <-cn.transport.Done():
		return false
	default:
		return true
	}
}

// Close tears down the connection; pending calls complete with a cancelled error.
func (cn *Conn) Close() error {
	return cn.transport.Close()
}

// Call issues a call and waits for its outcome. A failed call returns the remote
// *value.Error. When ctx ends first the call is forgotten and ctx.Err() returned.
func (cn *Conn) Call(ctx context.Context, path, methodName string, params value.Value, access method.AccessLevel) (value.Value, error) {
	done := make(chan message.Outcome, 1)
	id := cn.Issue(path, methodName, params, access, func(out message.Outcome) { done <- out })
	select {
	case out := <-done:
		if out.IsError() {
			return nil, out.Err
		}
		return out.Result, nil
	case <-ctx.Done():
		cn.Forget(id)
		return nil, fmt.Errorf("%s:%s: %w", path, methodName, ctx.Err())
	}
}

type pool struct {
	next    atomic.Uint64
	conns   []*Conn
	breaker *gobreaker.CircuitBreaker
}

// Breaker settings for dialing one address.
const (
	breakerFailures = 3
	breakerOpenFor  = 10 * time.Second
)

func newBreaker(addr string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        addr,
		MaxRequests: 1,
		Timeout:     breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Info("device dial breaker", zap.String("addr", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
}

// Client dials devices and caches their connections.
type Client struct {
	registry    registry.Registry
	balancer    loadbalance.KeyedBalancer
	codecType   codec.CodecType
	poolSize    int
	dialTimeout time.Duration

	mu     sync.Mutex
	pools  map[string]*pool // addr → connections
	closed bool
}

// NewClient creates a client. reg and bal may be nil when only Dial is used.
func NewClient(reg registry.Registry, bal loadbalance.KeyedBalancer, codecType codec.CodecType, poolSize int) *Client {
	if poolSize < 1 {
		poolSize = 1
	}
	if bal == nil {
		bal = loadbalance.Keyed(&loadbalance.RoundRobinBalancer{})
	}
	return &Client{
		registry:    reg,
		balancer:    bal,
		codecType:   codecType,
		poolSize:    poolSize,
		dialTimeout: DefaultDialTimeout,
		pools:       make(map[string]*pool),
	}
}

// Connect resolves device in the registry and returns a connection to one of its
// instances. path is the balancing key, so the same node keeps hitting the same
// instance under consistent hashing.
func (c *Client) Connect(ctx context.Context, device, path string) (*Conn, error) {
	if c.registry == nil {
		return nil, errors.New("client: no registry configured")
	}
	instances, err := c.registry.Discover(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", device, err)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: %s", registry.ErrNoDevice, device)
	}
	inst, err := c.balancer.PickKey(path, instances)
	if err != nil {
		return nil, err
	}
	ct := c.codecType
	if inst.Codec != "" {
		if parsed, ok := codec.ParseCodecType(inst.Codec); ok {
			ct = parsed
		}
	}
	return c.conn(ctx, inst.Addr, ct)
}

// Dial returns a connection to addr without consulting the registry.
func (c *Client) Dial(ctx context.Context, addr string) (*Conn, error) {
	return c.conn(ctx, addr, c.codecType)
}

func (c *Client) conn(ctx context.Context, addr string, ct codec.CodecType) (*Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}

	p := c.pools[addr]
	if p == nil {
		p = &pool{breaker: newBreaker(addr)}
		c.pools[addr] = p
	}

	// Replace dead connections and fill the pool up to size.
	live := p.conns[:0]
	for _, cn := range p.conns {
		if cn.Alive() {
			live = append(live, cn)
		}
	}
	p.conns = live
	for len(p.conns) < c.poolSize {
		res, err := p.breaker.Execute(func() (interface{}, error) {
			return c.dial(ctx, addr, ct)
		})
		if err != nil {
			if len(p.conns) > 0 {
				break
			}
			return nil, err
		}
		p.conns = append(p.conns, res.(*Conn))
	}

	return p.conns[p.next.Add(1)%uint64(len(p.conns))], nil
}

func (c *Client) dial(ctx context.Context, addr string, ct codec.CodecType) (*Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	t := transport.NewClientTransport(raw, ct)
	zap.L().Debug("device connected", zap.String("addr", addr))
	return &Conn{
		Correlator: correlator.New(t),
		addr:       addr,
		transport:  t,
	}, nil
}

// Close closes every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for addr, p := range c.pools {
		for _, cn := range p.conns {
			cn.Close()
		}
		delete(c.pools, addr)
	}
	return nil
}
