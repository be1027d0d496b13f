package server

import (
	"context"
	"errors"
	"io"
	"net"
	"shvattr/codec"
	"shvattr/message"
	"shvattr/method"
	"shvattr/protocol"
	"shvattr/registry"
	"shvattr/value"
	"sync"
	"testing"
	"time"
)

type thermometer struct {
	mu   sync.Mutex
	temp float64
}

func (t *thermometer) Get(ctx context.Context, params value.Value) (value.Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return value.Double(t.temp), nil
}

func (t *thermometer) Set(ctx context.Context, params value.Value) (value.Value, error) {
	d, ok := params.(value.Double)
	if !ok {
		return nil, value.NewError(value.CodeInvalidParams, "expected Double")
	}
	t.mu.Lock()
	t.temp = float64(d)
	t.mu.Unlock()
	return nil, nil
}

func (t *thermometer) Calibrate(ctx context.Context, params value.Value) (value.Value, error) {
	return nil, errors.New("sensor offline")
}

func (t *thermometer) Explode(ctx context.Context, params value.Value) (value.Value, error) {
	panic("boom")
}

// Not a handler: wrong shape.
func (t *thermometer) Reset() {}

func (t *thermometer) Annotate(d *method.Descriptor) {
	if d.Name == "calibrate" {
		d.Access = method.Service
	}
}

func (t *thermometer) Signals() []method.Descriptor {
	return []method.Descriptor{{Name: method.Chng, Access: method.Read}}
}

func startServer(t *testing.T, reg registry.Registry) (*Server, string) {
	t.Helper()
	svr := NewServer("test-device")
	if err := svr.Register("test/device/temp", &thermometer{temp: 21.5}); err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	go svr.ServeListener(l, addr, reg)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr, addr
}

// rawCall writes one request frame and reads the response, in lockstep.
func rawCall(t *testing.T, conn net.Conn, ct codec.CodecType, id uint64, path, name string, params value.Value, access method.AccessLevel) message.Outcome {
	t.Helper()
	req := message.RPCMessage{Path: path, Method: name, Access: byte(access)}
	req.SetParams(params)
	c := codec.GetCodec(ct)
	body, err := c.Encode(&req)
	if err != nil {
		t.Fatal(err)
	}
	h := protocol.Header{CodecType: byte(ct), MsgType: protocol.MsgTypeRequest, RequestID: id, BodyLen: uint32(len(body))}
	if err := protocol.Encode(conn, &h, body); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, respBody, err := protocol.Decode(conn)
	if err != nil {
		t.Fatal(err)
	}
	if reply.RequestID != id || reply.MsgType != protocol.MsgTypeResponse || reply.CodecType != byte(ct) {
		t.Fatalf("unexpected reply header %+v", reply)
	}
	var resp message.RPCMessage
	if err := c.Decode(respBody, &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Outcome()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeGetAndSet(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		_, addr := startServer(t, nil)
		conn := dial(t, addr)

		out := rawCall(t, conn, ct, 1, "test/device/temp", "get", nil, method.Read)
		if out.IsError() || !value.Equal(out.Result, value.Double(21.5)) {
			t.Fatalf("codec %d: unexpected get outcome %+v", ct, out)
		}
		out = rawCall(t, conn, ct, 2, "test/device/temp", "set", value.Double(30), method.Write)
		if out.IsError() || !value.IsNull(out.Result) {
			t.Fatalf("codec %d: unexpected set outcome %+v", ct, out)
		}
		out = rawCall(t, conn, ct, 3, "/test/device/temp/", "get", nil, method.Read)
		if !value.Equal(out.Result, value.Double(30)) {
			t.Fatalf("codec %d: set did not stick, got %+v", ct, out)
		}
	}
}

func TestServeErrors(t *testing.T) {
	_, addr := startServer(t, nil)
	conn := dial(t, addr)

	cases := []struct {
		name   string
		path   string
		method string
		params value.Value
		access method.AccessLevel
		code   value.ErrorCode
	}{
		{"unknown path", "nowhere", "get", nil, method.Development, value.CodeMethodNotFound},
		{"unknown method", "test/device/temp", "reboot", nil, method.Development, value.CodeMethodNotFound},
		{"wrong shape is not exposed", "test/device/temp", "reset", nil, method.Development, value.CodeMethodNotFound},
		{"insufficient access", "test/device/temp", "set", value.Double(1), method.Read, value.CodePermissionDenied},
		{"annotated access", "test/device/temp", "calibrate", nil, method.Command, value.CodePermissionDenied},
		{"handler value error", "test/device/temp", "set", value.Int(1), method.Write, value.CodeInvalidParams},
		{"handler plain error", "test/device/temp", "calibrate", nil, method.Service, value.CodeMethodCallException},
		{"handler panic", "test/device/temp", "explode", nil, method.Development, value.CodeInternalError},
		{"signals are not callable", "test/device/temp", "chng", nil, method.Development, value.CodeMethodNotFound},
	}
	for i, tc := range cases {
		out := rawCall(t, conn, codec.CodecTypeJSON, uint64(i+1), tc.path, tc.method, tc.params, tc.access)
		if !out.IsError() || out.Err.Code != tc.code {
			t.Errorf("%s: expect %s, got %+v", tc.name, tc.code, out)
		}
	}
}

func TestDirAndLs(t *testing.T) {
	_, addr := startServer(t, nil)
	conn := dial(t, addr)

	out := rawCall(t, conn, codec.CodecTypeJSON, 1, "test/device/temp", method.Dir, nil, method.Browse)
	ds, err := method.FromDir("test/device/temp", out.Result)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, d := range ds {
		names = append(names, d.Name)
	}
	want := []string{"dir", "ls", "calibrate", "explode", "get", "set", "chng"}
	if len(names) != len(want) {
		t.Fatalf("unexpected dir %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected dir %v", names)
		}
	}
	if !ds[6].IsSignal() || ds[4].Access != method.Read || ds[2].Access != method.Service {
		t.Fatalf("unexpected descriptors %+v", ds)
	}

	out = rawCall(t, conn, codec.CodecTypeJSON, 2, "test/device/temp", method.Dir, value.String("get"), method.Browse)
	if l, ok := out.Result.(value.List); !ok || len(l) != 1 {
		t.Fatalf("dir with a name should return one entry, got %s", value.Cpon(out.Value()))
	}

	out = rawCall(t, conn, codec.CodecTypeJSON, 3, "test", method.Ls, nil, method.Browse)
	if !value.Equal(out.Result, value.List{value.String("device")}) {
		t.Fatalf("unexpected ls %s", value.Cpon(out.Value()))
	}
	out = rawCall(t, conn, codec.CodecTypeJSON, 4, "test/device", method.Dir, nil, method.Browse)
	if l, ok := out.Result.(value.List); !ok || len(l) != 2 {
		t.Fatalf("intermediate path should only list builtins, got %s", value.Cpon(out.Value()))
	}
}

func TestRegisterRejects(t *testing.T) {
	svr := NewServer("d")
	if err := svr.Register("a", 42); err == nil {
		t.Fatal("expect error for non-pointer receiver")
	}
	if err := svr.Register("a", &struct{}{}); err == nil {
		t.Fatal("expect error for receiver without handlers")
	}
	if err := svr.Register("a", &thermometer{}); err != nil {
		t.Fatal(err)
	}
	if err := svr.Register("/a/", &thermometer{}); !errors.Is(err, ErrPathTaken) {
		t.Fatalf("expect ErrPathTaken, got %v", err)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svr, addr := startServer(t, reg)

	deadline := time.Now().Add(time.Second)
	for {
		list, _ := reg.Discover(context.Background(), "test-device")
		if len(list) == 1 && list[0].Addr == addr {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("device never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if list, _ := reg.Discover(context.Background(), "test-device"); len(list) != 0 {
		t.Fatalf("device should be deregistered, got %+v", list)
	}
}

func TestShutdownWhileClientSends(t *testing.T) {
	svr, addr := startServer(t, nil)
	conn := dial(t, addr)

	req := message.RPCMessage{Path: "test", Method: method.Ls, Access: byte(method.Browse)}
	req.SetParams(nil)
	body, err := codec.GetCodec(codec.CodecTypeJSON).Encode(&req)
	if err != nil {
		t.Fatal(err)
	}

	go io.Copy(io.Discard, conn)
	conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for id := uint64(1); ; id++ {
			select {
			case <-stop:
				return
			default:
			}
			h := protocol.Header{CodecType: byte(codec.CodecTypeJSON), MsgType: protocol.MsgTypeRequest, RequestID: id, BodyLen: uint32(len(body))}
			if err := protocol.Encode(conn, &h, body); err != nil {
				return
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	close(stop)
	<-stopped
}

func TestLowerFirst(t *testing.T) {
	for in, want := range map[string]string{"Get": "get", "AccessForRole": "accessForRole", "X": "x"} {
		if got := lowerFirst(in); got != want {
			t.Errorf("lowerFirst(%q) = %q, want %q", in, got, want)
		}
	}
}
