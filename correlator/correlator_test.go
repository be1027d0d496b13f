package correlator

import (
	"errors"
	"shvattr/message"
	"shvattr/method"
	"shvattr/value"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeConn records sends; the test delivers responses by hand.
type fakeConn struct {
	mu      sync.Mutex
	next    message.RequestID
	sent    []sentCall
	handler func(message.RequestID, message.Outcome)
	failing error
}

type sentCall struct {
	id     message.RequestID
	path   string
	method string
	params value.Value
	access method.AccessLevel
}

func (f *fakeConn) Send(path, methodName string, params value.Value, access method.AccessLevel) (message.RequestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing != nil {
		return 0, f.failing
	}
	f.next++
	f.sent = append(f.sent, sentCall{f.next, path, methodName, params, access})
	return f.next, nil
}

func (f *fakeConn) OnResponse(h func(message.RequestID, message.Outcome)) {
	f.handler = h
}

func (f *fakeConn) respond(id message.RequestID, out message.Outcome) {
	f.handler(id, out)
}

func TestIssueResolvesOnce(t *testing.T) {
	conn := &fakeConn{}
	c := New(conn)

	var calls []message.Outcome
	id := c.Issue("test/node", "get", nil, method.Read, func(out message.Outcome) {
		calls = append(calls, out)
	})

	if len(conn.sent) != 1 || conn.sent[0].path != "test/node" || conn.sent[0].method != "get" {
		t.Fatalf("unexpected send %+v", conn.sent)
	}
	if c.Pending() != 1 {
		t.Fatalf("expect 1 pending, got %d", c.Pending())
	}
	if len(calls) != 0 {
		t.Fatal("Issue must not complete synchronously")
	}

	conn.respond(id, message.Success(value.Int(7)))
	conn.respond(id, message.Success(value.Int(8)))

	if len(calls) != 1 {
		t.Fatalf("expect exactly one completion, got %d", len(calls))
	}
	if !value.Equal(calls[0].Result, value.Int(7)) {
		t.Fatalf("unexpected result %s", value.Cpon(calls[0].Result))
	}
	if c.Pending() != 0 {
		t.Fatalf("expect no pending, got %d", c.Pending())
	}
}

func TestErrorOutcomeIsData(t *testing.T) {
	conn := &fakeConn{}
	c := New(conn)

	var got message.Outcome
	id := c.Issue("a", "set", value.Int(1), method.Write, func(out message.Outcome) { got = out })
	conn.respond(id, message.Failure(value.NewError(value.CodeInvalidParams, "bad")))

	if !got.IsError() || got.Err.Code != value.CodeInvalidParams {
		t.Fatalf("expect InvalidParams outcome, got %+v", got)
	}
}

func TestUnknownResponseDiscarded(t *testing.T) {
	conn := &fakeConn{}
	c := New(conn)
	// Nothing registered: must not panic and must leave state untouched.
	conn.respond(42, message.Success(value.Null{}))
	if c.Pending() != 0 {
		t.Fatal("unexpected pending call")
	}
}

func TestForgetDiscardsLateResponse(t *testing.T) {
	conn := &fakeConn{}
	c := New(conn)

	fired := false
	id := c.Issue("a", "get", nil, method.Read, func(message.Outcome) { fired = true })
	if !c.Forget(id) {
		t.Fatal("Forget should report a removed waiter")
	}
	if c.Forget(id) {
		t.Fatal("second Forget should report nothing removed")
	}
	conn.respond(id, message.Success(value.Int(1)))
	if fired {
		t.Fatal("forgotten call must not complete")
	}
}

func TestSendFailureCompletesAsynchronously(t *testing.T) {
	conn := &fakeConn{failing: errors.New("broken pipe")}
	c := New(conn)

	done := make(chan message.Outcome, 1)
	id := c.Issue("a", "get", nil, method.Read, func(out message.Outcome) { done <- out })
	if id == 0 {
		t.Fatal("a refused call still needs a request id")
	}

	select {
	case out := <-done:
		if !out.IsError() || out.Err.Code != value.CodeMethodCallException {
			t.Fatalf("expect MethodCallException, got %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("refused call never completed")
	}
	if c.Pending() != 0 {
		t.Fatalf("expect no pending, got %d", c.Pending())
	}
}

func TestConcurrentIssueAndResolve(t *testing.T) {
	conn := &fakeConn{}
	c := New(conn)

	const n = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0
	ids := make(chan message.RequestID, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- c.Issue("a", "get", nil, method.Read, func(message.Outcome) {
				mu.Lock()
				completed++
				mu.Unlock()
			})
		}()
	}

	var rg sync.WaitGroup
	rg.Add(1)
	go func() {
		defer rg.Done()
		for i := 0; i < n; i++ {
			conn.respond(<-ids, message.Success(value.Null{}))
		}
	}()
	wg.Wait()
	rg.Wait()

	if completed != n {
		t.Fatalf("expect %d completions, got %d", n, completed)
	}
}

func TestOutstandingSumsAcrossCorrelators(t *testing.T) {
	base := testutil.ToFloat64(outstanding)
	connA, connB := &fakeConn{}, &fakeConn{}
	a, b := New(connA), New(connB)

	idA := a.Issue("a", "get", nil, method.Read, nil)
	b.Issue("b", "get", nil, method.Read, nil)
	idB := b.Issue("b", "set", value.Int(1), method.Write, nil)
	if got := testutil.ToFloat64(outstanding) - base; got != 3 {
		t.Fatalf("expect 3 outstanding, got %v", got)
	}

	connA.respond(idA, message.Success(nil))
	connA.respond(idA, message.Success(nil))
	b.Forget(idB)
	b.Forget(idB)
	if got := testutil.ToFloat64(outstanding) - base; got != 1 {
		t.Fatalf("expect 1 outstanding, got %v", got)
	}
}
