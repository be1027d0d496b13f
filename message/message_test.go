package message

import (
	"shvattr/value"
	"testing"
)

func TestOutcomeRoundTrip(t *testing.T) {
	var msg RPCMessage
	msg.SetOutcome(Success(value.Map{"temp": value.Double(21.5)}))
	out := msg.Outcome()
	if out.IsError() {
		t.Fatalf("expect success, got %v", out.Err)
	}
	if !value.Equal(out.Result, value.Map{"temp": value.Double(21.5)}) {
		t.Fatalf("result mismatch: %s", value.Cpon(out.Result))
	}

	msg.SetOutcome(Failure(value.NewError(value.CodeMethodNotFound, "no method")))
	out = msg.Outcome()
	if !out.IsError() || out.Err.Code != value.CodeMethodNotFound || out.Err.Message != "no method" {
		t.Fatalf("unexpected error outcome %+v", out.Err)
	}
	if out.Value() != value.Value(out.Err) {
		t.Fatal("Value() should return the error for failed outcomes")
	}
}

func TestOutcomeBadPayload(t *testing.T) {
	msg := RPCMessage{Payload: []byte("[1,")}
	out := msg.Outcome()
	if !out.IsError() || out.Err.Code != value.CodeParseError {
		t.Fatalf("expect ParseError outcome, got %+v", out)
	}
}

func TestParams(t *testing.T) {
	var msg RPCMessage
	msg.SetParams(nil)
	if v, err := msg.Params(); err != nil || v != nil {
		t.Fatalf("expect no params, got %v %v", v, err)
	}
	msg.SetParams(value.List{value.String("admin"), value.Null{}})
	v, err := msg.Params()
	if err != nil {
		t.Fatal(err)
	}
	if value.Cpon(v) != `["admin",null]` {
		t.Fatalf("params mismatch: %s", value.Cpon(v))
	}
}

func TestErrorWithoutCode(t *testing.T) {
	msg := RPCMessage{Error: "boom"}
	out := msg.Outcome()
	if out.Err.Code != value.CodeMethodCallException {
		t.Fatalf("expect MethodCallException, got %s", out.Err.Code)
	}
}
