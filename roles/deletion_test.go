package roles

import (
	"context"
	"errors"
	"shvattr/correlator"
	"shvattr/message"
	"shvattr/method"
	"shvattr/value"
	"testing"
	"time"
)

type call struct {
	id     message.RequestID
	path   string
	method string
	params value.Value
	access method.AccessLevel
}

// fakeBroker records calls; the test answers the most recent one.
type fakeBroker struct {
	next    message.RequestID
	calls   []call
	handler func(message.RequestID, message.Outcome)
}

func (b *fakeBroker) Send(path, methodName string, params value.Value, access method.AccessLevel) (message.RequestID, error) {
	b.next++
	b.calls = append(b.calls, call{b.next, path, methodName, params, access})
	return b.next, nil
}

func (b *fakeBroker) OnResponse(h func(message.RequestID, message.Outcome)) {
	b.handler = h
}

func (b *fakeBroker) last(t *testing.T) call {
	t.Helper()
	if len(b.calls) == 0 {
		t.Fatal("no call issued")
	}
	return b.calls[len(b.calls)-1]
}

func (b *fakeBroker) answer(t *testing.T, out message.Outcome) {
	t.Helper()
	b.handler(b.last(t).id, out)
}

type run struct {
	broker  *fakeBroker
	del     *Deletion
	reports []Report
	steps   []State
}

func start(t *testing.T, role string) *run {
	t.Helper()
	r := &run{broker: &fakeBroker{}}
	corr := correlator.New(r.broker)
	r.del = NewDeletion(corr, DefaultPlan(".broker/acl"), role, func(rep Report) {
		r.reports = append(r.reports, rep)
	})
	r.del.OnTransition(func(s State, _ int) { r.steps = append(r.steps, s) })
	if err := r.del.Start(); err != nil {
		t.Fatal(err)
	}
	return r
}

func ok(v value.Value) message.Outcome { return message.Success(v) }

func denied() message.Outcome {
	return message.Failure(value.NewError(value.CodePermissionDenied, "denied"))
}

func entries(names ...string) value.Value {
	l := value.List{}
	for _, n := range names {
		l = append(l, value.String(n))
	}
	return l
}

func TestDeleteRoleWithDependents(t *testing.T) {
	r := start(t, "operator")
	b := r.broker

	first := b.last(t)
	if first.path != ".broker/acl/access" || first.method != MethodAccessForRole || first.access != method.Service {
		t.Fatalf("unexpected enumeration call %+v", first)
	}
	if !value.Equal(first.params, value.String("operator")) {
		t.Fatalf("unexpected params %s", value.Cpon(first.params))
	}
	b.answer(t, ok(entries("a1", "a2")))

	for _, name := range []string{"a1", "a2"} {
		c := b.last(t)
		want := value.List{value.String(name), value.Null{}}
		if c.method != method.SetValue || !value.Equal(c.params, want) {
			t.Fatalf("unexpected delete call %+v", c)
		}
		b.answer(t, ok(value.Bool(true)))
	}

	target := b.last(t)
	if target.path != ".broker/acl/roles" || !value.Equal(target.params, value.List{value.String("operator"), value.Null{}}) {
		t.Fatalf("unexpected target call %+v", target)
	}
	if r.del.State() != DeletingTarget {
		t.Fatalf("expect DeletingTarget, got %s", r.del.State())
	}
	b.answer(t, ok(value.Null{}))

	if len(r.reports) != 1 {
		t.Fatalf("expect one report, got %d", len(r.reports))
	}
	rep := r.reports[0]
	if rep.State != Done || rep.Err != nil || rep.Role != "operator" || len(rep.Deleted) != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.ID != r.del.ID() || rep.ID == "" {
		t.Fatal("report should carry the run id")
	}
	r.expectSteps(t, EnumeratingDependents, DeletingDependents, DeletingDependents, DeletingTarget, Done)
}

func (r *run) expectSteps(t *testing.T, want ...State) {
	t.Helper()
	if len(r.steps) != len(want) {
		t.Fatalf("unexpected transitions %v, want %v", r.steps, want)
	}
	for i := range want {
		if r.steps[i] != want[i] {
			t.Fatalf("transition %d: got %s, want %s", i, r.steps[i], want[i])
		}
	}
}

func TestNoDependentsGoesStraightToTarget(t *testing.T) {
	r := start(t, "guest")
	r.broker.answer(t, ok(value.List{}))

	if r.del.State() != DeletingTarget {
		t.Fatalf("expect DeletingTarget, got %s", r.del.State())
	}
	if len(r.broker.calls) != 2 {
		t.Fatalf("expect enumeration and target calls only, got %d", len(r.broker.calls))
	}
	r.broker.answer(t, ok(value.Null{}))
	if len(r.reports) != 1 || r.reports[0].State != Done {
		t.Fatalf("unexpected reports %+v", r.reports)
	}
	r.expectSteps(t, EnumeratingDependents, DeletingTarget, Done)
}

func TestDependentFailureStopsCascade(t *testing.T) {
	r := start(t, "operator")
	b := r.broker
	b.answer(t, ok(entries("a1", "a2", "a3")))
	b.answer(t, ok(value.Bool(true)))
	b.answer(t, denied())

	if len(b.calls) != 3 {
		t.Fatalf("third entry and role must never be attempted, got %d calls", len(b.calls))
	}
	if r.del.State() != Failed {
		t.Fatalf("expect Failed, got %s", r.del.State())
	}
	rep := r.reports[0]
	if rep.Step != DeletingDependents || rep.Entry != "a2" {
		t.Fatalf("report should name the failed entry, got %+v", rep)
	}
	if rep.Err == nil || rep.Err.Code != value.CodePermissionDenied {
		t.Fatalf("report should carry the remote error, got %v", rep.Err)
	}
	if len(rep.Deleted) != 1 || rep.Deleted[0] != "a1" {
		t.Fatalf("a1 stays deleted, got %v", rep.Deleted)
	}
}

func TestEnumerationFailure(t *testing.T) {
	r := start(t, "operator")
	r.broker.answer(t, denied())

	if len(r.broker.calls) != 1 {
		t.Fatal("role must never be deleted after a failed enumeration")
	}
	if len(r.reports) != 1 || r.reports[0].Step != EnumeratingDependents {
		t.Fatalf("unexpected reports %+v", r.reports)
	}
}

func TestEnumerationMalformed(t *testing.T) {
	r := start(t, "operator")
	r.broker.answer(t, ok(value.Int(3)))

	if r.del.State() != Failed || len(r.broker.calls) != 1 {
		t.Fatal("a malformed listing must fail the run")
	}
	if r.reports[0].Err.Code != value.CodeInternalError {
		t.Fatalf("unexpected error %v", r.reports[0].Err)
	}
}

func TestTargetFailure(t *testing.T) {
	r := start(t, "operator")
	r.broker.answer(t, ok(value.Null{}))
	r.broker.answer(t, denied())

	rep := r.reports[0]
	if rep.State != Failed || rep.Step != DeletingTarget {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestStartTwice(t *testing.T) {
	r := start(t, "operator")
	if err := r.del.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expect ErrAlreadyStarted, got %v", err)
	}
	if len(r.broker.calls) != 1 {
		t.Fatal("second Start must not issue calls")
	}
}

func TestRunHonoursContext(t *testing.T) {
	b := &fakeBroker{}
	corr := correlator.New(b)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Run(ctx, corr, DefaultPlan("acl"), "operator")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline error, got %v", err)
	}
}

func TestDecodeStringList(t *testing.T) {
	got, err := DecodeStringList(entries("x", "y"))
	if err != nil || len(got) != 2 || got[1] != "y" {
		t.Fatalf("unexpected %v %v", got, err)
	}
	if _, err := DecodeStringList(value.List{value.Int(1)}); err == nil {
		t.Fatal("expect error for non-string item")
	}
	if got, err := DecodeStringList(nil); err != nil || got != nil {
		t.Fatal("nil is an empty listing")
	}
}
