// Package roles implements role deletion on a broker's access control lists.
//
// A role cannot be removed while access entries still reference it, so Deletion
// runs a cascade of remote calls:
//
//	Idle → EnumeratingDependents → DeletingDependents(i of N) → DeletingTarget → Done
//	                       │                     │                     │
//	                       └─────────────────────┴─────────────────────┴──→ Failed
//
// The first failing call ends the run. Entries deleted before the failure stay
// deleted and the role is left in place; nothing is rolled back or retried.
package roles

import (
	"context"
	"errors"
	"fmt"
	"shvattr/correlator"
	"shvattr/message"
	"shvattr/value"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// State is a step of the deletion cascade.
type State int

const (
	Idle State = iota
	EnumeratingDependents
	DeletingDependents
	DeletingTarget
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case EnumeratingDependents:
		return "EnumeratingDependents"
	case DeletingDependents:
		return "DeletingDependents"
	case DeletingTarget:
		return "DeletingTarget"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the run is over.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

var ErrAlreadyStarted = errors.New("roles: deletion already started")

// Report is the final result of a run, delivered once to the sink.
type Report struct {
	ID      string // run id, for log correlation
	Role    string
	State   State        // Done or Failed
	Step    State        // the step that failed; Idle when Done
	Entry   string       // the dependent entry whose deletion failed, if any
	Err     *value.Error // first failure; nil when Done
	Deleted []string     // dependent entries removed before the run ended
}

// Sink receives the final report.
type Sink func(Report)

// Deletion is one run of the cascade for one role.
type Deletion struct {
	id     string
	issuer correlator.Issuer
	plan   Plan
	role   string
	sink   Sink

	mu           sync.Mutex
	state        State
	index        int
	entries      []string
	deleted      []string
	reported     bool
	onTransition func(s State, index int)
}

// NewDeletion prepares a run; nothing is sent until Start.
func NewDeletion(issuer correlator.Issuer, plan Plan, role string, sink Sink) *Deletion {
	return &Deletion{
		id:     ulid.Make().String(),
		issuer: issuer,
		plan:   plan,
		role:   role,
		sink:   sink,
	}
}

// ID returns the run id.
func (d *Deletion) ID() string {
	return d.id
}

// OnTransition registers a hook called on every state entry; index is the dependent
// being deleted in DeletingDependents and zero otherwise. Set it before Start.
func (d *Deletion) OnTransition(f func(s State, index int)) {
	d.mu.Lock()
	d.onTransition = f
	d.mu.Unlock()
}

// State returns the current step.
func (d *Deletion) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Progress returns the current step, the dependent index and the number of dependents.
func (d *Deletion) Progress() (State, int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.index, len(d.entries)
}

// Start issues the first call. It returns immediately; the report arrives through the sink.
func (d *Deletion) Start() error {
	d.mu.Lock()
	if d.state != Idle {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.mu.Unlock()

	zap.L().Info("role deletion started", zap.String("run", d.id), zap.String("role", d.role))
	d.enter(EnumeratingDependents, 0)
	d.issue(d.plan.ListDependents(d.role), d.onDependents)
	return nil
}

func (d *Deletion) enter(s State, index int) {
	d.mu.Lock()
	d.state = s
	d.index = index
	hook := d.onTransition
	d.mu.Unlock()

	zap.L().Debug("role deletion step", zap.String("run", d.id), zap.Stringer("state", s), zap.Int("index", index))
	if hook != nil {
		hook(s, index)
	}
}

func (d *Deletion) issue(c Call, next correlator.Completion) {
	d.issuer.Issue(c.Path, c.Method, c.Params, c.Access, next)
}

func (d *Deletion) onDependents(out message.Outcome) {
	if out.IsError() {
		d.fail(EnumeratingDependents, "", out.Err)
		return
	}
	entries, err := d.plan.DecodeDependents(out.Result)
	if err != nil {
		d.fail(EnumeratingDependents, "", value.NewError(value.CodeInternalError, "list dependents of %q: %v", d.role, err))
		return
	}
	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
	d.deleteDependent(0)
}

// deleteDependent deletes entry i, or moves on to the role once all are gone.
func (d *Deletion) deleteDependent(i int) {
	d.mu.Lock()
	n := len(d.entries)
	var entry string
	if i < n {
		entry = d.entries[i]
	}
	d.mu.Unlock()

	if i >= n {
		d.enter(DeletingTarget, 0)
		d.issue(d.plan.DeleteTarget(d.role), d.onTargetDeleted)
		return
	}

	d.enter(DeletingDependents, i)
	d.issue(d.plan.DeleteDependent(entry), func(out message.Outcome) {
		if out.IsError() {
			d.fail(DeletingDependents, entry, out.Err)
			return
		}
		d.mu.Lock()
		d.deleted = append(d.deleted, entry)
		d.mu.Unlock()
		d.deleteDependent(i + 1)
	})
}

func (d *Deletion) onTargetDeleted(out message.Outcome) {
	if out.IsError() {
		d.fail(DeletingTarget, "", out.Err)
		return
	}
	d.enter(Done, 0)
	zap.L().Info("role deleted", zap.String("run", d.id), zap.String("role", d.role))
	d.report(Report{State: Done})
}

func (d *Deletion) fail(step State, entry string, err *value.Error) {
	d.enter(Failed, 0)
	zap.L().Warn("role deletion failed",
		zap.String("run", d.id),
		zap.String("role", d.role),
		zap.Stringer("step", step),
		zap.String("entry", entry),
		zap.Error(err))
	d.report(Report{State: Failed, Step: step, Entry: entry, Err: err})
}

func (d *Deletion) report(r Report) {
	d.mu.Lock()
	if d.reported {
		d.mu.Unlock()
		return
	}
	d.reported = true
	r.ID = d.id
	r.Role = d.role
	r.Deleted = append([]string(nil), d.deleted...)
	sink := d.sink
	d.mu.Unlock()

	if sink != nil {
		sink(r)
	}
}

// Run starts a deletion of role and waits for its report or for ctx to end.
// When ctx ends first the run keeps going remotely; only the wait is abandoned.
func Run(ctx context.Context, issuer correlator.Issuer, plan Plan, role string) (Report, error) {
	done := make(chan Report, 1)
	d := NewDeletion(issuer, plan, role, func(r Report) { done <- r })
	if err := d.Start(); err != nil {
		return Report{}, err
	}
	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		return Report{}, fmt.Errorf("role deletion %s: %w", d.ID(), ctx.Err())
	}
}
