package main

import (
	"context"
	"shvattr/aclnode"
	"shvattr/method"
	"shvattr/value"
	"sync"
	"time"
)

// property is a settable value node.
type property struct {
	mu      sync.Mutex
	val     value.Value
	changed time.Time
}

func newProperty(v value.Value) *property {
	return &property{val: v, changed: time.Now()}
}

func (p *property) Get(ctx context.Context, params value.Value) (value.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.val, nil
}

func (p *property) Set(ctx context.Context, params value.Value) (value.Value, error) {
	if params == nil {
		return nil, value.NewError(value.CodeInvalidParams, "set needs a value")
	}
	p.mu.Lock()
	p.val = params
	p.changed = time.Now()
	p.mu.Unlock()
	return value.Bool(true), nil
}

// LastChange returns the time of the last set, as RFC 3339 text.
func (p *property) LastChange(ctx context.Context, params value.Value) (value.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return value.String(p.changed.Format(time.RFC3339)), nil
}

func (p *property) Annotate(d *method.Descriptor) {
	switch d.Name {
	case method.Get:
		d.ResultShape = "Any"
	case method.Set:
		d.ParamShape, d.ResultShape = "Any", "Bool"
	case "lastChange":
		d.Signature, d.Access, d.ResultShape = method.RetVoid, method.Read, "String"
	}
}

func (p *property) Signals() []method.Descriptor {
	return []method.Descriptor{{Name: method.Chng, Signature: method.VoidParam, Access: method.Read}}
}

// journal is a node whose only useful method returns a large result.
type journal struct {
	lines int
}

func (l *journal) Get(ctx context.Context, params value.Value) (value.Value, error) {
	out := make(value.List, l.lines)
	for i := range out {
		out[i] = value.Map{"seq": value.Int(i), "msg": value.String("sample log line")}
	}
	return out, nil
}

func (l *journal) Annotate(d *method.Descriptor) {
	d.Flags |= method.FlagLargeResultHint
	d.ResultShape = "[{seq: Int, msg: String}]"
}

func seedACL(acl *aclnode.ACL) {
	acl.PutRole("admin", value.Map{"weight": value.Int(100)})
	acl.PutRole("operator", value.Map{"weight": value.Int(50)})
	acl.PutRole("guest", value.Map{"weight": value.Int(0)})
	acl.PutAccess("admin-all", aclnode.Rule{Role: "admin", Pattern: "**", Access: method.Development, Locked: true})
	acl.PutAccess("operator-demo", aclnode.Rule{Role: "operator", Pattern: "demo/**", Access: method.Command})
	acl.PutAccess("operator-log", aclnode.Rule{Role: "operator", Pattern: "demo/log", Access: method.Read})
	acl.PutAccess("guest-browse", aclnode.Rule{Role: "guest", Pattern: "**", Access: method.Browse})
}
