package server

import (
	"context"
	"fmt"
	"reflect"
	"shvattr/method"
	"shvattr/value"
	"sort"
	"unicode"
	"unicode/utf8"
)

// Annotator lets a node adjust the descriptor of each of its methods, e.g. to
// raise the access level or declare param and result shapes.
type Annotator interface {
	Annotate(d *method.Descriptor)
}

// SignalSource lets a node list the signals it emits. Signals appear in dir but
// cannot be called.
type SignalSource interface {
	Signals() []method.Descriptor
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	valueType   = reflect.TypeOf((*value.Value)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

type methodType struct {
	fn   reflect.Value
	desc method.Descriptor
}

// node is a registered receiver. Every exported method of the form
//
//	func (r *T) Name(ctx context.Context, params value.Value) (value.Value, error)
//
// is callable as "name" (first letter lowered).
type node struct {
	path    string
	rcvr    reflect.Value
	methods map[string]*methodType
	names   []string // callable method names, sorted
	signals []method.Descriptor
}

func newNode(path string, rcvr any) (*node, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: node at %q must be a pointer, got %T", path, rcvr)
	}
	n := &node{
		path:    path,
		rcvr:    reflect.ValueOf(rcvr),
		methods: make(map[string]*methodType),
	}

	annotator, _ := rcvr.(Annotator)
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if !isHandler(m.Type) {
			continue
		}
		name := lowerFirst(m.Name)
		if name == method.Dir || name == method.Ls {
			continue
		}
		desc := defaultDescriptor(path, name)
		if annotator != nil {
			annotator.Annotate(&desc)
			desc.Path, desc.Name = path, name
		}
		n.methods[name] = &methodType{fn: m.Func, desc: desc}
		n.names = append(n.names, name)
	}
	if len(n.methods) == 0 {
		return nil, fmt.Errorf("server: %T has no callable methods", rcvr)
	}
	sort.Strings(n.names)

	if src, ok := rcvr.(SignalSource); ok {
		for _, s := range src.Signals() {
			s.Path = path
			s.Flags |= method.FlagSignal
			n.signals = append(n.signals, s)
		}
	}
	return n, nil
}

func isHandler(t reflect.Type) bool {
	return t.NumIn() == 3 && t.NumOut() == 2 &&
		t.In(1) == contextType && t.In(2) == valueType &&
		t.Out(0) == valueType && t.Out(1) == errorType
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}

func defaultDescriptor(path, name string) method.Descriptor {
	d := method.Descriptor{Path: path, Name: name, Signature: method.RetParam, Access: method.Command}
	switch name {
	case method.Get:
		d.Signature = method.RetVoid
		d.Flags = method.FlagGetter
		d.Access = method.Read
	case method.Set:
		d.Signature = method.VoidParam
		d.Flags = method.FlagSetter
		d.Access = method.Write
	}
	return d
}

// builtins are the methods every path answers.
func builtins(path string) []method.Descriptor {
	return []method.Descriptor{
		{Path: path, Name: method.Dir, Signature: method.RetParam, Access: method.Browse, ParamShape: "String|Null", ResultShape: "List"},
		{Path: path, Name: method.Ls, Signature: method.RetVoid, Access: method.Browse, ResultShape: "List"},
	}
}

// descriptors lists builtins, then callable methods by name, then signals.
func (n *node) descriptors() []method.Descriptor {
	out := builtins(n.path)
	for _, name := range n.names {
		out = append(out, n.methods[name].desc)
	}
	return append(out, n.signals...)
}

// call invokes a handler; a panic becomes an InternalError.
func (n *node) call(ctx context.Context, mt *methodType, params value.Value) (result value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = value.NewError(value.CodeInternalError, "%s:%s panicked: %v", n.path, mt.desc.Name, r)
		}
	}()

	pv := reflect.ValueOf(&params).Elem()
	out := mt.fn.Call([]reflect.Value{n.rcvr, reflect.ValueOf(ctx), pv})
	if e := out[1].Interface(); e != nil {
		return nil, e.(error)
	}
	if v := out[0].Interface(); v != nil {
		return v.(value.Value), nil
	}
	return value.Null{}, nil
}
