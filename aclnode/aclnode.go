// Package aclnode serves an in-memory access control list in the shape a broker
// exposes it: a "roles" node holding role definitions and an "access" node holding
// access entries that grant a role some access level on a path pattern.
//
// A role still referenced by an access entry cannot be deleted; the entries have to
// go first. Locked entries refuse deletion.
package aclnode

import (
	"context"
	"fmt"
	"shvattr/method"
	"shvattr/roles"
	"shvattr/server"
	"shvattr/value"
	"sort"
	"sync"
)

// Rule is one access entry.
type Rule struct {
	Role    string
	Pattern string
	Access  method.AccessLevel
	Locked  bool
}

func (r Rule) toValue() value.Value {
	m := value.Map{
		"role":    value.String(r.Role),
		"pattern": value.String(r.Pattern),
		"access":  value.String(r.Access.String()),
	}
	if r.Locked {
		m["locked"] = value.Bool(true)
	}
	return m
}

func ruleFromValue(v value.Value) (Rule, error) {
	m, ok := v.(value.Map)
	if !ok {
		return Rule{}, fmt.Errorf("access entry must be a Map")
	}
	role, ok := m["role"].(value.String)
	if !ok || role == "" {
		return Rule{}, fmt.Errorf("access entry needs a role")
	}
	r := Rule{Role: string(role), Access: method.Read}
	if p, ok := m["pattern"].(value.String); ok {
		r.Pattern = string(p)
	}
	if a, ok := m["access"].(value.String); ok {
		al, err := method.ParseAccessLevel(string(a))
		if err != nil {
			return Rule{}, err
		}
		r.Access = al
	}
	if l, ok := m["locked"].(value.Bool); ok {
		r.Locked = bool(l)
	}
	return r, nil
}

// ACL is the shared state behind both nodes.
type ACL struct {
	mu     sync.Mutex
	roles  map[string]value.Value // role → definition
	access map[string]Rule        // entry name → rule
}

func New() *ACL {
	return &ACL{
		roles:  make(map[string]value.Value),
		access: make(map[string]Rule),
	}
}

// PutRole defines or replaces a role.
func (a *ACL) PutRole(role string, def value.Value) {
	if def == nil {
		def = value.Map{}
	}
	a.mu.Lock()
	a.roles[role] = def
	a.mu.Unlock()
}

// PutAccess defines or replaces an access entry.
func (a *ACL) PutAccess(entry string, r Rule) {
	a.mu.Lock()
	a.access[entry] = r
	a.mu.Unlock()
}

// HasRole reports whether role is defined.
func (a *ACL) HasRole(role string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.roles[role]
	return ok
}

// Entries returns the names of all access entries, sorted.
func (a *ACL) Entries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedKeys(a.access)
}

// Mount registers the roles and access nodes under aclPath.
func (a *ACL) Mount(svr *server.Server, aclPath string) error {
	if err := svr.Register(aclPath+"/"+roles.RolesNode, &rolesNode{acl: a}); err != nil {
		return err
	}
	return svr.Register(aclPath+"/"+roles.AccessNode, &accessNode{acl: a})
}

func (a *ACL) referencesLocked(role string) []string {
	var out []string
	for name, r := range a.access {
		if r.Role == role {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func stringList(ss []string) value.List {
	l := make(value.List, len(ss))
	for i, s := range ss {
		l[i] = value.String(s)
	}
	return l
}

// keyAndValue splits ["key", value] params.
func keyAndValue(params value.Value) (string, value.Value, error) {
	l, ok := params.(value.List)
	if !ok || len(l) != 2 {
		return "", nil, value.NewError(value.CodeInvalidParams, "expected [key, value]")
	}
	key, ok := l[0].(value.String)
	if !ok || key == "" {
		return "", nil, value.NewError(value.CodeInvalidParams, "key must be a non-empty String")
	}
	return string(key), l[1], nil
}

func keyParam(params value.Value) (string, error) {
	s, ok := params.(value.String)
	if !ok {
		return "", value.NewError(value.CodeInvalidParams, "expected String")
	}
	return string(s), nil
}

type rolesNode struct {
	acl *ACL
}

func (n *rolesNode) Annotate(d *method.Descriptor) {
	switch d.Name {
	case method.SetValue:
		d.Signature, d.Access, d.ParamShape = method.VoidParam, method.Service, "[String, Map|Null]"
	default:
		d.Access = method.Read
	}
}

// Keys lists role names.
func (n *rolesNode) Keys(ctx context.Context, params value.Value) (value.Value, error) {
	n.acl.mu.Lock()
	defer n.acl.mu.Unlock()
	return stringList(sortedKeys(n.acl.roles)), nil
}

// Value returns a role definition, or null.
func (n *rolesNode) Value(ctx context.Context, params value.Value) (value.Value, error) {
	role, err := keyParam(params)
	if err != nil {
		return nil, err
	}
	n.acl.mu.Lock()
	defer n.acl.mu.Unlock()
	if def, ok := n.acl.roles[role]; ok {
		return def, nil
	}
	return value.Null{}, nil
}

// SetValue defines a role, or deletes it when the value is null.
func (n *rolesNode) SetValue(ctx context.Context, params value.Value) (value.Value, error) {
	role, def, err := keyAndValue(params)
	if err != nil {
		return nil, err
	}
	n.acl.mu.Lock()
	defer n.acl.mu.Unlock()
	if !value.IsNull(def) {
		n.acl.roles[role] = def
		return value.Bool(true), nil
	}
	if _, ok := n.acl.roles[role]; !ok {
		return nil, value.NewError(value.CodeInvalidParams, "role %q does not exist", role)
	}
	if refs := n.acl.referencesLocked(role); len(refs) > 0 {
		return nil, value.NewError(value.CodeMethodCallException, "role %q is still used by %d access entries", role, len(refs))
	}
	delete(n.acl.roles, role)
	return value.Bool(true), nil
}

type accessNode struct {
	acl *ACL
}

func (n *accessNode) Annotate(d *method.Descriptor) {
	switch d.Name {
	case method.SetValue:
		d.Signature, d.Access, d.ParamShape = method.VoidParam, method.Service, "[String, Map|Null]"
	case roles.MethodAccessForRole:
		d.Access, d.ParamShape, d.ResultShape = method.Service, "String", "[String]"
	default:
		d.Access = method.Read
	}
}

// Keys lists access entry names.
func (n *accessNode) Keys(ctx context.Context, params value.Value) (value.Value, error) {
	n.acl.mu.Lock()
	defer n.acl.mu.Unlock()
	return stringList(sortedKeys(n.acl.access)), nil
}

// Value returns an access entry, or null.
func (n *accessNode) Value(ctx context.Context, params value.Value) (value.Value, error) {
	entry, err := keyParam(params)
	if err != nil {
		return nil, err
	}
	n.acl.mu.Lock()
	defer n.acl.mu.Unlock()
	if r, ok := n.acl.access[entry]; ok {
		return r.toValue(), nil
	}
	return value.Null{}, nil
}

// AccessForRole lists the entries granting to a role.
func (n *accessNode) AccessForRole(ctx context.Context, params value.Value) (value.Value, error) {
	role, err := keyParam(params)
	if err != nil {
		return nil, err
	}
	n.acl.mu.Lock()
	defer n.acl.mu.Unlock()
	return stringList(n.acl.referencesLocked(role)), nil
}

// SetValue defines an access entry, or deletes it when the value is null.
func (n *accessNode) SetValue(ctx context.Context, params value.Value) (value.Value, error) {
	entry, v, err := keyAndValue(params)
	if err != nil {
		return nil, err
	}
	n.acl.mu.Lock()
	defer n.acl.mu.Unlock()
	if value.IsNull(v) {
		r, ok := n.acl.access[entry]
		if !ok {
			return nil, value.NewError(value.CodeInvalidParams, "access entry %q does not exist", entry)
		}
		if r.Locked {
			return nil, value.NewError(value.CodePermissionDenied, "access entry %q is locked", entry)
		}
		delete(n.acl.access, entry)
		return value.Bool(true), nil
	}
	r, err := ruleFromValue(v)
	if err != nil {
		return nil, value.NewError(value.CodeInvalidParams, "%v", err)
	}
	if _, ok := n.acl.roles[r.Role]; !ok {
		return nil, value.NewError(value.CodeInvalidParams, "role %q does not exist", r.Role)
	}
	n.acl.access[entry] = r
	return value.Bool(true), nil
}
