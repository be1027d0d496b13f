package roles

import (
	"fmt"
	"shvattr/method"
	"shvattr/value"
)

// Call is one remote call of the cascade.
type Call struct {
	Path   string
	Method string
	Params value.Value
	Access method.AccessLevel
}

// Plan maps the steps of a deletion onto concrete remote calls.
type Plan struct {
	ListDependents   func(role string) Call
	DecodeDependents func(v value.Value) ([]string, error)
	DeleteDependent  func(entry string) Call
	DeleteTarget     func(role string) Call
}

const (
	MethodAccessForRole = "accessForRole"

	// RolesNode and AccessNode are the children of an ACL node.
	RolesNode  = "roles"
	AccessNode = "access"
)

// DefaultPlan targets the broker ACL node at aclPath:
//
//	<aclPath>/access:accessForRole(role)  -> ["entry", ...]
//	<aclPath>/access:setValue(["entry", null])
//	<aclPath>/roles:setValue(["role", null])
//
// Setting a key to null removes it.
func DefaultPlan(aclPath string) Plan {
	access := joinPath(aclPath, AccessNode)
	roles := joinPath(aclPath, RolesNode)
	return Plan{
		ListDependents: func(role string) Call {
			return Call{Path: access, Method: MethodAccessForRole, Params: value.String(role), Access: method.Service}
		},
		DecodeDependents: DecodeStringList,
		DeleteDependent: func(entry string) Call {
			return Call{Path: access, Method: method.SetValue, Params: value.List{value.String(entry), value.Null{}}, Access: method.Service}
		},
		DeleteTarget: func(role string) Call {
			return Call{Path: roles, Method: method.SetValue, Params: value.List{value.String(role), value.Null{}}, Access: method.Service}
		},
	}
}

// DecodeStringList accepts a list of strings; null is an empty list.
func DecodeStringList(v value.Value) ([]string, error) {
	if value.IsNull(v) {
		return nil, nil
	}
	list, ok := v.(value.List)
	if !ok {
		return nil, fmt.Errorf("expected list, got %s", v.Kind())
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(value.String)
		if !ok {
			return nil, fmt.Errorf("item %d: expected string, got %s", i, kindOf(item))
		}
		out = append(out, string(s))
	}
	return out, nil
}

func kindOf(v value.Value) value.Kind {
	if v == nil {
		return value.KindNull
	}
	return v.Kind()
}

func joinPath(base, child string) string {
	if base == "" {
		return child
	}
	return base + "/" + child
}
