// Package value defines the structured value carried by remote calls.
//
// A Value is one of Null, Bool, Int, Double, String, Bytes, List, Map or *Error.
// Every value has a canonical textual notation (see Cpon and Parse) and a
// pretty-printed form (see Pretty). The notation round-trips:
//
//	Parse(Cpon(v)) == v   for every representable v
//
// Doubles that are NaN or infinite have no notation and are written as null.
package value

import (
	"bytes"
	"fmt"
	"sort"
)

// Kind identifies the variant held by a Value.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindBytes
	KindList
	KindMap
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindDouble:
		return "Double"
	case KindString:
		return "String"
	case KindBytes:
		return "Bytes"
	case KindList:
		return "List"
	case KindMap:
		return "Map"
	case KindError:
		return "Error"
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// Value is the tagged union of remote call payloads.
type Value interface {
	Kind() Kind
}

type (
	Null   struct{}
	Bool   bool
	Int    int64
	Double float64
	String string
	Bytes  []byte
	List   []Value
	Map    map[string]Value
)

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Int) Kind() Kind    { return KindInt }
func (Double) Kind() Kind { return KindDouble }
func (String) Kind() Kind { return KindString }
func (Bytes) Kind() Kind  { return KindBytes }
func (List) Kind() Kind   { return KindList }
func (Map) Kind() Kind    { return KindMap }

// IsError reports whether v is an error value.
func IsError(v Value) bool {
	_, ok := v.(*Error)
	return ok
}

// IsNull reports whether v is nil, Null or a nil *Error.
func IsNull(v Value) bool {
	switch x := v.(type) {
	case nil, Null:
		return true
	case *Error:
		return x == nil
	}
	return false
}

// Keys returns the map keys in canonical (sorted) order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether a and b hold the same structured value.
// A nil Value and a nil *Error equal Null.
func Equal(a, b Value) bool {
	if IsNull(a) {
		a = Null{}
	}
	if IsNull(b) {
		b = Null{}
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Null:
		return true
	case Bool:
		return av == b.(Bool)
	case Int:
		return av == b.(Int)
	case Double:
		return av == b.(Double)
	case String:
		return av == b.(String)
	case Bytes:
		return bytes.Equal(av, b.(Bytes))
	case List:
		bv := b.(List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv := b.(Map)
		if len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !Equal(x, y) {
				return false
			}
		}
		return true
	case *Error:
		bv := b.(*Error)
		return av.Code == bv.Code && av.Message == bv.Message
	}
	return false
}
