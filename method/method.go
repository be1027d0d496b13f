// Package method describes the callable methods of a remote node.
//
// A Descriptor is static metadata loaded once per node; its identity is the pair
// (Path, Name). Descriptors travel over the wire as the result of the "dir" method,
// a list of maps decoded by FromDir and produced by ToDir.
package method

import (
	"fmt"
	"strings"
)

// Well-known method names.
const (
	Dir      = "dir"
	Ls       = "ls"
	Get      = "get"
	Set      = "set"
	Chng     = "chng"
	SetValue = "setValue"
)

// AccessLevel is the ordered permission tier required to call a method.
type AccessLevel byte

const (
	Browse AccessLevel = iota + 1
	Read
	Write
	Command
	Service
	SuperService
	Development
)

var accessNames = []string{"", "bws", "rd", "wr", "cmd", "srv", "ssrv", "dev"}

func (a AccessLevel) String() string {
	if int(a) < len(accessNames) && a > 0 {
		return accessNames[a]
	}
	return fmt.Sprintf("AccessLevel(%d)", byte(a))
}

// ParseAccessLevel accepts the short names returned by String.
func ParseAccessLevel(s string) (AccessLevel, error) {
	for i, name := range accessNames {
		if i > 0 && strings.EqualFold(s, name) {
			return AccessLevel(i), nil
		}
	}
	return 0, fmt.Errorf("method: unknown access level %q", s)
}

// Allows reports whether a caller at level a may call a method requiring required.
func (a AccessLevel) Allows(required AccessLevel) bool {
	return a >= required
}

// Signature is the coarse shape of a method's params and result.
type Signature byte

const (
	VoidVoid Signature = iota
	VoidParam
	RetVoid
	RetParam
)

var signatureNames = []string{"VoidVoid", "VoidParam", "RetVoid", "RetParam"}

func (s Signature) String() string {
	if int(s) < len(signatureNames) {
		return signatureNames[s]
	}
	return fmt.Sprintf("Signature(%d)", byte(s))
}

// TakesParam reports whether the signature declares a parameter.
func (s Signature) TakesParam() bool {
	return s == VoidParam || s == RetParam
}

// Flags is a bit set of method properties.
type Flags uint32

const (
	FlagSignal Flags = 1 << iota
	FlagGetter
	FlagSetter
	FlagLargeResultHint
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagSignal, "SIG"},
	{FlagGetter, "G"},
	{FlagSetter, "S"},
	{FlagLargeResultHint, "L"},
}

// String lists the set flags, comma separated.
func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, ",")
}

// Has reports whether all bits of g are set.
func (f Flags) Has(g Flags) bool {
	return f&g == g
}

// Descriptor is immutable metadata for one callable method.
type Descriptor struct {
	Path        string // owner node
	Name        string
	Signature   Signature
	ParamShape  string // free-form, e.g. "[String, Null]"
	ResultShape string
	Flags       Flags
	Access      AccessLevel
}

// ID is the identity of a descriptor.
type ID struct {
	Path string
	Name string
}

func (d Descriptor) ID() ID {
	return ID{Path: d.Path, Name: d.Name}
}

// IsSignal reports whether the method is a notification rather than a callable method.
func (d Descriptor) IsSignal() bool {
	return d.Flags.Has(FlagSignal)
}

// IsAutoRefresh reports whether the method is the zero-argument accessor called
// automatically when a node's method set loads.
func (d Descriptor) IsAutoRefresh() bool {
	return d.Name == Get && !d.IsSignal()
}

// SignatureString renders the signature column, including the declared shapes when known.
func (d Descriptor) SignatureString() string {
	if d.ParamShape == "" && d.ResultShape == "" {
		return d.Signature.String()
	}
	return fmt.Sprintf("%s(%s): %s", d.Signature, d.ParamShape, d.ResultShape)
}
