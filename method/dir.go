package method

import (
	"fmt"
	"shvattr/value"
)

// Keys of a dir entry.
const (
	keyName      = "name"
	keySignature = "signature"
	keyFlags     = "flags"
	keyAccess    = "access"
	keyParam     = "param"
	keyResult    = "result"
)

// ToDir encodes descriptors as a dir result.
func ToDir(ds []Descriptor) value.Value {
	list := make(value.List, 0, len(ds))
	for _, d := range ds {
		m := value.Map{
			keyName:      value.String(d.Name),
			keySignature: value.Int(d.Signature),
			keyFlags:     value.Int(d.Flags),
			keyAccess:    value.String(d.Access.String()),
		}
		if d.ParamShape != "" {
			m[keyParam] = value.String(d.ParamShape)
		}
		if d.ResultShape != "" {
			m[keyResult] = value.String(d.ResultShape)
		}
		list = append(list, m)
	}
	return list
}

// FromDir decodes a dir result for the node at path. Entries keep their order.
// A plain string entry is accepted as a method name with default metadata.
func FromDir(path string, v value.Value) ([]Descriptor, error) {
	list, ok := v.(value.List)
	if !ok {
		return nil, fmt.Errorf("method: dir result must be a List, got %s", kindOf(v))
	}
	ds := make([]Descriptor, 0, len(list))
	for i, item := range list {
		d := Descriptor{Path: path, Access: Read}
		switch e := item.(type) {
		case value.String:
			d.Name = string(e)
		case value.Map:
			name, ok := e[keyName].(value.String)
			if !ok || name == "" {
				return nil, fmt.Errorf("method: dir entry %d has no name", i)
			}
			d.Name = string(name)
			if n, ok := e[keySignature].(value.Int); ok {
				d.Signature = Signature(n)
			}
			if n, ok := e[keyFlags].(value.Int); ok {
				d.Flags = Flags(n)
			}
			if s, ok := e[keyAccess].(value.String); ok {
				al, err := ParseAccessLevel(string(s))
				if err != nil {
					return nil, fmt.Errorf("method: dir entry %q: %w", d.Name, err)
				}
				d.Access = al
			}
			if s, ok := e[keyParam].(value.String); ok {
				d.ParamShape = string(s)
			}
			if s, ok := e[keyResult].(value.String); ok {
				d.ResultShape = string(s)
			}
		default:
			return nil, fmt.Errorf("method: dir entry %d must be a Map, got %s", i, kindOf(item))
		}
		ds = append(ds, d)
	}
	return ds, nil
}

func kindOf(v value.Value) string {
	if v == nil {
		return "nothing"
	}
	return v.Kind().String()
}
