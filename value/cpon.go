package value

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cpon returns the compact canonical notation of v. A nil Value is written as null.
func Cpon(v Value) string {
	var sb strings.Builder
	writeValue(&sb, v, "", 0)
	return sb.String()
}

// Pretty returns the notation of v with one container element per line,
// nested by indent. Scalars print exactly as in Cpon.
func Pretty(v Value, indent string) string {
	var sb strings.Builder
	writeValue(&sb, v, indent, 0)
	return sb.String()
}

func writeValue(sb *strings.Builder, v Value, indent string, depth int) {
	switch x := v.(type) {
	case nil, Null:
		sb.WriteString("null")
	case Bool:
		sb.WriteString(strconv.FormatBool(bool(x)))
	case Int:
		sb.WriteString(strconv.FormatInt(int64(x), 10))
	case Double:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			sb.WriteString("null")
			return
		}
		sb.WriteString(formatDouble(float64(x)))
	case String:
		sb.WriteString(strconv.Quote(string(x)))
	case Bytes:
		sb.WriteString(`x"`)
		sb.WriteString(hex.EncodeToString(x))
		sb.WriteByte('"')
	case List:
		if len(x) == 0 {
			sb.WriteString("[]")
			return
		}
		sb.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				sb.WriteByte(',')
			}
			newline(sb, indent, depth+1)
			writeValue(sb, item, indent, depth+1)
		}
		newline(sb, indent, depth)
		sb.WriteByte(']')
	case Map:
		if len(x) == 0 {
			sb.WriteString("{}")
			return
		}
		sb.WriteByte('{')
		for i, k := range x.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			newline(sb, indent, depth+1)
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			writeValue(sb, x[k], indent, depth+1)
		}
		newline(sb, indent, depth)
		sb.WriteByte('}')
	case *Error:
		if x == nil {
			sb.WriteString("null")
			return
		}
		sb.WriteString("error")
		writeValue(sb, Map{"code": Int(x.Code), "message": String(x.Message)}, indent, depth)
	default:
		panic(fmt.Sprintf("value: unsupported type %T", v))
	}
}

func newline(sb *strings.Builder, indent string, depth int) {
	if indent == "" {
		return
	}
	sb.WriteByte('\n')
	for i := 0; i < depth; i++ {
		sb.WriteString(indent)
	}
}

// formatDouble keeps a '.' or an exponent in the text so the value parses back as a Double.
func formatDouble(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
