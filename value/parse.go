package value

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// ParseError reports malformed notation and the byte offset where parsing stopped.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("value: parse error at offset %d: %s", e.Offset, e.Msg)
}

// Parse reads one value in textual notation. Surrounding whitespace is ignored;
// any other trailing text is an error.
func Parse(text string) (Value, error) {
	p := &parser{src: text}
	p.skipSpace()
	v, err := p.parseValue(0)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected trailing text %q", p.rest(16))
	}
	return v, nil
}

// MustParse is Parse for literals known to be valid; it panics otherwise.
func MustParse(text string) Value {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

const maxDepth = 256

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) rest(n int) string {
	end := p.pos + n
	if end > len(p.src) {
		end = len(p.src)
	}
	return p.src[p.pos:end]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) consumeWord(w string) bool {
	if len(p.src)-p.pos < len(w) || p.src[p.pos:p.pos+len(w)] != w {
		return false
	}
	end := p.pos + len(w)
	if end < len(p.src) && isIdent(p.src[end]) {
		return false
	}
	p.pos = end
	return true
}

func isIdent(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func (p *parser) parseValue(depth int) (Value, error) {
	if depth > maxDepth {
		return nil, p.errorf("nesting deeper than %d", maxDepth)
	}
	switch c := p.peek(); {
	case c == 0:
		return nil, p.errorf("unexpected end of input")
	case c == '"':
		s, err := p.parseString()
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case c == '[':
		return p.parseList(depth)
	case c == '{':
		return p.parseMap(depth)
	case c == '-' || c >= '0' && c <= '9':
		return p.parseNumber()
	case c == 'x' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '"':
		return p.parseBytes()
	case p.consumeWord("null"):
		return Null{}, nil
	case p.consumeWord("true"):
		return Bool(true), nil
	case p.consumeWord("false"):
		return Bool(false), nil
	case p.consumeWord("error"):
		return p.parseError(depth)
	}
	return nil, p.errorf("unexpected input %q", p.rest(16))
}

// parseString scans a Go-quoted literal and unquotes it.
func (p *parser) parseString() (string, error) {
	start := p.pos
	i := p.pos + 1
	for i < len(p.src) {
		switch p.src[i] {
		case '\\':
			i += 2
			continue
		case '"':
			s, err := strconv.Unquote(p.src[start : i+1])
			if err != nil {
				return "", p.errorf("invalid string literal: %v", err)
			}
			p.pos = i + 1
			return s, nil
		}
		i++
	}
	return "", p.errorf("unterminated string")
}

func (p *parser) parseBytes() (Value, error) {
	p.pos++ // x
	start := p.pos
	s, err := p.parseString()
	if err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		p.pos = start
		return nil, p.errorf("invalid hex bytes: %v", err)
	}
	return Bytes(b), nil
}

func (p *parser) parseNumber() (Value, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	isDouble := false
	for p.pos < len(p.src) && p.numberChar(p.src[p.pos]) {
		if c := p.src[p.pos]; c == '.' || c == 'e' || c == 'E' {
			isDouble = true
		}
		p.pos++
	}
	text := p.src[start:p.pos]
	if isDouble {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.pos = start
			return nil, p.errorf("invalid double %q", text)
		}
		return Double(f), nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		p.pos = start
		return nil, p.errorf("invalid int %q", text)
	}
	return Int(n), nil
}

func (p *parser) numberChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c == '.', c == 'e', c == 'E':
		return true
	case c == '+' || c == '-':
		prev := p.src[p.pos-1]
		return prev == 'e' || prev == 'E'
	}
	return false
}

func (p *parser) parseList(depth int) (Value, error) {
	p.pos++ // [
	list := List{}
	for {
		p.skipSpace()
		if p.peek() == ']' {
			p.pos++
			return list, nil
		}
		item, err := p.parseValue(depth + 1)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
		default:
			return nil, p.errorf("expected ',' or ']'")
		}
	}
}

func (p *parser) parseMap(depth int) (Value, error) {
	p.pos++ // {
	m := Map{}
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return m, nil
		}
		if p.peek() != '"' {
			return nil, p.errorf("expected string key")
		}
		key, err := p.parseString()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, p.errorf("expected ':' after key %q", key)
		}
		p.pos++
		p.skipSpace()
		item, err := p.parseValue(depth + 1)
		if err != nil {
			return nil, err
		}
		if _, dup := m[key]; dup {
			return nil, p.errorf("duplicate key %q", key)
		}
		m[key] = item
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			return nil, p.errorf("expected ',' or '}'")
		}
	}
}

// parseError reads the body of error{"code":N,"message":"..."}.
func (p *parser) parseError(depth int) (Value, error) {
	p.skipSpace()
	start := p.pos
	if p.peek() != '{' {
		return nil, p.errorf("expected '{' after error")
	}
	v, err := p.parseMap(depth)
	if err != nil {
		return nil, err
	}
	m := v.(Map)
	code, ok := m["code"].(Int)
	if !ok {
		p.pos = start
		return nil, p.errorf("error shape needs an Int code")
	}
	msg, ok := m["message"].(String)
	if !ok {
		p.pos = start
		return nil, p.errorf("error shape needs a String message")
	}
	if len(m) != 2 {
		p.pos = start
		return nil, p.errorf("error shape takes only code and message")
	}
	return &Error{Code: ErrorCode(code), Message: string(msg)}, nil
}
