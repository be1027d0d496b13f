package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"shvattr/message"
)

// BinaryCodec writes the envelope as length-prefixed fields, big-endian:
//
//	path (2+n) | method (2+n) | access (1) | errorCode (4) | error (2+n) | payload (4+n)
type BinaryCodec struct{}

var errShortBody = errors.New("BinaryCodec: body too short")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	// v must be *RPCMessage
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *RPCMessage")
	}
	for name, s := range map[string]string{"path": msg.Path, "method": msg.Method, "error": msg.Error} {
		if len(s) > 0xffff {
			return nil, fmt.Errorf("BinaryCodec: %s longer than 65535 bytes", name)
		}
	}
	total := 2 + len(msg.Path) + 2 + len(msg.Method) + 1 + 4 + 2 + len(msg.Error) + 4 + len(msg.Payload)
	buf := make([]byte, 0, total)

	buf = appendString16(buf, msg.Path)
	buf = appendString16(buf, msg.Method)
	buf = append(buf, msg.Access)
	buf = binary.BigEndian.AppendUint32(buf, uint32(msg.ErrorCode))
	buf = appendString16(buf, msg.Error)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)
	return buf, nil
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	// v must be *RPCMessage
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errors.New("BinaryCodec: v must be *RPCMessage")
	}

	r := reader{data: data}
	msg.Path = r.str16()
	msg.Method = r.str16()
	msg.Access = r.u8()
	msg.ErrorCode = int32(r.u32())
	msg.Error = r.str16()
	n := r.u32()
	msg.Payload = r.raw(int(n))
	if r.err != nil {
		return r.err
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks the body; the first short read sticks in err and later reads return zero values.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = errShortBody
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) str16() string {
	b := r.take(2)
	if b == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(b))))
}

func (r *reader) raw(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
