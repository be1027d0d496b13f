// Package protocol implements the frame format spoken between a client and a device.
//
// A frame is a fixed 18-byte header followed by a variable-length body. The receiver
// reads the header first to learn the body length, then reads exactly that many bytes.
// The request id lives in the header so a response can be routed to its waiter before
// the body is decoded.
//
// Frame format:
//
//	0      3  4  5  6                 14        18
//	┌──────┬──┬──┬──┬─────────────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   request id    │ bodyLen │    body ...    │
//	│ shv  │01│  │  │     uint64      │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "shv". Non-protocol peers are rejected on the first frame.
const (
	MagicNumber byte = 0x73 // 's'
	MagicByte2  byte = 0x68 // 'h'
	MagicByte3  byte = 0x76 // 'v'
	Version     byte = 0x01
	HeaderSize  int  = 18 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 8 (request id) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame body so a corrupt header cannot force a huge allocation.
	MaxBodyLen uint32 = 64 << 20
)

// MsgType distinguishes request, response and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // client -> device method call
	MsgTypeResponse  MsgType = 1 // device -> client result or error
	MsgTypeHeartbeat MsgType = 2 // keepalive probe, no body
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	RequestID uint64 // matches a response to its request
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
// Callers sharing w between goroutines must serialize calls, otherwise frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) != h.BodyLen {
		return fmt.Errorf("body length %d does not match header %d", len(body), h.BodyLen)
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint64(buf[6:14], h.RequestID)
	binary.BigEndian.PutUint32(buf[14:18], h.BodyLen)

	// One write per frame: a partial frame never reaches the peer between two writes.
	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates magic, version, codec type, message type and body size.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	requestID := binary.BigEndian.Uint64(headerBuf[6:14])
	bodyLen := binary.BigEndian.Uint32(headerBuf[14:18])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body length %d exceeds limit %d", bodyLen, MaxBodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		RequestID: requestID,
		BodyLen:   bodyLen,
	}, body, nil
}
