package codec

import (
	"encoding/binary"
	"mqrpc/message"

	"github.com/pkg/errors"
)

// BinaryCodec lays an envelope out as
//
//	[2 cmdLen][cmd][4 paramsLen][params JSON]
//
// Params stay JSON; only the outer envelope is framed.
type BinaryCodec struct{}

var errShortFrame = errors.New("BinaryCodec: short frame")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	// v must be *Envelope
	env, ok := v.(*message.Envelope)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *message.Envelope")
	}
	if len(env.Cmd) > 0xffff {
		return nil, errors.Errorf("BinaryCodec: command too long (%d bytes)", len(env.Cmd))
	}
	total := 2 + len(env.Cmd) + 4 + len(env.Params)
	buf := make([]byte, total)

	offset := 0
	// Cmd length -- 2 bytes
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(env.Cmd)))
	offset += 2

	// Cmd -- n bytes
	copy(buf[offset:offset+len(env.Cmd)], env.Cmd)
	offset += len(env.Cmd)

	// Params length -- 4 bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(env.Params)))
	offset += 4

	// Params -- n bytes
	copy(buf[offset:], env.Params)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	// v must be *Envelope
	env, ok := v.(*message.Envelope)
	if !ok {
		return errors.New("BinaryCodec: v must be *message.Envelope")
	}

	offset := 0

	// Read Cmd
	if len(data) < offset+2 {
		return errShortFrame
	}
	cmdLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if len(data) < offset+cmdLen+4 {
		return errShortFrame
	}
	env.Cmd = string(data[offset : offset+cmdLen])
	offset += cmdLen

	// Read Params
	paramsLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if len(data) < offset+paramsLen {
		return errShortFrame
	}
	env.Params = make([]byte, paramsLen)
	copy(env.Params, data[offset:offset+paramsLen])

	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func (c *BinaryCodec) ContentType() string {
	return ContentTypeBinary
}
