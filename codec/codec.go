// Package codec serializes command envelopes for publication.
//
// The codec in use travels with every message as its AMQP content type, so a
// worker decodes each request with the codec the client picked.
package codec

import "github.com/pkg/errors"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// Content types carried in the message properties.
const (
	ContentTypeJSON   = "application/json"
	ContentTypeBinary = "application/x-mqrpc-binary"
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
	ContentType() string
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ForContentType returns the codec for a message content type.
// An empty content type means JSON.
func ForContentType(contentType string) (Codec, error) {
	switch contentType {
	case "", ContentTypeJSON:
		return &JSONCodec{}, nil
	case ContentTypeBinary:
		return &BinaryCodec{}, nil
	}
	return nil, errors.Errorf("codec: unsupported content type %q", contentType)
}
