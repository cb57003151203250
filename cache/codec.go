package cache

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/saiset-co/sai-shield/types"
)

const (
	encodingRaw    byte = 0x00
	encodingBrotli byte = 0x01
)

// encode prefixes the payload with a one-byte envelope tag and compresses
// payloads above threshold. Compression that does not shrink the payload is
// discarded.
func encode(value []byte, threshold int) ([]byte, error) {
	if threshold <= 0 || len(value) < threshold {
		return append([]byte{encodingRaw}, value...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(encodingBrotli)

	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(value); err != nil {
		return nil, types.WrapError(err, "brotli write failed")
	}
	if err := w.Close(); err != nil {
		return nil, types.WrapError(err, "brotli close failed")
	}

	if buf.Len() >= len(value)+1 {
		return append([]byte{encodingRaw}, value...), nil
	}

	return buf.Bytes(), nil
}

func decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, types.ErrCacheEntryCorrupted
	}

	tag, payload := stored[0], stored[1:]

	switch tag {
	case encodingRaw:
		return payload, nil
	case encodingBrotli:
		r := brotli.NewReader(bytes.NewReader(payload))
		value, err := io.ReadAll(r)
		if err != nil {
			return nil, types.WrapError(types.ErrCacheEntryCorrupted, "brotli read failed")
		}
		return value, nil
	default:
		return nil, types.Errorf(types.ErrCacheEntryCorrupted, "unknown encoding tag 0x%02x", tag)
	}
}
